package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/target/recordflow/internal/adapters/bus"
	"github.com/target/recordflow/internal/domain/model"
)

func runEventsTail(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("events-tail", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	kind := fs.String("kind", "", "Only show events of this job kind (transfer or import)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	k := model.JobKind(strings.ToLower(strings.TrimSpace(*kind)))
	if k != "" && !k.Valid() {
		return fmt.Errorf("--kind must be transfer or import (got %q)", *kind)
	}

	natsCfg := cmdCtx.Config.NATS
	if !natsCfg.Enabled() {
		return errors.New("NATS_URL is not set")
	}
	client, err := bus.Connect(bus.Options{
		URL:            natsCfg.URL,
		Name:           natsCfg.Name + "-admin",
		SubjectPrefix:  natsCfg.SubjectPrefix,
		ConnectTimeout: natsCfg.ConnectTimeout,
		Logger:         cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmdCtx.Logger.Info("tailing job events", "prefix", natsCfg.SubjectPrefix, "kind", k)
	return client.Tail(ctx, k, func(event model.JobEvent) {
		if writeErr := printEvent(os.Stdout, event); writeErr != nil {
			cmdCtx.Logger.Warn("print event failed", "error", writeErr)
		}
	})
}

func printEvent(w io.Writer, e model.JobEvent) error {
	from := string(e.FromStatus)
	if from == "" {
		from = "-"
	}
	return writef(w, "%s %-8s %s %-10s %s -> %s v%d actor=%s\n",
		e.OccurredAt.UTC().Format(time.RFC3339), e.Kind, e.JobID, e.Transition, from, e.ToStatus, e.Version, e.Actor)
}
