// Package metrics holds the metric names and tag conventions for job lifecycle events.
package metrics

import (
	"time"

	obserrors "github.com/target/recordflow/internal/observability/errors"
	"github.com/target/recordflow/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultConflict = "conflict"
	ResultNoop     = "noop"
)

// Metric names.
const (
	JobTransition     = "job.transition"
	JobDuration       = "job.duration"
	JobAttemptFailed  = "job.attempt_failed"
	AuditWriteFailure = "audit.write_failure"
	CallbackDelivery  = "callback.delivery"
	ReaperExpired     = "reaper.lease_expired"
	JobExecution      = "job.execution"
)

// JobMetric captures one lifecycle transition attempt.
type JobMetric struct {
	Kind       string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits the transition counter and, when known, the duration timing.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"kind":       in.Kind,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count(JobTransition, 1, tags)
	if in.Duration > 0 {
		sink.Timing(JobDuration, in.Duration, CloneTags(tags))
	}
}

// EmitCount increments name by one with kind and any extra tags.
func EmitCount(sink statsd.Sink, name, kind string, extra map[string]string) {
	if sink == nil {
		return
	}
	tags := CloneTags(extra)
	if tags == nil {
		tags = make(map[string]string, 1)
	}
	tags["kind"] = kind
	sink.Count(name, 1, tags)
}

// EmitExecution records the wall time a dispatcher spent on one claimed job.
func EmitExecution(sink statsd.Sink, kind, outcome string, d time.Duration) {
	if sink == nil {
		return
	}
	sink.Timing(JobExecution, d, map[string]string{"kind": kind, "outcome": outcome})
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
