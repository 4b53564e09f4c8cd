package statsd

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestQualify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix, name, want string
	}{
		{"recordflow", "job.transition", "recordflow.job.transition"},
		{"", " job/metric ", "job_metric"},
		{"recordflow", "foo..bar", "recordflow.foo.bar"},
		{"recordflow", "   ", ""},
		{"", "multi  space", "multi__space"},
	}
	for _, tt := range tests {
		if got := qualify(tt.prefix, tt.name); got != tt.want {
			t.Fatalf("qualify(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}

func TestRenderTags(t *testing.T) {
	t.Parallel()

	global := map[string]string{"env": "prod", " service ": " recordflow "}
	local := map[string]string{"result": " success ", "": "ignored", "env": "stage"}

	got := renderTags(global, local)
	want := "|#env:stage,result:success,service:recordflow"
	if got != want {
		t.Fatalf("renderTags mismatch\n got: %q\nwant: %q", got, want)
	}
	if got := renderTags(nil, nil); got != "" {
		t.Fatalf("renderTags(nil, nil) = %q, want empty string", got)
	}
}

func TestLine(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{Prefix: ".recordflow.", GlobalTags: map[string]string{"env": "test"}})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	got := c.Line("audit.write_failure", "1", "c", map[string]string{"kind": "import"})
	want := "recordflow.audit.write_failure:1|c|#env:test,kind:import"
	if got != want {
		t.Fatalf("Line() = %q, want %q", got, want)
	}
}

func TestClientWritesOverUDP(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp listen unavailable: %v", err)
	}
	defer pc.Close()

	c, err := NewClient(Config{Enabled: true, Address: pc.LocalAddr().String(), Prefix: "rf"})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	defer c.Close()
	if !c.Enabled() {
		t.Fatal("expected client to be enabled")
	}

	c.Timing("job.duration", 1500*time.Millisecond, map[string]string{"kind": "transfer"})

	buf := make([]byte, 512)
	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read packet: %v", err)
	}
	if got := string(buf[:n]); got != "rf.job.duration:1500|ms|#kind:transfer" {
		t.Fatalf("unexpected packet %q", got)
	}
}

func TestClientDisabledAndClose(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Config{Enabled: true, Address: "   "})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if c.Enabled() {
		t.Fatal("expected client to stay disabled when address is empty")
	}
	c.Count("dropped", 1, nil)
	if err := c.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	var nilClient *Client
	if nilClient.Enabled() {
		t.Fatal("nil client should report disabled")
	}
	nilClient.Count("noop", 1, nil)
	if err := nilClient.Close(); err != nil {
		t.Fatalf("nil client Close error: %v", err)
	}
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Enabled: true, Address: "bad address"})
	if err == nil || !strings.Contains(err.Error(), "statsd dial") {
		t.Fatalf("expected statsd dial error, got %v", err)
	}
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	var r Recorder
	r.Count("audit.write_failure", 1, map[string]string{"kind": "import"})
	r.Count("audit.write_failure", 2, nil)
	r.Gauge("jobs.pending", 3, nil)

	if got := r.CountTotal("audit.write_failure"); got != 3 {
		t.Fatalf("CountTotal = %d, want 3", got)
	}
	if got := len(r.Samples()); got != 3 {
		t.Fatalf("expected 3 samples, got %d", got)
	}
}
