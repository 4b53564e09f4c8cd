package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/recordflow/internal/observability/statsd"
)

func TestEmitJobLifecycle(t *testing.T) {
	var rec statsd.Recorder
	EmitJobLifecycle(&rec, JobMetric{
		Kind:       "import",
		Transition: "fail",
		Result:     ResultError,
		Duration:   2 * time.Second,
		Err:        errors.New("boom"),
	})

	samples := rec.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, JobTransition, samples[0].Name)
	assert.Equal(t, "import", samples[0].Tags["kind"])
	assert.Equal(t, "errors_errorstring", samples[0].Tags["error_class"])
	assert.Equal(t, JobDuration, samples[1].Name)
	assert.InDelta(t, 2000.0, samples[1].Value, 0.001)
}

func TestEmitJobLifecycleNilSink(t *testing.T) {
	assert.NotPanics(t, func() {
		EmitJobLifecycle(nil, JobMetric{Kind: "transfer"})
		EmitCount(nil, AuditWriteFailure, "transfer", nil)
	})
}

func TestEmitCount(t *testing.T) {
	var rec statsd.Recorder
	EmitCount(&rec, AuditWriteFailure, "transfer", map[string]string{"transition": "start"})
	EmitCount(&rec, AuditWriteFailure, "import", nil)

	assert.Equal(t, int64(2), rec.CountTotal(AuditWriteFailure))
	assert.Equal(t, "start", rec.Samples()[0].Tags["transition"])
}
