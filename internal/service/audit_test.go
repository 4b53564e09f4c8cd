package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/recordflow/internal/domain/model"
	"github.com/target/recordflow/internal/mocks"
	"github.com/target/recordflow/internal/observability/metrics"
	"github.com/target/recordflow/internal/observability/notify"
	"github.com/target/recordflow/internal/observability/statsd"
	"github.com/target/recordflow/internal/service/failurenotifier"
	"go.uber.org/mock/gomock"
)

func TestAuditRecorder_Record(t *testing.T) {
	fixed := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	job := &model.Job{ID: "job-1", Kind: model.JobKindTransfer, SourceOrgID: "org-a", DestinationOrgID: "org-b"}

	t.Run("fills defaults", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobRepository(ctrl)
		rec := NewAuditRecorder(AuditRecorderOptions{Repo: repo, Now: func() time.Time { return fixed }})

		repo.EXPECT().AppendAudit(gomock.Any(), model.JobKindTransfer, "job-1", model.AuditEntry{
			Timestamp:  fixed,
			Actor:      model.ActorUnknown,
			Event:      model.AuditEventTransition,
			FromStatus: model.JobStatusPending,
			ToStatus:   model.JobStatusProcessing,
		}).Return(nil)

		err := rec.Record(context.Background(), job, model.AuditEntry{
			FromStatus: model.JobStatusPending,
			ToStatus:   model.JobStatusProcessing,
		})
		require.NoError(t, err)
	})

	t.Run("keeps caller timestamp and actor", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobRepository(ctrl)
		rec := NewAuditRecorder(AuditRecorderOptions{Repo: repo, Now: func() time.Time { return fixed }})
		at := fixed.Add(-time.Hour)

		repo.EXPECT().AppendAudit(gomock.Any(), model.JobKindTransfer, "job-1", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ model.JobKind, _ string, entry model.AuditEntry) error {
				assert.Equal(t, at, entry.Timestamp)
				assert.Equal(t, "dispatcher-7", entry.Actor)
				assert.Equal(t, model.AuditEventAttemptFailed, entry.Event)
				return nil
			})

		require.NoError(t, rec.Record(context.Background(), job, model.AuditEntry{
			Timestamp: at,
			Actor:     "dispatcher-7",
			Event:     model.AuditEventAttemptFailed,
		}))
	})

	t.Run("failure is loud and typed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobRepository(ctrl)
		metricsRec := &statsd.Recorder{}
		sink := &captureSink{}
		rec := NewAuditRecorder(AuditRecorderOptions{
			Repo:    repo,
			Metrics: metricsRec,
			FailureNotifier: failurenotifier.NewService(failurenotifier.Options{
				Sinks: []failurenotifier.SinkRegistration{{Name: "capture", Sink: sink}},
			}),
			Now: func() time.Time { return fixed },
		})

		cause := errors.New("connection refused")
		repo.EXPECT().AppendAudit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(cause)

		err := rec.Record(context.Background(), job, model.AuditEntry{
			Actor:      "worker-1",
			FromStatus: model.JobStatusProcessing,
			ToStatus:   model.JobStatusCompleted,
		})
		require.Error(t, err)

		var failure *AuditWriteFailure
		require.ErrorAs(t, err, &failure)
		require.ErrorIs(t, err, cause)
		assert.Equal(t, "job-1", failure.JobID)
		assert.Equal(t, model.JobKindTransfer, failure.Kind)
		assert.Equal(t, model.JobStatusCompleted, failure.Entry.ToStatus)
		assert.Equal(t, "audit_write_failure", failure.Class())
		assert.Contains(t, err.Error(), "PROCESSING->COMPLETED")

		assert.Equal(t, int64(1), metricsRec.CountTotal(metrics.AuditWriteFailure))
		require.Equal(t, []notify.Signal{notify.SignalAuditWriteFailure}, sink.Signals())
		event := sink.Last()
		assert.Equal(t, "org-a", event.SourceOrgID)
		assert.Equal(t, "worker-1", event.Metadata["actor"])
		assert.Equal(t, fixed, event.OccurredAt)
	})
}
