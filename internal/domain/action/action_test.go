package action

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/recordflow/internal/domain/model"
	obserrors "github.com/target/recordflow/internal/observability/errors"
)

func TestClassification(t *testing.T) {
	base := errors.New("connection reset by peer")

	tests := []struct {
		name        string
		err         error
		recoverable bool
		class       string
	}{
		{"recoverable", Recoverable(base), true, "action_recoverable"},
		{"unrecoverable", Unrecoverable(base), false, "action_unrecoverable"},
		{"wrapped recoverable", fmt.Errorf("fetch: %w", Recoverable(base)), true, "action_recoverable"},
		{"outermost class wins", Unrecoverable(Recoverable(base)), false, "action_unrecoverable"},
		{"formatted", Recoverablef("status %d", 503), true, "action_recoverable"},
		{"unclassified", base, false, "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.recoverable, IsRecoverable(tt.err))
			assert.Equal(t, tt.class, obserrors.Classify(tt.err))
		})
	}

	assert.ErrorIs(t, Recoverable(base), base)
	assert.NoError(t, Recoverable(nil))
	assert.NoError(t, Unrecoverable(nil))
	assert.False(t, IsRecoverable(nil))
	assert.Equal(t, ClassUnrecoverable, ClassOf(base))
}

func TestFunc(t *testing.T) {
	called := false
	var a Action = Func(func(_ context.Context, job *model.Job, _ Progress) (Outcome, error) {
		called = true
		return Outcome{Message: "done " + job.ID}, nil
	})

	out, err := a.Execute(context.Background(), &model.Job{ID: "job-1"}, nil)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "done job-1", out.Message)
}
