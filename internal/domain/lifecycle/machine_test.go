package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/recordflow/internal/domain/model"
)

func TestNext_Table(t *testing.T) {
	tests := []struct {
		name    string
		kind    model.JobKind
		from    model.JobStatus
		via     Transition
		want    model.JobStatus
		wantErr error
	}{
		{"transfer start", model.JobKindTransfer, model.JobStatusPending, Start, model.JobStatusProcessing, nil},
		{"transfer succeed", model.JobKindTransfer, model.JobStatusProcessing, Succeed, model.JobStatusCompleted, nil},
		{"transfer fail", model.JobKindTransfer, model.JobStatusProcessing, Fail, model.JobStatusFailed, nil},
		{"transfer cancel pending", model.JobKindTransfer, model.JobStatusPending, Cancel, "", ErrInvalidTransition},
		{"transfer cancel processing", model.JobKindTransfer, model.JobStatusProcessing, Cancel, "", ErrInvalidTransition},
		{"import cancel pending", model.JobKindImport, model.JobStatusPending, Cancel, model.JobStatusCancelled, nil},
		{"import cancel processing", model.JobKindImport, model.JobStatusProcessing, Cancel, model.JobStatusCancelled, nil},
		{"succeed from pending", model.JobKindImport, model.JobStatusPending, Succeed, "", ErrInvalidTransition},
		{"fail from pending", model.JobKindImport, model.JobStatusPending, Fail, "", ErrInvalidTransition},
		{"start twice", model.JobKindImport, model.JobStatusProcessing, Start, "", ErrInvalidTransition},
		{"unknown transition", model.JobKindImport, model.JobStatusPending, Transition("resume"), "", ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.kind, tt.from, tt.via)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_TerminalStatesRejectEverything(t *testing.T) {
	terminal := []model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled}
	for _, kind := range model.AllJobKinds() {
		for _, from := range terminal {
			for _, via := range []Transition{Start, Succeed, Fail, Cancel} {
				_, err := Next(kind, from, via)
				require.ErrorIs(t, err, ErrTerminalState, "%s %s %s", kind, from, via)
				assert.NotErrorIs(t, err, ErrInvalidTransition)

				var terr *TransitionError
				require.ErrorAs(t, err, &terr)
				assert.Equal(t, from, terr.From)
				assert.Equal(t, via, terr.Transition)
			}
		}
	}
}

func TestNext_NeverRegresses(t *testing.T) {
	rank := map[model.JobStatus]int{
		model.JobStatusPending:    0,
		model.JobStatusProcessing: 1,
		model.JobStatusCompleted:  2,
		model.JobStatusFailed:     2,
		model.JobStatusCancelled:  2,
	}
	for _, kind := range model.AllJobKinds() {
		for from := range rank {
			for _, via := range []Transition{Start, Succeed, Fail, Cancel} {
				to, err := Next(kind, from, via)
				if err != nil {
					continue
				}
				assert.Greater(t, rank[to], rank[from], "%s: %s -%s-> %s", kind, from, via, to)
			}
		}
	}
}

func TestAllowed(t *testing.T) {
	assert.Equal(t, []Transition{Start}, Allowed(model.JobKindTransfer, model.JobStatusPending))
	assert.Equal(t, []Transition{Start, Cancel}, Allowed(model.JobKindImport, model.JobStatusPending))
	assert.Equal(t, []Transition{Succeed, Fail, Cancel}, Allowed(model.JobKindImport, model.JobStatusProcessing))
	assert.Empty(t, Allowed(model.JobKindImport, model.JobStatusCancelled))
}

func TestTransitionError_Message(t *testing.T) {
	_, err := Next(model.JobKindTransfer, model.JobStatusPending, Cancel)
	require.Error(t, err)
	assert.Equal(t, "invalid transition: transfer job cannot cancel from PENDING", err.Error())
}
