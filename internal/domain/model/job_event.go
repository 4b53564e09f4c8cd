package model

import (
	"strings"
	"time"
)

// JobEvent is the lifecycle notification published after every accepted transition.
type JobEvent struct {
	JobID            string    `json:"job_id"`
	Kind             JobKind   `json:"kind"`
	Transition       string    `json:"transition"`
	FromStatus       JobStatus `json:"from_state"`
	ToStatus         JobStatus `json:"to_state"`
	SourceOrgID      string    `json:"source_org_id"`
	DestinationOrgID string    `json:"destination_org_id"`
	Version          int64     `json:"version"`
	Actor            string    `json:"actor"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Subject returns the bus subject for the event, e.g. "recordflow.jobs.import.completed".
func (e JobEvent) Subject(prefix string) string {
	return prefix + "." + string(e.Kind) + "." + strings.ToLower(string(e.ToStatus))
}

// CallbackPayload is POSTed to an import's callback_url once the job is terminal.
type CallbackPayload struct {
	JobID            string    `json:"job_id"`
	Kind             JobKind   `json:"kind"`
	Status           JobStatus `json:"status"`
	RecordsProcessed int       `json:"records_processed"`
	TotalRecords     *int      `json:"total_records,omitempty"`
	Message          string    `json:"message,omitempty"`
}

// CallbackPayload builds the completion callback body for the job.
func (j *Job) CallbackPayload() CallbackPayload {
	p := CallbackPayload{
		JobID:            j.ID,
		Kind:             j.Kind,
		Status:           j.Status,
		RecordsProcessed: j.RecordsProcessed,
		TotalRecords:     j.TotalRecords,
	}
	if j.Message != nil {
		p.Message = *j.Message
	}
	return p
}
