// Package httpx provides the JSON API for submitting and tracking record transfer and import jobs.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/target/recordflow/internal/domain/model"
	"github.com/target/recordflow/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// AuditStatusHeader is set to "failed" when a change was persisted but not audited.
	AuditStatusHeader = "X-Audit-Status"
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc    *service.JobService
	Logger *slog.Logger
}

// JobAccepted is returned when a job has been queued.
type JobAccepted struct {
	JobID            string          `json:"job_id"`
	Kind             model.JobKind   `json:"kind"`
	Status           model.JobStatus `json:"status"`
	StatusURL        string          `json:"status_url"`
	RecordsProcessed int             `json:"records_processed"`
	TotalRecords     *int            `json:"total_records,omitempty"`
	Message          string          `json:"message"`
}

// JobList is the paginated list response.
type JobList struct {
	Jobs   []*model.Job `json:"jobs"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// ActiveJobs reports how many PENDING or PROCESSING jobs of a kind involve an organization.
type ActiveJobs struct {
	OrganizationID string        `json:"organization_id"`
	Kind           model.JobKind `json:"kind"`
	Active         int           `json:"active"`
}

func statusURL(kind model.JobKind, id string) string {
	return "/api/" + string(kind) + "s/" + id
}

// CreateImport handles POST /api/imports.
func (h *JobHandlers) CreateImport(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, model.JobKindImport)
}

// CreateTransfer handles POST /api/transfers.
func (h *JobHandlers) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, model.JobKindTransfer)
}

func (h *JobHandlers) create(w http.ResponseWriter, r *http.Request, kind model.JobKind) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if req.Kind != "" && req.Kind != kind {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation",
			Err:     errors.New("kind does not match the endpoint"),
			Field:   "kind",
		})
		return
	}
	req.Kind = kind
	if req.CreatedBy == nil || strings.TrimSpace(*req.CreatedBy) == "" {
		actor := actorFromContext(r.Context())
		req.CreatedBy = &actor
	}

	job, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}

	w.Header().Set("Location", statusURL(kind, job.ID))
	WriteJSON(w, http.StatusAccepted, JobAccepted{
		JobID:            job.ID,
		Kind:             job.Kind,
		Status:           job.Status,
		StatusURL:        statusURL(kind, job.ID),
		RecordsProcessed: job.RecordsProcessed,
		TotalRecords:     job.TotalRecords,
		Message:          queuedMessage(kind),
	})
}

func queuedMessage(kind model.JobKind) string {
	if kind == model.JobKindImport {
		return "Import job queued"
	}
	return "Transfer job queued"
}

// GetImport handles GET /api/imports/{id}.
func (h *JobHandlers) GetImport(w http.ResponseWriter, r *http.Request) {
	h.getStatus(w, r, model.JobKindImport)
}

// GetTransfer handles GET /api/transfers/{id}.
func (h *JobHandlers) GetTransfer(w http.ResponseWriter, r *http.Request) {
	h.getStatus(w, r, model.JobKindTransfer)
}

func (h *JobHandlers) getStatus(w http.ResponseWriter, r *http.Request, kind model.JobKind) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("detail") == "true" {
		job, err := h.Svc.Get(r.Context(), kind, id)
		if err != nil {
			writeServiceError(w, r, h.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, job)
		return
	}

	status, err := h.Svc.Status(r.Context(), kind, id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// CancelImport handles POST /api/imports/{id}/cancel.
func (h *JobHandlers) CancelImport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	job, err := h.Svc.Cancel(r.Context(), model.JobKindImport, id, actorFromContext(r.Context()))
	if err != nil && !(job != nil && isAuditFailure(err)) {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if err != nil {
		h.Logger.WarnContext(r.Context(), "cancel persisted without audit entry", "job_id", id, "error", err)
		w.Header().Set(AuditStatusHeader, "failed")
	}
	WriteJSON(w, http.StatusOK, job.StatusResponse())
}

// ListRecordTransfers handles GET /api/records/{id}/transfers.
func (h *JobHandlers) ListRecordTransfers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, _ := ParseLimitOffset(r, defaultListLimit, maxListLimit)

	jobs, err := h.Svc.ListByRecord(r.Context(), id, limit)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, JobList{Jobs: nonNilJobs(jobs), Limit: limit})
}

// ListOrganizationJobs handles GET /api/organizations/{id}/jobs?kind=&status=&limit=&offset=.
func (h *JobHandlers) ListOrganizationJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	kind, ok := requiredKind(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	opts := &model.JobListOptions{
		Kind:           kind,
		OrganizationID: &id,
		Limit:          limit,
		Offset:         offset,
	}
	if raw := q.Get("status"); raw != "" {
		status, err := model.ParseJobStatus(raw)
		if err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation", Err: err, Field: "status"})
			return
		}
		opts.Status = &status
	}

	jobs, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, JobList{Jobs: nonNilJobs(jobs), Limit: limit, Offset: offset})
}

// CountOrganizationActiveJobs handles GET /api/organizations/{id}/jobs/active?kind=.
func (h *JobHandlers) CountOrganizationActiveJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	kind, ok := requiredKind(w, r)
	if !ok {
		return
	}
	n, err := h.Svc.CountActive(r.Context(), kind, id)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, ActiveJobs{OrganizationID: id, Kind: kind, Active: n})
}

func requiredKind(w http.ResponseWriter, r *http.Request) (model.JobKind, bool) {
	kind := model.JobKind(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("kind"))))
	if !kind.Valid() {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation",
			Err:     errors.New("kind must be transfer or import"),
			Field:   "kind",
		})
		return "", false
	}
	return kind, true
}

// Stats handles GET /api/jobs/stats?kind=. Without a kind, stats for every kind are returned.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("kind"))
	kinds := model.AllJobKinds()
	if raw != "" {
		kinds = []model.JobKind{model.JobKind(strings.ToLower(raw))}
	}

	out := make([]*model.JobStats, 0, len(kinds))
	for _, kind := range kinds {
		stats, err := h.Svc.Stats(r.Context(), kind)
		if err != nil {
			writeServiceError(w, r, h.Logger, err)
			return
		}
		out = append(out, stats)
	}
	WriteJSON(w, http.StatusOK, map[string][]*model.JobStats{"stats": out})
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("id is required")},
		)
		return "", false
	}
	return id, true
}

func nonNilJobs(jobs []*model.Job) []*model.Job {
	if jobs == nil {
		return []*model.Job{}
	}
	return jobs
}
