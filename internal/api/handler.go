package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"journey-engine/internal/domain"
	"journey-engine/internal/graph"
	"journey-engine/internal/service"
)

// Service is the engine surface exposed over HTTP.
type Service interface {
	Ingest(ctx context.Context, event domain.Event) (*service.IngestResult, error)
	GetJob(ctx context.Context, jobID string) (*domain.DispatchJob, error)
	GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error)
	ReportStatus(ctx context.Context, jobID string, status domain.JobStatus, reason string) error
	Activate(ctx context.Context, req service.ActivationRequest) (*service.ActivationResult, error)
	Deactivate(ctx context.Context, journeyID string) error
	Enroll(ctx context.Context, journeyID string, customerIDs []string) (*service.EnrollResult, error)
	Stats(ctx context.Context, journeyID string) (*service.JourneyStats, error)
	CustomerJourney(ctx context.Context, journeyID, customerID string) (*service.CustomerView, error)
	UpsertCustomer(ctx context.Context, customer domain.Customer) error
}

// Response is a reply before it is written by a transport.
type Response struct {
	Status int
	Body   any
}

func success(status int, data any) Response {
	return Response{Status: status, Body: SuccessResponse{Data: data}}
}

func failure(status int, message string) Response {
	return Response{Status: status, Body: ErrorResponse{Error: http.StatusText(status), Message: message}}
}

// Handler implements the API operations independently of the transport.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var graphErr *graph.GraphError
	var cfgErr *domain.ConfigError
	switch {
	case errors.As(err, &graphErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &cfgErr), errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJourneyInactive),
		errors.Is(err, domain.ErrInvalidJobTransition),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrQueueSaturated):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(op string, err error) Response {
	status := statusFor(err)
	if status >= 500 {
		h.logger.Error("request failed", "op", op, "error", err)
		return failure(status, "internal error")
	}
	h.logger.Warn("request rejected", "op", op, "status", status, "error", err)
	return failure(status, err.Error())
}

// failPartial is fail with the work committed before err attached.
func (h *Handler) failPartial(op string, err error, partial any) Response {
	resp := h.fail(op, err)
	if body, ok := resp.Body.(ErrorResponse); ok {
		body.Data = partial
		resp.Body = body
	}
	return resp
}

// decode parses body into v and validates it.
func (h *Handler) decode(body []byte, v interface{ Validate() error }) (Response, bool) {
	if err := json.Unmarshal(body, v); err != nil {
		h.logger.Warn("invalid request body", "error", err)
		return failure(http.StatusBadRequest, "invalid request body"), false
	}
	if err := v.Validate(); err != nil {
		h.logger.Warn("validation failed", "error", err)
		return failure(http.StatusBadRequest, err.Error()), false
	}
	return Response{}, true
}

// Events handles POST /events.
func (h *Handler) Events(ctx context.Context, body []byte) Response {
	var req EventRequest
	if resp, ok := h.decode(body, &req); !ok {
		return resp
	}

	out := EventResponse{
		AdvancedCustomers: []string{},
		JobIDs:            []string{},
		Results:           []*service.IngestResult{},
	}
	seen := make(map[string]bool)
	add := func(res *service.IngestResult) {
		out.Results = append(out.Results, res)
		out.JobIDs = append(out.JobIDs, res.JobIDs()...)
		for _, id := range res.AdvancedCustomers() {
			if !seen[id] {
				seen[id] = true
				out.AdvancedCustomers = append(out.AdvancedCustomers, id)
			}
		}
	}

	for _, event := range req.Events() {
		res, err := h.svc.Ingest(ctx, event)
		if res != nil {
			add(res)
		}
		if err != nil {
			// Earlier events stay committed; report their jobs with the error.
			if len(out.JobIDs) > 0 || len(out.AdvancedCustomers) > 0 {
				return h.failPartial("ingest", err, out)
			}
			return h.fail("ingest", err)
		}
	}
	return success(http.StatusOK, out)
}

// JobStatus handles POST /events/job-status[/:channel]. A job sent on a
// different channel than the one named is reported as NOT_FOUND.
func (h *Handler) JobStatus(ctx context.Context, channel string, body []byte) Response {
	var req JobStatusRequest
	if resp, ok := h.decode(body, &req); !ok {
		return resp
	}

	if channel == "" {
		status, err := h.svc.GetStatus(ctx, req.JobID)
		if err != nil {
			return h.fail("job status", err)
		}
		return success(http.StatusOK, JobStatusResponse{JobID: req.JobID, Status: status})
	}

	job, err := h.svc.GetJob(ctx, req.JobID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return success(http.StatusOK, JobStatusResponse{JobID: req.JobID, Status: domain.JobNotFound})
	case err != nil:
		return h.fail("job status", err)
	case job.Channel != channel:
		return success(http.StatusOK, JobStatusResponse{JobID: req.JobID, Status: domain.JobNotFound})
	}
	return success(http.StatusOK, JobStatusResponse{JobID: req.JobID, Status: job.Status})
}

// GetJob handles GET /jobs/:id.
func (h *Handler) GetJob(ctx context.Context, jobID string) Response {
	job, err := h.svc.GetJob(ctx, jobID)
	if err != nil {
		return h.fail("get job", err)
	}
	return success(http.StatusOK, job)
}

// ReportJobStatus handles POST /jobs/:id/status.
func (h *Handler) ReportJobStatus(ctx context.Context, jobID string, body []byte) Response {
	var req StatusReport
	if resp, ok := h.decode(body, &req); !ok {
		return resp
	}
	if err := h.svc.ReportStatus(ctx, jobID, req.parsed, req.Error); err != nil {
		return h.fail("report status", err)
	}
	return success(http.StatusOK, map[string]string{"status": "ok"})
}

// Activate handles POST /journeys/activate.
func (h *Handler) Activate(ctx context.Context, body []byte) Response {
	var req ActivateRequest
	if resp, ok := h.decode(body, &req); !ok {
		return resp
	}
	res, err := h.svc.Activate(ctx, service.ActivationRequest{
		JourneyID:  req.JourneyID,
		Definition: req.Definition,
		Members:    req.Members,
	})
	if err != nil {
		if res != nil {
			return h.failPartial("activate", err, res)
		}
		return h.fail("activate", err)
	}
	return success(http.StatusOK, res)
}

// Deactivate handles POST /journeys/:id/deactivate.
func (h *Handler) Deactivate(ctx context.Context, journeyID string) Response {
	if err := h.svc.Deactivate(ctx, journeyID); err != nil {
		return h.fail("deactivate", err)
	}
	return success(http.StatusOK, map[string]string{"status": "ok"})
}

// Enroll handles POST /journeys/:id/enroll.
func (h *Handler) Enroll(ctx context.Context, journeyID string, body []byte) Response {
	var req EnrollRequest
	if resp, ok := h.decode(body, &req); !ok {
		return resp
	}
	res, err := h.svc.Enroll(ctx, journeyID, req.CustomerIDs)
	if err != nil {
		if res != nil && len(res.Enrolled) > 0 {
			return h.failPartial("enroll", err, res)
		}
		return h.fail("enroll", err)
	}
	return success(http.StatusOK, res)
}

// Stats handles GET /journeys/:id/stats.
func (h *Handler) Stats(ctx context.Context, journeyID string) Response {
	stats, err := h.svc.Stats(ctx, journeyID)
	if err != nil {
		return h.fail("stats", err)
	}
	return success(http.StatusOK, stats)
}

// CustomerJourney handles GET /journeys/:id/customers/:customerId.
func (h *Handler) CustomerJourney(ctx context.Context, journeyID, customerID string) Response {
	view, err := h.svc.CustomerJourney(ctx, journeyID, customerID)
	if err != nil {
		return h.fail("customer journey", err)
	}
	return success(http.StatusOK, view)
}

// UpsertCustomer handles POST /customers.
func (h *Handler) UpsertCustomer(ctx context.Context, body []byte) Response {
	var req CustomerRequest
	if resp, ok := h.decode(body, &req); !ok {
		return resp
	}
	err := h.svc.UpsertCustomer(ctx, domain.Customer{
		ID:         req.ID,
		Identities: req.Identities,
		Attributes: req.Attributes,
	})
	if err != nil {
		return h.fail("upsert customer", err)
	}
	return success(http.StatusOK, map[string]string{"status": "ok"})
}
