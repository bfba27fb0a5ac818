package api

import (
	"context"
	"net/http"
	"strings"
)

type params map[string]string

type route struct {
	method  string
	pattern string
	handle  func(h *Handler, ctx context.Context, p params, body []byte) Response
}

var routes = []route{
	{http.MethodPost, "/events", func(h *Handler, ctx context.Context, _ params, body []byte) Response {
		return h.Events(ctx, body)
	}},
	{http.MethodPost, "/events/job-status", func(h *Handler, ctx context.Context, _ params, body []byte) Response {
		return h.JobStatus(ctx, "", body)
	}},
	{http.MethodPost, "/events/job-status/:channel", func(h *Handler, ctx context.Context, p params, body []byte) Response {
		return h.JobStatus(ctx, p["channel"], body)
	}},
	{http.MethodGet, "/jobs/:id", func(h *Handler, ctx context.Context, p params, _ []byte) Response {
		return h.GetJob(ctx, p["id"])
	}},
	{http.MethodPost, "/jobs/:id/status", func(h *Handler, ctx context.Context, p params, body []byte) Response {
		return h.ReportJobStatus(ctx, p["id"], body)
	}},
	{http.MethodPost, "/journeys/activate", func(h *Handler, ctx context.Context, _ params, body []byte) Response {
		return h.Activate(ctx, body)
	}},
	{http.MethodPost, "/journeys/:id/deactivate", func(h *Handler, ctx context.Context, p params, _ []byte) Response {
		return h.Deactivate(ctx, p["id"])
	}},
	{http.MethodPost, "/journeys/:id/enroll", func(h *Handler, ctx context.Context, p params, body []byte) Response {
		return h.Enroll(ctx, p["id"], body)
	}},
	{http.MethodGet, "/journeys/:id/stats", func(h *Handler, ctx context.Context, p params, _ []byte) Response {
		return h.Stats(ctx, p["id"])
	}},
	{http.MethodGet, "/journeys/:id/customers/:customerId", func(h *Handler, ctx context.Context, p params, _ []byte) Response {
		return h.CustomerJourney(ctx, p["id"], p["customerId"])
	}},
	{http.MethodPost, "/customers", func(h *Handler, ctx context.Context, _ params, body []byte) Response {
		return h.UpsertCustomer(ctx, body)
	}},
}

func segments(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

// match reports whether path fits pattern and extracts its ":name" segments.
func (r route) match(path string) (params, bool) {
	want := segments(r.pattern)
	got := segments(path)
	if len(want) != len(got) {
		return nil, false
	}
	p := params{}
	for i, seg := range want {
		if strings.HasPrefix(seg, ":") {
			if got[i] == "" {
				return nil, false
			}
			p[seg[1:]] = got[i]
			continue
		}
		if seg != got[i] {
			return nil, false
		}
	}
	return p, true
}

// Dispatch finds the route for method and path and runs it.
func (h *Handler) Dispatch(ctx context.Context, method, path string, body []byte) Response {
	pathMatched := false
	for _, r := range routes {
		p, ok := r.match(path)
		if !ok {
			continue
		}
		if r.method != method {
			pathMatched = true
			continue
		}
		return r.handle(h, ctx, p, body)
	}

	h.logger.Warn("route not found", "path", path, "method", method)
	if pathMatched {
		return failure(http.StatusMethodNotAllowed, "method not allowed")
	}
	return failure(http.StatusNotFound, "route not found")
}
