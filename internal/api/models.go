package api

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"journey-engine/internal/config"
	"journey-engine/internal/domain"
	"journey-engine/internal/service"
)

// ErrorResponse represents an error response. Data carries whatever was
// already committed when a request failed part way.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// SuccessResponse represents a success response.
type SuccessResponse struct {
	Data any `json:"data"`
}

// EventRequest is an inbound customer event. Event maps one or more event
// names to their payloads.
type EventRequest struct {
	CorrelationKey   string         `json:"correlationKey"`
	CorrelationValue string         `json:"correlationValue"`
	EventID          string         `json:"eventId,omitempty"`
	Event            map[string]any `json:"event"`
}

// Validate checks if the event request is valid.
func (r *EventRequest) Validate() error {
	if r.CorrelationKey == "" {
		return errors.New("correlationKey is required")
	}
	if r.CorrelationValue == "" {
		return errors.New("correlationValue is required")
	}
	if len(r.Event) == 0 {
		return errors.New("event is required")
	}
	for name := range r.Event {
		if strings.TrimSpace(name) == "" {
			return errors.New("event names must not be empty")
		}
	}
	return nil
}

// Events expands the request into one event per name, in name order. With
// several names a caller-supplied id is suffixed with the name so each stays
// unique. Non-object payloads are kept under "value".
func (r *EventRequest) Events() []domain.Event {
	names := make([]string, 0, len(r.Event))
	for name := range r.Event {
		names = append(names, name)
	}
	sort.Strings(names)

	events := make([]domain.Event, 0, len(names))
	for _, name := range names {
		id := r.EventID
		if id != "" && len(names) > 1 {
			id = fmt.Sprintf("%s:%s", id, name)
		}

		var payload map[string]any
		switch v := r.Event[name].(type) {
		case map[string]any:
			payload = v
		case nil:
		default:
			payload = map[string]any{"value": v}
		}

		events = append(events, domain.Event{
			ID:               id,
			Name:             name,
			CorrelationKey:   r.CorrelationKey,
			CorrelationValue: r.CorrelationValue,
			Payload:          payload,
		})
	}
	return events
}

// EventResponse summarises what an event request caused.
type EventResponse struct {
	AdvancedCustomers []string                `json:"advancedCustomers"`
	JobIDs            []string                `json:"jobIds"`
	Results           []*service.IngestResult `json:"results"`
}

// JobStatusRequest asks for the status of one job.
type JobStatusRequest struct {
	JobID string `json:"jobId"`
}

// Validate checks if the job status request is valid.
func (r *JobStatusRequest) Validate() error {
	if r.JobID == "" {
		return errors.New("jobId is required")
	}
	return nil
}

// JobStatusResponse reports a job's status.
type JobStatusResponse struct {
	JobID  string           `json:"jobId"`
	Status domain.JobStatus `json:"status"`
}

// StatusReport is a channel adapter's delivery callback.
type StatusReport struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	parsed domain.JobStatus
}

// Validate checks the status name.
func (r *StatusReport) Validate() error {
	if r.Status == "" {
		return errors.New("status is required")
	}
	status, err := domain.ParseJobStatus(r.Status)
	if err != nil {
		return err
	}
	r.parsed = status
	return nil
}

// ActivateRequest activates a journey with an optional inline definition.
type ActivateRequest struct {
	JourneyID  string                    `json:"journeyId"`
	Definition *config.JourneyDefinition `json:"definition,omitempty"`
	Members    []string                  `json:"members"`
}

// Validate checks if the activation request is valid.
func (r *ActivateRequest) Validate() error {
	if r.JourneyID == "" && r.Definition != nil {
		r.JourneyID = r.Definition.Journey.ID
	}
	if r.JourneyID == "" {
		return errors.New("journeyId is required")
	}
	return nil
}

// EnrollRequest enrolls customers into an active journey.
type EnrollRequest struct {
	CustomerIDs []string `json:"customerIds"`
}

// Validate checks if the enroll request is valid.
func (r *EnrollRequest) Validate() error {
	if len(r.CustomerIDs) == 0 {
		return errors.New("customerIds is required")
	}
	return nil
}

// CustomerRequest upserts a customer's identities and attributes.
type CustomerRequest struct {
	ID         string            `json:"id"`
	Identities map[string]string `json:"identities"`
	Attributes map[string]any    `json:"attributes"`
}

// Validate checks if the customer request is valid.
func (r *CustomerRequest) Validate() error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	return nil
}
