package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus is the delivery status of a dispatch job.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobSending   JobStatus = "SENDING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"

	// JobNotFound is only ever returned to callers; it is never stored.
	JobNotFound JobStatus = "NOT_FOUND"
)

// ParseJobStatus parses a case-insensitive status name.
func ParseJobStatus(s string) (JobStatus, error) {
	switch status := JobStatus(strings.ToUpper(strings.TrimSpace(s))); status {
	case JobQueued, JobSending, JobCompleted, JobFailed:
		return status, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

// IsTerminal reports whether the job can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// QUEUED may go to SENDING or straight to a terminal status; SENDING only to a terminal status.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobQueued:
		return next == JobSending || next == JobCompleted || next == JobFailed
	case JobSending:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// DispatchJob is one outbound message send triggered by entering a MESSAGE node.
type DispatchJob struct {
	JobID            string    `json:"job_id"`
	CustomerID       string    `json:"customer_id"`
	JourneyID        string    `json:"journey_id"`
	NodeID           string    `json:"node_id"`
	Channel          string    `json:"channel"`
	TemplateID       string    `json:"template_id"`
	Status           JobStatus `json:"status"`
	CorrelationKey   string    `json:"correlation_key,omitempty"`
	CorrelationValue string    `json:"correlation_value,omitempty"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ApplyStatus moves the job to next. Reporting the current terminal status again is a no-op.
func (j *DispatchJob) ApplyStatus(next JobStatus, reason string, at time.Time) error {
	if j.Status == next && next.IsTerminal() {
		return nil
	}
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidJobTransition, j.Status, next)
	}
	j.Status = next
	if reason != "" {
		j.Error = reason
	}
	j.UpdatedAt = at
	return nil
}
