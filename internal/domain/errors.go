package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrTransitionConflict   = errors.New("transition conflict")
	ErrUnknownCorrelation   = errors.New("unknown correlation")
	ErrQueueSaturated       = errors.New("dispatch queue saturated")
	ErrInvalidJobTransition = errors.New("invalid job status transition")
	ErrSchedulerMiss        = errors.New("scheduler miss")
	ErrJourneyInactive      = errors.New("journey inactive")
	ErrInvalidConfig        = errors.New("invalid configuration")
)

// JourneyError represents an error related to journey processing.
type JourneyError struct {
	JourneyID  string
	CustomerID string
	Op         string // operation that failed
	Err        error  // underlying error
}

func (e *JourneyError) Error() string {
	if e.CustomerID != "" {
		return fmt.Sprintf("%s: journey=%s customer=%s: %v", e.Op, e.JourneyID, e.CustomerID, e.Err)
	}
	return fmt.Sprintf("%s: journey=%s: %v", e.Op, e.JourneyID, e.Err)
}

func (e *JourneyError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration-related error.
type ConfigError struct {
	ConfigName string
	Field      string
	Err        error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config %s: field %s: %v", e.ConfigName, e.Field, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.ConfigName, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// DispatchError represents a failure to hand a job to its channel.
type DispatchError struct {
	JobID   string
	Channel string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch: job=%s channel=%s: %v", e.JobID, e.Channel, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
