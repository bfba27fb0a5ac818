// Package retry classifies channel delivery failures. Only failures that a
// later attempt can plausibly fix are retried; everything else fails the job
// at once.
package retry

import (
	"context"
	"errors"
	"net"
)

// classified is implemented by errors that know their own retry policy, such
// as an HTTP status from a channel endpoint.
type classified interface {
	IsRecoverable() bool
}

// IsRecoverable reports whether delivery should be attempted again after err.
func IsRecoverable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var c classified
	if errors.As(err, &c) {
		return c.IsRecoverable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Dial, reset and read failures below HTTP.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type final struct{ err error }

func (e final) Error() string       { return e.err.Error() }
func (e final) Unwrap() error       { return e.err }
func (e final) IsRecoverable() bool { return false }

// Final marks err as not worth retrying, whatever it wraps.
func Final(err error) error {
	return final{err: err}
}
