package sync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the kind of result of one attempt
type Status int

const (
	StatusSuccess Status = iota
	StatusNoChanges
	StatusConflicts
	StatusError
	StatusTimedOut
	// StatusSkipped means the tick found an abandoned attempt still running.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNoChanges:
		return "no-changes"
	case StatusConflicts:
		return "conflicts-detected"
	case StatusError:
		return "error"
	case StatusTimedOut:
		return "timed-out"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of one attempt. Conflicts is set for
// StatusConflicts, Err for every failed status.
type Outcome struct {
	Status    Status
	Conflicts []string
	Err       error
}

// Success is an attempt that changed local or remote history.
func Success() Outcome { return Outcome{Status: StatusSuccess} }

// NoChanges is an attempt that found nothing to commit, integrate or push.
func NoChanges() Outcome { return Outcome{Status: StatusNoChanges} }

// Skipped is a tick that did not start an attempt.
func Skipped() Outcome { return Outcome{Status: StatusSkipped} }

// TimedOut is an attempt abandoned at its deadline.
func TimedOut(deadline time.Duration) Outcome {
	return Outcome{
		Status: StatusTimedOut,
		Err:    fmt.Errorf("attempt did not finish within %s: %w", deadline, context.DeadlineExceeded),
	}
}

// Failure classifies err: conflicts and deadline errors get their own status,
// everything else is StatusError.
func Failure(err error) Outcome {
	var ce *ConflictError
	switch {
	case errors.As(err, &ce):
		return Outcome{Status: StatusConflicts, Conflicts: ce.Paths, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return Outcome{Status: StatusTimedOut, Err: err}
	default:
		return Outcome{Status: StatusError, Err: err}
	}
}

// Failed reports whether the outcome should be reported as a failure.
func (o Outcome) Failed() bool {
	switch o.Status {
	case StatusSuccess, StatusNoChanges, StatusSkipped:
		return false
	default:
		return true
	}
}
