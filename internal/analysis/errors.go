package analysis

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRunNotFound is returned when a run id does not exist (or was deleted).
var ErrRunNotFound = errors.New("analysis run not found")

// ValidationError carries the complete list of constraint violations so the
// caller can present all problems at once. Never retried.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, "; "))
}

// TransportError is an upload, job-start or poll failure (network, server, or
// a remote-reported job failure). Recovered transparently via the fallback
// engine; surfaced to the caller only as an informational notice.
type TransportError struct {
	Stage RunState
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote analysis failed during %s: %v", e.Stage, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError means the poll attempt budget was exhausted without the job
// completing. Treated identically to TransportError by the orchestrator.
type TimeoutError struct {
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("analysis timed out after %d status checks", e.Attempts)
}

// FatalError means the fallback synthesis engine itself faulted. This is the
// only condition that terminates a run with a hard, user-visible failure.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("analysis pipeline fault: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
