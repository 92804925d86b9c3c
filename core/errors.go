package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any NotFoundError via errors.Is
	ErrNotFound = errors.New("not found")
	// ErrInvalidState matches any InvalidStateError via errors.Is
	ErrInvalidState = errors.New("invalid state")
)

// NotFoundError is returned for an unknown incident identifier.
type NotFoundError struct {
	IncidentID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("incident %s not found", e.IncidentID)
}

// Is makes errors.Is(err, ErrNotFound) work
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InvalidStateError is returned when an operation is not valid for the
// incident's current stage.
type InvalidStateError struct {
	IncidentID string
	Stage      Stage
	Op         string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s incident %s in stage %s", e.Op, e.IncidentID, e.Stage)
}

// Is makes errors.Is(err, ErrInvalidState) work
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// StageFailure wraps an error raised while a stage was doing its work.
type StageFailure struct {
	Stage Stage
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error {
	return e.Err
}

// PartialActionFailure reports that some actions failed while execution
// still completed. It is recorded on the incident, never fatal.
type PartialActionFailure struct {
	Failed int
	Total  int
}

func (e *PartialActionFailure) Error() string {
	return fmt.Sprintf("%d of %d actions failed", e.Failed, e.Total)
}
