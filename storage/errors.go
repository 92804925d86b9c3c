package storage

import "errors"

var (
	// ErrDuplicateIncident is returned by Create when the id already exists
	ErrDuplicateIncident = errors.New("incident already exists")

	// ErrInvalidEnforcementKind is returned for an enforcement kind outside the four sets
	ErrInvalidEnforcementKind = errors.New("invalid enforcement kind")

	// ErrDedupUnavailable is returned when the shared dedup backend cannot be reached
	ErrDedupUnavailable = errors.New("dedup backend unavailable")
)
