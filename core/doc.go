// Package core defines the domain model shared by every guardian package.
//
// It provides:
//   - Incident and its stage machine (Stage, Decision)
//   - Indicator classification and normalization
//   - Actions, action results and the enforcement sets
//   - Broadcast events
//   - Typed errors (NotFoundError, InvalidStateError, StageFailure, PartialActionFailure)
//   - A circuit breaker used by every outbound HTTP adapter
//
// The package has no dependencies on storage or transport so that any
// component can import it.
package core
