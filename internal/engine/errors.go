package engine

import "errors"

// Mutation refusal taxonomy. Refusals are synchronous: no remote write is
// attempted and no partial local effect is applied.
var (
	// ErrNotAuthorized: mutation attempted by a non-admin user or with no
	// current user selected.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrPreconditionFailed: the target cycle or item does not exist
	// locally, or a conflicting operation is already in flight.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrSyncUnavailable: no active remote binding (no room code set).
	ErrSyncUnavailable = errors.New("sync unavailable")
)
