package types

import "errors"

// Domain errors. Backends and the lifecycle engine wrap these with
// explanatory text; callers match them with errors.Is.
var (
	// ErrValidation reports malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound reports an unknown residue id or request token.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict reports a residue that is already claimed, a claimed
	// residue that cannot be deleted, or a token collision.
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition reports an action that is not legal for the
	// request's current status.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Depot lifecycle errors.
var (
	ErrDetached        = errors.New("depot is detached")
	ErrAlreadyAttached = errors.New("depot is already attached")
)
