package rule

import "errors"

// Domain-specific errors for rule operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound is returned when a rule lookup fails.
	ErrNotFound = errors.New("rule: not found")

	// ErrDuplicateSlug is returned when creating a rule whose slug is
	// already taken.
	ErrDuplicateSlug = errors.New("rule: duplicate slug")

	// ErrInvalidRule is returned when a rule definition fails validation.
	ErrInvalidRule = errors.New("rule: invalid definition")
)
