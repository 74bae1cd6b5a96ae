package entity

import "errors"

// Domain-specific errors for registry operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownEntity is returned when an update or read targets an
	// entity that was never registered or has been deregistered.
	ErrUnknownEntity = errors.New("entity: unknown entity")

	// ErrAlreadyRegistered is returned when registering an ID that is
	// already present.
	ErrAlreadyRegistered = errors.New("entity: already registered")

	// ErrValidation is returned when a value falls outside the entity's
	// declared value spec.
	ErrValidation = errors.New("entity: value validation failed")

	// ErrInvalidDefinition is returned when a registration definition is
	// incomplete or internally inconsistent.
	ErrInvalidDefinition = errors.New("entity: invalid definition")
)
