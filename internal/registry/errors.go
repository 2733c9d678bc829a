package registry

import "errors"

// Domain errors for the registry package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, registry.ErrUnresolved) {
//	    // handle resolution failure
//	}
var (
	// ErrEmptySelector is returned when a command names no characteristic
	// field at all (no name, no uuid, no handle).
	ErrEmptySelector = errors.New("registry: selector has no name, uuid, or handle")

	// ErrUnresolved is returned when a characteristic reference cannot be
	// matched against the device's catalog and carries no addressable field.
	ErrUnresolved = errors.New("registry: characteristic cannot be resolved")

	// ErrInvalidHandle is returned when a handle string cannot be parsed.
	ErrInvalidHandle = errors.New("registry: invalid characteristic handle")

	// ErrDuplicateAlias is returned when two devices share an alias.
	ErrDuplicateAlias = errors.New("registry: duplicate device alias")
)
