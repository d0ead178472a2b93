package mapping

import "errors"

// Sentinel errors for catalog loading and line encoding.
var (
	// ErrInvalidCatalog indicates the mapping file failed validation.
	ErrInvalidCatalog = errors.New("mapping: invalid catalog")

	// ErrUnknownCategory indicates an object's category has no mapping entry.
	ErrUnknownCategory = errors.New("mapping: unknown category")

	// ErrInvalidValue indicates an event value cannot be rendered as the
	// field's declared type.
	ErrInvalidValue = errors.New("mapping: value does not match field type")
)
