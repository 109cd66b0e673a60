package array

import "errors"

var (
	// ErrShapeMismatch is returned when array shapes that must agree differ.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrOutOfBounds is returned for a selection outside an array's extent.
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrDType is returned for an unknown or unsupported element type.
	ErrDType = errors.New("unsupported dtype")
)
