package fl

import "errors"

var (
	// ErrEmptyInput is returned when aggregation is asked to combine zero updates.
	ErrEmptyInput = errors.New("no updates provided for aggregation")
	// ErrShapeMismatch means an update does not line up with a model's parameters.
	ErrShapeMismatch = errors.New("gradient update shape does not match model parameters")
	ErrInvalidMode   = errors.New("unknown aggregation mode")
)
