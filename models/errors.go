package models

import "errors"

var (
	// ErrInvalidValue marks inputs or outputs that have the right shape but
	// an unusable value.
	ErrInvalidValue = errors.New("invalid value")
	// ErrInvalidType marks data of an unexpected type or shape.
	ErrInvalidType = errors.New("invalid type")
)
