package models

import "errors"

// Configuration errors. Never retried, never defaulted.
var (
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrUnsupportedMetric = errors.New("unsupported metric")
)

// Data errors.
var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrSlotEmpty         = errors.New("embedding slot empty")
	ErrNotFound          = errors.New("not found")
)
