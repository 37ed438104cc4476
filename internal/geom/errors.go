package geom

import "errors"

var (
	// ErrInvalidGeometry is returned when a region geometry cannot be normalized:
	// wrong feature count, unsupported geometry type, or no usable CRS.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrExtentTooLarge is returned when a bounding box exceeds the provider's
	// per-side pixel limit at the configured resolution.
	ErrExtentTooLarge = errors.New("bounding box extent too large")
)
