package catalog

import "errors"

var (
	// ErrCatalogUnavailable is returned when a catalog query fails on transport,
	// authentication, status or decoding. Queries are attempted once.
	ErrCatalogUnavailable = errors.New("catalog unavailable")

	// ErrInvalidQuery is returned when a query cannot be built.
	ErrInvalidQuery = errors.New("invalid catalog query")
)
