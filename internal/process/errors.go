package process

import "errors"

var (
	// ErrFetch reports a transport, authentication, quota, or provider failure
	// of a process request.
	ErrFetch = errors.New("process request failed")

	// ErrInvalidRequest reports a request that cannot be sent.
	ErrInvalidRequest = errors.New("invalid process request")
)
