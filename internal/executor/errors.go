package executor

import "errors"

// ErrPackaging reports a missing, corrupt, or incomplete response payload.
var ErrPackaging = errors.New("invalid response package")
