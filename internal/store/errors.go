package store

import "errors"

// ErrImportInvalid is returned by Import when the payload is missing a
// required field.
var ErrImportInvalid = errors.New("store: invalid import payload")
