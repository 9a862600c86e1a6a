package store

import "errors"

// ErrNotFound is returned when no record exists for a user.
var ErrNotFound = errors.New("record not found")
