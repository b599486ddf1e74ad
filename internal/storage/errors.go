package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when creating a record whose ID or hash already exists.
var ErrDuplicate = errors.New("record already exists")
