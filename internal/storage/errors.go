package storage

import (
	"errors"
)

var (
	// ErrNotFound is returned when the target file does not exist or is
	// not a regular file.
	ErrNotFound = errors.New("file not found")

	// ErrAttrNotFound is returned when a requested extended attribute is
	// not set on the file.
	ErrAttrNotFound = errors.New("attribute not found")

	// ErrLockMismatch is returned when a lock-protected operation is
	// attempted with a payload that does not match the stored lock.
	ErrLockMismatch = errors.New("lock mismatch")
)
