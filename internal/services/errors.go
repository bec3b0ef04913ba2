package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrUnauthenticated is returned when no caller identity was resolved.
	// Nothing is mutated.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidToken is an ErrUnauthenticated for a bad bearer token.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	// ErrDeviceRequired is returned by Disconnect without a device id.
	ErrDeviceRequired = errors.New("device_id is required")
)

// StorageError wraps a failed read or write against a backing store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// MirrorError is a failed write to the legacy users.status mirror after the
// presence row was committed. It is logged, never returned to callers.
type MirrorError struct {
	UserID uuid.UUID
	Err    error
}

func (e *MirrorError) Error() string {
	return fmt.Sprintf("failed to mirror status for user %s: %v", e.UserID, e.Err)
}

func (e *MirrorError) Unwrap() error { return e.Err }
