package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrForeignReference is returned when a reference was not produced by the backend.
	ErrForeignReference = errors.New("reference does not belong to this backend")

	// ErrInvalidReference is returned for empty or path-escaping references.
	ErrInvalidReference = errors.New("invalid reference")
)

// File is a local file handed to a backend for persistence.
type File struct {
	Path        string // local path of the file to persist
	Name        string // file name to store under; defaults to the base name of Path
	ContentType string
}

// Backend persists files and returns a durable reference (relative path or URL).
type Backend interface {
	// Name identifies the backend in logs and results.
	Name() string
	// Store persists file under folder. The reference is only valid when err is nil.
	Store(ctx context.Context, file File, folder string) (string, error)
	// Remove deletes the object behind ref. Removing an absent object is not an error.
	Remove(ctx context.Context, ref string) error
}

// StorageError is returned by backends on I/O failure.
type StorageError struct {
	Backend string
	Op      string
	Ref     string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("%s storage %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s storage %s %s: %v", e.Backend, e.Op, e.Ref, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
