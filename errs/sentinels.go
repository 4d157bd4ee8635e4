// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPrecondition indicates a referenced resource can no longer be located,
	// so the requested operation cannot be applied.
	ErrPrecondition = errors.New("precondition failed")

	// ErrCorrupted is the single opaque error for every authentication-tag
	// failure or checksum mismatch on decrypt. It is never differentiated
	// further to avoid leaking oracle information.
	ErrCorrupted = errors.New("corrupted or tampered")

	// ErrNotInitialized indicates encrypt/decrypt was called before the
	// key store was initialized. This is a programming error, not retryable.
	ErrNotInitialized = errors.New("key store not initialized")

	// ErrAlreadyResolved indicates a manual resolution targeted a conflict
	// that already left pending status.
	ErrAlreadyResolved = errors.New("conflict already resolved")

	// ErrInvalidResolution indicates a resolution violating the
	// action/result invariant.
	ErrInvalidResolution = errors.New("invalid resolution")
)
