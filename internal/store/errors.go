// ABOUTME: Error taxonomy shared by every layer of the message store
// ABOUTME: Callers match these with errors.Is; lower layers wrap them with context

package store

import "errors"

var (
	// ErrNotFound is returned when a requested message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnexpectedState is returned when an internal consistency check fails,
	// for example a primary-key lookup yielding more than one record.
	ErrUnexpectedState = errors.New("unexpected store state")

	// ErrStorageUnavailable is returned when the backing database cannot be
	// opened or a transaction cannot be started or committed.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrUnsupportedVersion is returned by Open when the on-disk schema is
	// newer than this code understands.
	ErrUnsupportedVersion = errors.New("unsupported schema version")

	// ErrInvalidFilter is returned when a Filter fails validation.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrInvalidMessage is returned by Save for messages that cannot be stored.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrReadOnlyTx is returned when a write is attempted inside a View.
	ErrReadOnlyTx = errors.New("write in read-only transaction")
)
