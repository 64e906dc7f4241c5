// ABOUTME: Transaction gateway: the single entry point for read-only and read-write transactions
// ABOUTME: Normalizes begin/commit failures into ErrStorageUnavailable and serializes writers

package store

import (
	"context"
	"fmt"
)

// TxMode selects a read-only or read-write transaction.
type TxMode int

const (
	ReadOnly TxMode = iota
	ReadWrite
)

func (m TxMode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// View runs fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.withTx(ctx, ReadOnly, func(t txn) error { return fn(t) })
}

// Update runs fn inside a read-write transaction. The transaction commits if
// fn returns nil and rolls back otherwise.
func (s *Store) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.withTx(ctx, ReadWrite, func(t txn) error { return fn(t) })
}

// withTx invokes fn at most once. When the transaction cannot be started fn
// is not invoked and the returned error wraps ErrStorageUnavailable.
func (s *Store) withTx(ctx context.Context, mode TxMode, fn func(t txn) error) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: store is closed", ErrStorageUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// One writer at a time; readers are left to the engine.
	if mode == ReadWrite {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	t, err := s.engine.begin(ctx, mode == ReadWrite)
	if err != nil {
		s.logger.Debug("could not start transaction", "mode", mode, "error", err)
		return fmt.Errorf("%w: starting %s transaction: %w", ErrStorageUnavailable, mode, err)
	}

	// Rolled back on error and on panic in fn.
	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := t.rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "mode", mode, "error", rbErr)
		}
	}()

	if err := fn(t); err != nil {
		return err
	}

	done = true
	if err := t.commit(); err != nil {
		return fmt.Errorf("%w: committing %s transaction: %w", ErrStorageUnavailable, mode, err)
	}
	return nil
}
