// ABOUTME: Message list pager: snapshots a filter's matching keys and hands messages out one at a time
// ABOUTME: Lists hold keys only, so each Next reads the current record in its own transaction

package pager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/smsdb/internal/store"
)

var (
	// ErrListNotFound is returned for list ids that were never created or
	// have been exhausted, discarded or evicted.
	ErrListNotFound = fmt.Errorf("message list %w", store.ErrNotFound)

	// ErrEndOfList is returned once every message of a list has been
	// delivered. The list is removed when this is returned.
	ErrEndOfList = errors.New("end of message list")

	// ErrNoMessages is returned by CreateList when nothing matches the
	// filter. No list is created.
	ErrNoMessages = errors.New("no messages match filter")
)

// Viewer runs read-only transactions. *store.Store satisfies it.
type Viewer interface {
	View(ctx context.Context, fn func(tx store.Tx) error) error
}

// Options configures list retention. Zero values keep lists until they are
// exhausted or discarded, with no limit on their number.
type Options struct {
	TTL      time.Duration
	MaxLists int
	Logger   *slog.Logger
}

// Pager creates message lists and pages through them.
type Pager struct {
	db     Viewer
	lists  *Registry
	logger *slog.Logger
}

// New creates a pager reading from db.
func New(db Viewer, opts Options) *Pager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pager{
		db:     db,
		lists:  NewRegistry(opts.TTL, opts.MaxLists),
		logger: logger.With("component", "pager"),
	}
}

// CreateList resolves f, returns the first matching message and registers
// the remaining keys under a new list id. Resolution and the first read
// happen in one transaction.
func (p *Pager) CreateList(ctx context.Context, f store.Filter) (ListID, *store.Message, error) {
	var (
		first *store.Message
		rest  []int64
	)
	err := p.db.View(ctx, func(tx store.Tx) error {
		ids, err := store.Resolve(ctx, tx, f)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return ErrNoMessages
		}
		first, err = store.GetInTx(ctx, tx, ids[0])
		if err != nil {
			return err
		}
		rest = append([]int64(nil), ids[1:]...)
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	id := p.lists.add(rest)
	p.logger.Debug("created message list", "list_id", id, "remaining", len(rest))
	return id, first, nil
}

// Next returns the next message of list id. A message deleted since the list
// was created yields store.ErrNotFound for that call only; the list stays
// usable.
func (p *Pager) Next(ctx context.Context, id ListID) (*store.Message, error) {
	key, res := p.lists.pop(id)
	switch res {
	case popUnknown:
		return nil, fmt.Errorf("list %d: %w", id, ErrListNotFound)
	case popExhausted:
		p.logger.Debug("message list exhausted", "list_id", id)
		return nil, ErrEndOfList
	}

	var msg *store.Message
	err := p.db.View(ctx, func(tx store.Tx) error {
		var err error
		msg, err = store.GetInTx(ctx, tx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list %d: %w", id, err)
	}
	return msg, nil
}

// Discard removes list id. It reports whether the list was live.
func (p *Pager) Discard(id ListID) bool {
	removed := p.lists.remove(id)
	if removed {
		p.logger.Debug("discarded message list", "list_id", id)
	}
	return removed
}

// Len returns the number of live lists.
func (p *Pager) Len() int {
	return p.lists.Len()
}

// Close stops background list expiry.
func (p *Pager) Close() {
	p.lists.Close()
}
