// ABOUTME: Message and Filter types plus the Store handle for SMS persistence
// ABOUTME: Open wires the backend, schema upgrade and key recovery before returning

package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Delivery tells whether a message was sent from or received by the local endpoint.
type Delivery string

const (
	DeliverySent     Delivery = "sent"
	DeliveryReceived Delivery = "received"
)

// Valid reports whether d is one of the known delivery values.
func (d Delivery) Valid() bool {
	return d == DeliverySent || d == DeliveryReceived
}

// Message is a single stored SMS. Only Read changes after it is saved.
type Message struct {
	ID        int64
	Delivery  Delivery
	Sender    string
	Receiver  string
	Body      string
	Timestamp time.Time // persisted with millisecond precision
	Read      bool
}

func (m *Message) validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if !m.Delivery.Valid() {
		return fmt.Errorf("%w: delivery %q", ErrInvalidMessage, m.Delivery)
	}
	return nil
}

// Filter selects messages for a message list. Zero-valued fields impose no
// constraint; a Filter with no fields set matches every message.
type Filter struct {
	StartDate *time.Time // inclusive
	EndDate   *time.Time // inclusive
	Delivery  Delivery   // empty matches both directions
	Numbers   []string   // matches sender or receiver; empty means any
	Read      *bool
	Reverse   bool // newest first
}

// Validate checks the filter for values no message could ever match.
func (f Filter) Validate() error {
	if f.Delivery != "" && !f.Delivery.Valid() {
		return fmt.Errorf("%w: delivery %q", ErrInvalidFilter, f.Delivery)
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return fmt.Errorf("%w: start date %s is after end date %s",
			ErrInvalidFilter, f.StartDate.Format(time.RFC3339), f.EndDate.Format(time.RFC3339))
	}
	return nil
}

// bounds returns the timestamp range in the persisted unit.
func (f Filter) bounds() (lower, upper *int64) {
	if f.StartDate != nil {
		v := f.StartDate.UnixMilli()
		lower = &v
	}
	if f.EndDate != nil {
		v := f.EndDate.UnixMilli()
		upper = &v
	}
	return lower, upper
}

// Backend names accepted in Options.Backend.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// DefaultBusyTimeout bounds how long a transaction waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Options configures Open.
type Options struct {
	Backend     string // BackendSQLite (default) or BackendBolt
	Path        string
	BusyTimeout time.Duration
	Logger      *slog.Logger
}

// Store is an open message store. It is safe for concurrent use.
type Store struct {
	engine    engine
	backend   string
	path      string
	keys      *KeyAllocator
	version   int
	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	logger    *slog.Logger
}

// Open opens or creates the store at opts.Path, upgrades its schema to
// CurrentSchemaVersion and recovers the last assigned message key. Saves are
// only possible once Open returns, so no key can collide with an existing record.
func Open(ctx context.Context, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if opts.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if opts.Backend == "" {
		opts.Backend = BackendSQLite
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}

	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	var (
		eng engine
		err error
	)
	switch opts.Backend {
	case BackendSQLite:
		eng, err = openSQLite(opts.Path, opts.BusyTimeout)
	case BackendBolt:
		eng, err = openBolt(opts.Path, opts.BusyTimeout)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	s := &Store{
		engine:  eng,
		backend: opts.Backend,
		path:    opts.Path,
		logger:  logger,
	}

	if s.version, err = s.migrate(ctx); err != nil {
		_ = eng.close()
		return nil, fmt.Errorf("upgrading schema: %w", err)
	}

	last, err := s.recoverLastKey(ctx)
	if err != nil {
		_ = eng.close()
		return nil, fmt.Errorf("recovering last key: %w", err)
	}
	s.keys = newKeyAllocator(last)

	logger.Info("message store opened",
		"backend", opts.Backend,
		"path", opts.Path,
		"schema_version", s.version,
		"last_key", last,
	)
	return s, nil
}

// Close releases the underlying database. Further operations fail with
// ErrStorageUnavailable.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.logger.Info("closing message store")
		err = s.engine.close()
	})
	return err
}

// Backend returns the name of the storage backend in use.
func (s *Store) Backend() string { return s.backend }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// SchemaVersion returns the schema version the store was opened at.
func (s *Store) SchemaVersion() int { return s.version }

// LastKey returns the most recently assigned message id.
func (s *Store) LastKey() int64 { return s.keys.Last() }
