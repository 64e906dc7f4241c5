// ABOUTME: Transaction and backend interfaces implemented by the SQLite and bbolt engines
// ABOUTME: Tx is the only handle other packages get to stored records and indexes

package store

import "context"

// Index names a secondary index over the message collection.
type Index string

const (
	IndexDelivery  Index = "delivery"
	IndexSender    Index = "sender"
	IndexReceiver  Index = "receiver"
	IndexTimestamp Index = "timestamp"
	IndexRead      Index = "read"
)

// Read flags are indexed as integers.
const (
	readFlagUnread = 0
	readFlagRead   = 1
)

func readFlag(read bool) int {
	if read {
		return readFlagRead
	}
	return readFlagUnread
}

// Tx is an open transaction. It must not be retained after the function
// passed to View or Update returns.
type Tx interface {
	// GetAll returns every record stored under id. A healthy store yields
	// zero or one.
	GetAll(ctx context.Context, id int64) ([]*Message, error)

	// Put inserts or replaces the record under msg.ID, keeping every index in step.
	Put(ctx context.Context, msg *Message) error

	// Delete removes the record under id. Deleting a missing id is not an error.
	Delete(ctx context.Context, id int64) error

	// Count returns how many records are stored under id.
	Count(ctx context.Context, id int64) (int, error)

	// CountAll returns the number of stored messages.
	CountAll(ctx context.Context) (int, error)

	// LastKey returns the highest id ever assigned in this store, including
	// ids whose records have since been deleted. 0 means none.
	LastKey(ctx context.Context) (int64, error)

	// ScanTimestamp returns ids ordered by (timestamp, id), ascending or
	// descending, limited to the inclusive millisecond range. A nil bound is open.
	ScanTimestamp(ctx context.Context, lower, upper *int64, reverse bool) ([]int64, error)

	// ScanIndex returns the ids whose indexed field equals value, in id order.
	// value is a string for delivery, sender and receiver and an int for read.
	ScanIndex(ctx context.Context, idx Index, value any) ([]int64, error)
}

// engine is a storage backend.
type engine interface {
	begin(ctx context.Context, writable bool) (txn, error)
	close() error
}

// txn is the backend side of a Tx, with the lifecycle and schema hooks the
// gateway and schema manager need.
type txn interface {
	Tx
	commit() error
	rollback() error
	schemaVersion() (int, error)
	setSchemaVersion(version int) error
	applyMigration(version int) error

	// raiseLastKey records id as assigned if it exceeds the stored mark.
	raiseLastKey(id int64) error
}
