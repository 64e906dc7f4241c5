// Package store provides persistent storage for SMS messages.
//
// # Architecture
//
// A Store wraps one of two embedded backends behind the same transaction
// interface:
//
//   - sqlite: modernc.org/sqlite, a messages table with one SQL index per
//     secondary index (the default)
//   - bolt: go.etcd.io/bbolt, a messages bucket of JSON records plus one
//     bucket per index whose keys are the encoded value followed by the id
//
// Every operation goes through the transaction gateway (View and Update).
// Writes are serialized; reads run concurrently.
//
// # Data Model
//
//   - Message: one SMS with delivery direction, sender, receiver, body,
//     timestamp and read flag. Only the read flag changes after Save.
//   - Filter: criteria for building a message list. Resolve turns a Filter
//     into the ordered ids of matching messages.
//
// Indexes: delivery, sender, receiver, timestamp and (from schema version 2)
// read. Timestamps are stored as Unix milliseconds.
//
// # Schema Versions
//
// Open stamps a new store with CurrentSchemaVersion and upgrades older ones
// in a single write transaction. A store written by a newer version is
// refused with ErrUnsupportedVersion.
//
// # Keys
//
// Message ids are assigned by the KeyAllocator, which Open seeds from the
// highest id ever assigned before returning. Save records each id as a
// high-water mark (a meta row in SQLite, the messages bucket sequence in
// bbolt) in the same transaction as the message, so ids are strictly
// increasing and never reused, even after the newest message is deleted.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: the requested message does not exist
//   - ErrUnexpectedState: an internal consistency check failed
//   - ErrStorageUnavailable: a transaction could not be started or committed
//   - ErrUnsupportedVersion: the on-disk schema is newer than this code
//
// All methods accept context.Context.
//
// # Testing
//
// Tests open real stores in t.TempDir() for both backends.
package store
