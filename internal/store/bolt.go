// ABOUTME: bbolt backend for the message store: one bucket of JSON records plus one bucket per index
// ABOUTME: Index keys are the encoded field value followed by the big-endian message id

package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketMeta     = []byte("meta")
	bucketMessages = []byte("messages")

	keyVersion = []byte("version")
)

// indexBuckets maps each index to its bucket. The read index only exists
// from schema version 2.
var indexBuckets = map[Index][]byte{
	IndexDelivery:  []byte("idx_delivery"),
	IndexSender:    []byte("idx_sender"),
	IndexReceiver:  []byte("idx_receiver"),
	IndexTimestamp: []byte("idx_timestamp"),
	IndexRead:      []byte("idx_read"),
}

// boltRecord is the persisted form of a Message.
type boltRecord struct {
	ID        int64  `json:"id"`
	Delivery  string `json:"delivery"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	Read      bool   `json:"read"`
}

func recordFromMessage(msg *Message) boltRecord {
	return boltRecord{
		ID:        msg.ID,
		Delivery:  string(msg.Delivery),
		Sender:    msg.Sender,
		Receiver:  msg.Receiver,
		Body:      msg.Body,
		Timestamp: msg.Timestamp.UnixMilli(),
		Read:      msg.Read,
	}
}

func (r boltRecord) message() *Message {
	return &Message{
		ID:        r.ID,
		Delivery:  Delivery(r.Delivery),
		Sender:    r.Sender,
		Receiver:  r.Receiver,
		Body:      r.Body,
		Timestamp: time.UnixMilli(r.Timestamp),
		Read:      r.Read,
	}
}

// indexValue returns the indexed value of field idx for r.
func (r boltRecord) indexValue(idx Index) any {
	switch idx {
	case IndexDelivery:
		return r.Delivery
	case IndexSender:
		return r.Sender
	case IndexReceiver:
		return r.Receiver
	case IndexTimestamp:
		return r.Timestamp
	case IndexRead:
		return readFlag(r.Read)
	}
	return nil
}

type boltEngine struct {
	db *bbolt.DB
}

func openBolt(path string, busyTimeout time.Duration) (*boltEngine, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: busyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &boltEngine{db: db}, nil
}

func (e *boltEngine) begin(_ context.Context, writable bool) (txn, error) {
	tx, err := e.db.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltTxn{tx: tx}, nil
}

func (e *boltEngine) close() error {
	return e.db.Close()
}

type boltTxn struct {
	tx *bbolt.Tx
}

func (t *boltTxn) commit() error {
	if !t.tx.Writable() {
		return t.tx.Rollback()
	}
	return t.tx.Commit()
}

func (t *boltTxn) rollback() error {
	return t.tx.Rollback()
}

func (t *boltTxn) schemaVersion() (int, error) {
	meta := t.tx.Bucket(bucketMeta)
	if meta == nil {
		return 0, nil
	}
	v := meta.Get(keyVersion)
	if v == nil {
		return 0, nil
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("%w: malformed version marker", ErrUnexpectedState)
	}
	return int(binary.BigEndian.Uint64(v)), nil
}

func (t *boltTxn) setSchemaVersion(version int) error {
	meta, err := t.tx.CreateBucketIfNotExists(bucketMeta)
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", bucketMeta, err)
	}
	return meta.Put(keyVersion, encodeUint64(uint64(version)))
}

func (t *boltTxn) applyMigration(version int) error {
	switch version {
	case 1:
		buckets := [][]byte{
			bucketMeta,
			bucketMessages,
			indexBuckets[IndexDelivery],
			indexBuckets[IndexSender],
			indexBuckets[IndexReceiver],
			indexBuckets[IndexTimestamp],
		}
		for _, name := range buckets {
			if _, err := t.tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	case 2:
		return t.createIndex(IndexRead)
	case 3:
		last, err := t.LastKey(context.Background())
		if err != nil {
			return err
		}
		return t.raiseLastKey(last)
	}
	return fmt.Errorf("no bolt migration for version %d", version)
}

// createIndex creates the bucket for idx and fills it from the stored records.
func (t *boltTxn) createIndex(idx Index) error {
	name := indexBuckets[idx]
	bucket, err := t.tx.CreateBucketIfNotExists(name)
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", name, err)
	}
	messages := t.tx.Bucket(bucketMessages)
	if messages == nil {
		return nil
	}
	return messages.ForEach(func(_, v []byte) error {
		var rec boltRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("%w: decoding record: %w", ErrUnexpectedState, err)
		}
		key, err := indexKey(rec.indexValue(idx), rec.ID)
		if err != nil {
			return err
		}
		return bucket.Put(key, nil)
	})
}

func (t *boltTxn) messages() (*bbolt.Bucket, error) {
	b := t.tx.Bucket(bucketMessages)
	if b == nil {
		return nil, fmt.Errorf("%w: bucket %s missing", ErrUnexpectedState, bucketMessages)
	}
	return b, nil
}

func (t *boltTxn) record(id int64) (*boltRecord, error) {
	b, err := t.messages()
	if err != nil {
		return nil, err
	}
	v := b.Get(encodeUint64(uint64(id)))
	if v == nil {
		return nil, nil
	}
	var rec boltRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("%w: decoding message %d: %w", ErrUnexpectedState, id, err)
	}
	return &rec, nil
}

func (t *boltTxn) GetAll(_ context.Context, id int64) ([]*Message, error) {
	rec, err := t.record(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return []*Message{rec.message()}, nil
}

func (t *boltTxn) Put(_ context.Context, msg *Message) error {
	if !t.tx.Writable() {
		return ErrReadOnlyTx
	}
	b, err := t.messages()
	if err != nil {
		return err
	}

	old, err := t.record(msg.ID)
	if err != nil {
		return err
	}
	if old != nil {
		if err := t.unindex(old); err != nil {
			return err
		}
	}

	rec := recordFromMessage(msg)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding message %d: %w", msg.ID, err)
	}
	if err := b.Put(encodeUint64(uint64(msg.ID)), data); err != nil {
		return fmt.Errorf("writing message %d: %w", msg.ID, err)
	}
	return t.index(&rec)
}

func (t *boltTxn) Delete(_ context.Context, id int64) error {
	if !t.tx.Writable() {
		return ErrReadOnlyTx
	}
	b, err := t.messages()
	if err != nil {
		return err
	}
	old, err := t.record(id)
	if err != nil {
		return err
	}
	if old == nil {
		return nil
	}
	if err := t.unindex(old); err != nil {
		return err
	}
	if err := b.Delete(encodeUint64(uint64(id))); err != nil {
		return fmt.Errorf("deleting message %d: %w", id, err)
	}
	return nil
}

// index adds rec to every index bucket present in the store.
func (t *boltTxn) index(rec *boltRecord) error {
	for idx, name := range indexBuckets {
		bucket := t.tx.Bucket(name)
		if bucket == nil {
			continue
		}
		key, err := indexKey(rec.indexValue(idx), rec.ID)
		if err != nil {
			return err
		}
		if err := bucket.Put(key, nil); err != nil {
			return fmt.Errorf("updating %s index: %w", idx, err)
		}
	}
	return nil
}

func (t *boltTxn) unindex(rec *boltRecord) error {
	for idx, name := range indexBuckets {
		bucket := t.tx.Bucket(name)
		if bucket == nil {
			continue
		}
		key, err := indexKey(rec.indexValue(idx), rec.ID)
		if err != nil {
			return err
		}
		if err := bucket.Delete(key); err != nil {
			return fmt.Errorf("updating %s index: %w", idx, err)
		}
	}
	return nil
}

func (t *boltTxn) Count(_ context.Context, id int64) (int, error) {
	b, err := t.messages()
	if err != nil {
		return 0, err
	}
	if b.Get(encodeUint64(uint64(id))) == nil {
		return 0, nil
	}
	return 1, nil
}

func (t *boltTxn) CountAll(_ context.Context) (int, error) {
	b, err := t.messages()
	if err != nil {
		return 0, err
	}
	return b.Stats().KeyN, nil
}

// LastKey combines the highest stored key with the messages bucket sequence,
// which holds the highest key ever written.
func (t *boltTxn) LastKey(_ context.Context) (int64, error) {
	b, err := t.messages()
	if err != nil {
		return 0, err
	}
	last := int64(b.Sequence())
	if k, _ := b.Cursor().Last(); k != nil {
		last = max(last, int64(binary.BigEndian.Uint64(k)))
	}
	return last, nil
}

func (t *boltTxn) raiseLastKey(id int64) error {
	if !t.tx.Writable() {
		return ErrReadOnlyTx
	}
	b, err := t.messages()
	if err != nil {
		return err
	}
	if uint64(id) <= b.Sequence() {
		return nil
	}
	if err := b.SetSequence(uint64(id)); err != nil {
		return fmt.Errorf("recording last key %d: %w", id, err)
	}
	return nil
}

func (t *boltTxn) ScanTimestamp(_ context.Context, lower, upper *int64, reverse bool) ([]int64, error) {
	bucket := t.tx.Bucket(indexBuckets[IndexTimestamp])
	if bucket == nil {
		return nil, fmt.Errorf("%w: timestamp index missing", ErrUnexpectedState)
	}
	c := bucket.Cursor()
	ids := make([]int64, 0)

	if !reverse {
		var k []byte
		if lower != nil {
			k, _ = c.Seek(encodeInt64(*lower))
		} else {
			k, _ = c.First()
		}
		for ; k != nil; k, _ = c.Next() {
			ts, id := decodeTimestampKey(k)
			if upper != nil && ts > *upper {
				break
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	var k []byte
	if upper != nil {
		// Seek past every entry at the upper bound, then step back.
		seek := append(encodeInt64(*upper), bytes.Repeat([]byte{0xFF}, 8)...)
		if k, _ = c.Seek(seek); k == nil {
			k, _ = c.Last()
		} else {
			k, _ = c.Prev()
		}
	} else {
		k, _ = c.Last()
	}
	for ; k != nil; k, _ = c.Prev() {
		ts, id := decodeTimestampKey(k)
		if upper != nil && ts > *upper {
			continue
		}
		if lower != nil && ts < *lower {
			break
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *boltTxn) ScanIndex(_ context.Context, idx Index, value any) ([]int64, error) {
	if idx == IndexTimestamp {
		return nil, fmt.Errorf("index %q does not support equality scans", idx)
	}
	name, ok := indexBuckets[idx]
	if !ok {
		return nil, fmt.Errorf("unknown index %q", idx)
	}
	bucket := t.tx.Bucket(name)
	if bucket == nil {
		return nil, fmt.Errorf("%w: %s index missing", ErrUnexpectedState, idx)
	}
	prefix, err := encodeIndexValue(value)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0)
	c := bucket.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if len(k) != len(prefix)+8 {
			continue
		}
		ids = append(ids, int64(binary.BigEndian.Uint64(k[len(prefix):])))
	}
	return ids, nil
}

// indexKey builds the index entry for value and id.
func indexKey(value any, id int64) ([]byte, error) {
	enc, err := encodeIndexValue(value)
	if err != nil {
		return nil, err
	}
	return append(enc, encodeUint64(uint64(id))...), nil
}

// encodeIndexValue encodes value so that byte order matches value order.
// Strings carry a length prefix so one value is never a prefix of another.
func encodeIndexValue(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		buf := binary.AppendUvarint(nil, uint64(len(v)))
		return append(buf, v...), nil
	case Delivery:
		return encodeIndexValue(string(v))
	case int:
		return encodeInt64(int64(v)), nil
	case int64:
		return encodeInt64(v), nil
	case bool:
		return encodeInt64(int64(readFlag(v))), nil
	}
	return nil, fmt.Errorf("unsupported index value type %T", value)
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// encodeInt64 flips the sign bit so negative values sort before positive ones.
func encodeInt64(v int64) []byte {
	return encodeUint64(uint64(v) ^ (1 << 63))
}

func decodeInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

func decodeTimestampKey(k []byte) (ts, id int64) {
	return decodeInt64(k[:8]), int64(binary.BigEndian.Uint64(k[8:16]))
}
