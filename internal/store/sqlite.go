// ABOUTME: SQLite backend for the message store using modernc.org/sqlite
// ABOUTME: One messages table plus one SQL index per secondary index; version in PRAGMA user_version

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteMigrations holds the DDL for each schema step. Every statement is
// safe to re-run.
var sqliteMigrations = map[int]string{
	1: `
		CREATE TABLE IF NOT EXISTS messages (
			id        INTEGER PRIMARY KEY,
			delivery  TEXT NOT NULL,
			sender    TEXT NOT NULL DEFAULT '',
			receiver  TEXT NOT NULL DEFAULT '',
			body      TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			read      INTEGER NOT NULL DEFAULT 0,

			CHECK (delivery IN ('sent', 'received'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_delivery ON messages(delivery);
		CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);
		CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver);
		CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
	`,
	2: `
		CREATE INDEX IF NOT EXISTS idx_messages_read ON messages(read);
	`,
	3: `
		CREATE TABLE IF NOT EXISTS meta (
			name  TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);

		INSERT OR IGNORE INTO meta (name, value)
		SELECT 'last_key', COALESCE(MAX(id), 0) FROM messages;
	`,
}

// sqliteIndexColumns maps equality-scannable indexes to their column.
var sqliteIndexColumns = map[Index]string{
	IndexDelivery: "delivery",
	IndexSender:   "sender",
	IndexReceiver: "receiver",
	IndexRead:     "read",
}

const messageColumns = `id, delivery, sender, receiver, body, timestamp, read`

type sqliteEngine struct {
	db *sql.DB
}

func openSQLite(path string, busyTimeout time.Duration) (*sqliteEngine, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Enable WAL mode so readers are not blocked by the writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	return &sqliteEngine{db: db}, nil
}

func (e *sqliteEngine) begin(ctx context.Context, writable bool) (txn, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTxn{tx: tx, writable: writable}, nil
}

func (e *sqliteEngine) close() error {
	return e.db.Close()
}

type sqliteTxn struct {
	tx       *sql.Tx
	writable bool
}

func (t *sqliteTxn) commit() error   { return t.tx.Commit() }
func (t *sqliteTxn) rollback() error { return t.tx.Rollback() }

func (t *sqliteTxn) schemaVersion() (int, error) {
	var version int
	if err := t.tx.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (t *sqliteTxn) setSchemaVersion(version int) error {
	_, err := t.tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version))
	return err
}

func (t *sqliteTxn) applyMigration(version int) error {
	ddl, ok := sqliteMigrations[version]
	if !ok {
		return fmt.Errorf("no sqlite migration for version %d", version)
	}
	_, err := t.tx.Exec(ddl)
	return err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var (
		msg       Message
		delivery  string
		timestamp int64
		read      int
	)
	if err := row.Scan(
		&msg.ID,
		&delivery,
		&msg.Sender,
		&msg.Receiver,
		&msg.Body,
		&timestamp,
		&read,
	); err != nil {
		return nil, err
	}
	msg.Delivery = Delivery(delivery)
	msg.Timestamp = time.UnixMilli(timestamp)
	msg.Read = read == readFlagRead
	return &msg, nil
}

func (t *sqliteTxn) GetAll(ctx context.Context, id int64) ([]*Message, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("querying message %d: %w", id, err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

func (t *sqliteTxn) Put(ctx context.Context, msg *Message) error {
	if !t.writable {
		return ErrReadOnlyTx
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			delivery = excluded.delivery,
			sender = excluded.sender,
			receiver = excluded.receiver,
			body = excluded.body,
			timestamp = excluded.timestamp,
			read = excluded.read
	`,
		msg.ID,
		string(msg.Delivery),
		msg.Sender,
		msg.Receiver,
		msg.Body,
		msg.Timestamp.UnixMilli(),
		readFlag(msg.Read),
	)
	if err != nil {
		return fmt.Errorf("writing message %d: %w", msg.ID, err)
	}
	return nil
}

func (t *sqliteTxn) Delete(ctx context.Context, id int64) error {
	if !t.writable {
		return ErrReadOnlyTx
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting message %d: %w", id, err)
	}
	return nil
}

func (t *sqliteTxn) Count(ctx context.Context, id int64) (int, error) {
	var count int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting message %d: %w", id, err)
	}
	return count, nil
}

func (t *sqliteTxn) CountAll(ctx context.Context) (int, error) {
	var count int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

func (t *sqliteTxn) LastKey(ctx context.Context) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT MAX(id) FROM messages), 0),
			COALESCE((SELECT value FROM meta WHERE name = 'last_key'), 0)
		)
	`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reading last key: %w", err)
	}
	return id, nil
}

func (t *sqliteTxn) raiseLastKey(id int64) error {
	if !t.writable {
		return ErrReadOnlyTx
	}
	_, err := t.tx.Exec(`
		INSERT INTO meta (name, value) VALUES ('last_key', ?)
		ON CONFLICT(name) DO UPDATE SET value = MAX(value, excluded.value)
	`, id)
	if err != nil {
		return fmt.Errorf("recording last key %d: %w", id, err)
	}
	return nil
}

func (t *sqliteTxn) ScanTimestamp(ctx context.Context, lower, upper *int64, reverse bool) ([]int64, error) {
	var (
		where []string
		args  []any
	)
	if lower != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *lower)
	}
	if upper != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, *upper)
	}

	query := `SELECT id FROM messages INDEXED BY idx_messages_timestamp`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if reverse {
		query += ` ORDER BY timestamp DESC, id DESC`
	} else {
		query += ` ORDER BY timestamp ASC, id ASC`
	}

	return t.queryIDs(ctx, query, args...)
}

func (t *sqliteTxn) ScanIndex(ctx context.Context, idx Index, value any) ([]int64, error) {
	column, ok := sqliteIndexColumns[idx]
	if !ok {
		return nil, fmt.Errorf("index %q does not support equality scans", idx)
	}
	query := fmt.Sprintf(`SELECT id FROM messages INDEXED BY idx_messages_%s WHERE %s = ? ORDER BY id`, column, column)
	return t.queryIDs(ctx, query, value)
}

func (t *sqliteTxn) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning index: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ids: %w", err)
	}
	return ids, nil
}
