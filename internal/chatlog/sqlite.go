package chatlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDSN is used when no store endpoint is configured.
const DefaultDSN = "file:chat.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  id      INTEGER PRIMARY KEY AUTOINCREMENT,
  content TEXT,
  user    TEXT
);
`,
}

// SQLite is a Log stored in a SQLite database, local or reached over libSQL.
// AUTOINCREMENT guarantees that ids
// are never reused, even after the highest row is gone.
type SQLite struct {
	db        *sql.DB
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ Log = (*SQLite)(nil)

// OpenSQLite opens the database named by dsn and creates the schema if needed.
// A bare path is accepted as well as a "file:" URI.
func OpenSQLite(dsn string) (*SQLite, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}

	db, err := sql.Open("sqlite3", withDefaultParams(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// Every connection to an in-memory database sees its own empty database.
	if isMemoryDSN(dsn) {
		db.SetMaxOpenConns(1)
	}

	return newSQLite(db, true)
}

// newSQLite takes ownership of db, prepares it and applies the schema. Local
// files also switch to WAL.
func newSQLite(db *sql.DB, local bool) (*SQLite, error) {
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &SQLite{db: db}
	if local {
		if err := store.enableWALMode(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func withDefaultParams(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000"
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func (s *SQLite) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	// In-memory databases report "memory" and cannot use WAL.
	if !strings.EqualFold(journalMode, "wal") && !strings.EqualFold(journalMode, "memory") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (s *SQLite) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

// Append inserts a message row and returns it with the id SQLite assigned.
func (s *SQLite) Append(ctx context.Context, content, user string) (Message, error) {
	if s.closed.Load() {
		return Message{}, fmt.Errorf("%w: %w", ErrWrite, ErrClosed)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (content, user) VALUES (?, ?)`,
		content,
		user,
	)
	if err != nil {
		return Message{}, fmt.Errorf("%w: insert message: %w", ErrWrite, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("%w: read inserted id: %w", ErrWrite, err)
	}

	return Message{ID: id, Content: content, User: user}, nil
}

// ReadSince returns the messages after offset ordered by id.
func (s *SQLite) ReadSince(ctx context.Context, offset int64) ([]Message, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: %w", ErrRead, ErrClosed)
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, user
		FROM messages
		WHERE id > ?
		ORDER BY id ASC`,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query messages since %d: %w", ErrRead, offset, err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var (
			msg     Message
			content sql.NullString
			user    sql.NullString
		)
		if err := rows.Scan(&msg.ID, &content, &user); err != nil {
			return nil, fmt.Errorf("%w: scan message row: %w", ErrRead, err)
		}
		msg.Content = content.String
		msg.User = user.String
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate message rows: %w", ErrRead, err)
	}

	return messages, nil
}

// Head returns the highest message id.
func (s *SQLite) Head(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("%w: %w", ErrRead, ErrClosed)
	}

	var head sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM messages`).Scan(&head); err != nil {
		return 0, fmt.Errorf("%w: read head: %w", ErrRead, err)
	}
	return head.Int64, nil
}

// Close closes the database. It is safe to call more than once.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		closeErr = s.db.Close()
	})
	return closeErr
}
