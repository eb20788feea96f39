// Package sqlstore implements ports.SessionStore on top of database/sql.
//
// Two tables back every session:
//   - sessions: one snapshot row per session, overwritten with an upsert
//   - session_events: the trace, insert-only, ordered by its auto-increment key
//
// SQLite (modernc.org/sqlite) is the zero-setup default; MySQL
// (github.com/go-sql-driver/mysql) serves shared deployments.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Store is a SQL-backed session store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open database and creates the schema if needed.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create %s schema: %w", dialect.Name, err)
		}
	}
	return s, nil
}

// OpenSQLite opens (or creates) a SQLite database file. ":memory:" is accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open(SQLite.Driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time; a single connection also keeps ":memory:" alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s, err := New(ctx, db, SQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// MySQLConfig parses a DSN and applies the settings the store relies on.
func MySQLConfig(dsn string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg, nil
}

// OpenMySQL connects to MySQL using a DSN such as "user:pass@tcp(127.0.0.1:3306)/agentrun".
func OpenMySQL(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := MySQLConfig(dsn)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s, err := New(ctx, db, MySQL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Dialect returns the dialect in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// WriteSnapshot upserts the session row.
func (s *Store) WriteSnapshot(ctx context.Context, sessionID string, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.UpsertSnapshot, sessionID, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load reads the session row.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM sessions WHERE session_id = ?`, sessionID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCorruptSnapshot, sessionID, err)
	}
	session.Normalize()
	if session.SessionID == "" {
		session.SessionID = sessionID
	}
	return &session, nil
}

// AppendEvent inserts one trace row. Rows are never updated.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, seq, action, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, event.Seq, string(event.Action), string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// LoadTrace returns the trace rows in insertion order.
func (s *Store) LoadTrace(ctx context.Context, sessionID string) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM session_events WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan trace row: %w", err)
		}
		var e domain.Event
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("failed to parse trace row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trace: %w", err)
	}
	return events, nil
}

// Delete removes the snapshot and the trace in one transaction.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_events WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete trace: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return tx.Commit()
}

// List returns every session with a snapshot or trace rows, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions UNION SELECT session_id FROM session_events ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
