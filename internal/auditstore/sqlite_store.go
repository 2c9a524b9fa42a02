package auditstore

import (
	"fmt"
	"sync"
	"time"

	"crawshaw.io/sqlite"
)

// SQLiteAuditStore is an implementation of AuditStore that uses SQLite.
// A single connection is shared and serialized with a mutex because the
// gate records rejections from the HTTP engine's request goroutines.
type SQLiteAuditStore struct {
	conn   *sqlite.Conn
	dbPath string
	mu     sync.Mutex
}

// NewSQLiteAuditStore creates a new SQLiteAuditStore instance.
func NewSQLiteAuditStore() *SQLiteAuditStore {
	return &SQLiteAuditStore{}
}

// Initialize initializes the store with the given database path.
func (s *SQLiteAuditStore) Initialize(dbPath string) error {
	s.dbPath = dbPath

	conn, err := sqlite.OpenConn(dbPath, sqlite.SQLITE_OPEN_CREATE|sqlite.SQLITE_OPEN_READWRITE)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}
	s.conn = conn

	if err := s.createTable(); err != nil {
		s.conn.Close()
		return fmt.Errorf("failed to create table: %w", err)
	}

	return nil
}

// createTable creates the gate_rejections table if it doesn't exist.
func (s *SQLiteAuditStore) createTable() error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS gate_rejections (
		id TEXT PRIMARY KEY,
		reason TEXT NOT NULL,
		origin TEXT NOT NULL,
		host TEXT NOT NULL,
		referer TEXT NOT NULL,
		user_agent TEXT NOT NULL,
		remote_addr TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);`

	stmt, err := s.conn.Prepare(createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare create table statement: %w", err)
	}
	defer stmt.Reset()

	if _, err := stmt.Step(); err != nil {
		return fmt.Errorf("failed to execute create table statement: %w", err)
	}

	return nil
}

// Close closes the store and releases any resources.
func (s *SQLiteAuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Record appends a rejection entry to the audit trail.
func (s *SQLiteAuditStore) Record(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	insertSQL := `
	INSERT OR REPLACE INTO gate_rejections
		(id, reason, origin, host, referer, user_agent, remote_addr, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?);`

	stmt, err := s.conn.Prepare(insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Reset()

	// Bind parameters - indices in sqlite are 1-based
	stmt.BindText(1, entry.ID)
	stmt.BindText(2, entry.Reason)
	stmt.BindText(3, entry.Origin)
	stmt.BindText(4, entry.Host)
	stmt.BindText(5, entry.Referer)
	stmt.BindText(6, entry.UserAgent)
	stmt.BindText(7, entry.RemoteAddr)
	stmt.BindInt64(8, entry.Timestamp.Unix())

	if _, err := stmt.Step(); err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteAuditStore) Recent(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	selectSQL := `
	SELECT id, reason, origin, host, referer, user_agent, remote_addr, timestamp
	FROM gate_rejections
	ORDER BY timestamp DESC, id
	LIMIT ?;`

	stmt, err := s.conn.Prepare(selectSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare select statement: %w", err)
	}
	defer stmt.Reset()

	stmt.BindInt64(1, int64(limit))

	var entries []Entry
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, fmt.Errorf("failed to execute select statement: %w", err)
		}
		if !hasRow {
			break
		}

		entries = append(entries, Entry{
			ID:         stmt.ColumnText(0),
			Reason:     stmt.ColumnText(1),
			Origin:     stmt.ColumnText(2),
			Host:       stmt.ColumnText(3),
			Referer:    stmt.ColumnText(4),
			UserAgent:  stmt.ColumnText(5),
			RemoteAddr: stmt.ColumnText(6),
			Timestamp:  time.Unix(stmt.ColumnInt64(7), 0),
		})
	}

	return entries, nil
}

// Clear removes all entries and returns how many were deleted.
func (s *SQLiteAuditStore) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleteSQL := `DELETE FROM gate_rejections;`

	stmt, err := s.conn.Prepare(deleteSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer stmt.Reset()

	if _, err := stmt.Step(); err != nil {
		return 0, fmt.Errorf("failed to clear audit entries: %w", err)
	}

	return s.conn.Changes(), nil
}
