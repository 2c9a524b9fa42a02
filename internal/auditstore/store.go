// Package auditstore provides persistence for the security audit trail:
// every request the gate rejects is recorded so an operator can inspect
// what was blocked and why without exposing that information to clients.
package auditstore

import (
	"time"
)

// Entry is one rejected request. Header values are stored verbatim; they
// are the evidence of the attempted attack.
type Entry struct {
	ID         string
	Reason     string
	Origin     string
	Host       string
	Referer    string
	UserAgent  string
	RemoteAddr string
	Timestamp  time.Time
}

// AuditStore defines the interface for recording and querying rejected
// requests.
type AuditStore interface {
	// Initialize initializes the store with configuration options.
	Initialize(dbPath string) error

	// Close closes the store and releases any resources.
	Close() error

	// Record appends a rejection to the audit trail.
	Record(entry Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(limit int) ([]Entry, error)

	// Clear removes all entries and returns how many were deleted.
	Clear() (int, error)
}
