// Package store persists warning records in a local SQLite database. The
// table is append-only: rows are never updated, and the only destructive
// operation is a full reset.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/rangewarn/internal/warning"
)

// DB wraps the warnings database connection.
type DB struct {
	*sql.DB

	// resetMu serializes Reset against in-flight inserts so a reset can
	// never interleave with a half-written row.
	resetMu sync.Mutex
}

// Open opens (or creates) the warnings database at path and brings the
// schema up to date.
func Open(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{DB: sqldb}
	if err := db.MigrateUp(); err != nil {
		sqldb.Close()
		return nil, err
	}
	return db, nil
}

// Insert appends one warning record.
func (db *DB) Insert(rec warning.Record) error {
	db.resetMu.Lock()
	defer db.resetMu.Unlock()

	_, err := db.Exec(
		"INSERT INTO warnings (timestamp, level, distance, xn) VALUES (?, ?, ?, ?)",
		rec.Timestamp, rec.Level.String(), rec.Distance, rec.Xn,
	)
	if err != nil {
		return fmt.Errorf("failed to insert warning: %w", err)
	}
	return nil
}

// Records returns all stored warnings in insertion order.
func (db *DB) Records() ([]warning.Record, error) {
	rows, err := db.Query("SELECT timestamp, level, distance, xn FROM warnings ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []warning.Record
	for rows.Next() {
		var rec warning.Record
		var level string
		if err := rows.Scan(&rec.Timestamp, &level, &rec.Distance, &rec.Xn); err != nil {
			return nil, err
		}
		if rec.Level, err = warning.ParseLevel(level); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of stored warnings.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM warnings").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Reset deletes every stored warning. The schema stays in place so inserts
// keep working afterwards.
func (db *DB) Reset() error {
	db.resetMu.Lock()
	defer db.resetMu.Unlock()

	if _, err := db.Exec("DELETE FROM warnings"); err != nil {
		return fmt.Errorf("failed to reset warnings: %w", err)
	}
	return nil
}
