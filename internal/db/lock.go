package db

import (
	"context"
	"database/sql"
	"fmt"
)

// AdvisoryLocker takes PostgreSQL session-level advisory locks.
// The lock lives on a dedicated pooled connection until the returned
// release func is called.
type AdvisoryLocker struct {
	db *sql.DB
}

// NewAdvisoryLocker creates a new AdvisoryLocker
func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// TryLock attempts pg_try_advisory_lock(hashtext(name)) without blocking.
// ok is false when another session holds the lock.
func (l *AdvisoryLocker) TryLock(ctx context.Context, name string) (release func(), ok bool, err error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !locked {
		_ = conn.Close()
		return nil, false, nil
	}

	release = func() {
		// Unlock on a fresh context so a cancelled caller still releases the lock.
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, name)
		_ = conn.Close()
	}
	return release, true, nil
}
