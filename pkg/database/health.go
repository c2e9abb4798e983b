package database

import (
	"context"
	"fmt"
	"time"
)

// CheckHealth performs a health check on the database by executing a simple query.
// The default timeout is 5 seconds unless the context has a shorter timeout.
func CheckHealth(ctx context.Context, db Database) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	var result int
	if err := db.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if result != 1 {
		return fmt.Errorf("health check returned unexpected result: %d", result)
	}

	return nil
}

// PingWithTimeout pings the database, giving up after timeout.
func (p *Pool) PingWithTimeout(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return p.Ping(ctx)
}

// Check implements health.Checker. The system of record is a required
// component of the sync worker.
func (p *Pool) Check(ctx context.Context) error {
	if err := CheckHealth(ctx, p); err != nil {
		return err
	}

	if stats := p.Stats(); stats != nil && stats.MaxConns() > 0 {
		if stats.IdleConns() == 0 && stats.TotalConns() == stats.MaxConns() && stats.EmptyAcquireCount() > 0 {
			return fmt.Errorf("connection pool exhausted: %d/%d connections in use",
				stats.TotalConns(), stats.MaxConns())
		}
	}

	return nil
}
