// Package storage is a Postgres-backed reference implementation of a
// persisted-state-layout contract kept deliberately out of core scope:
// durable storage of finalized blocks and chain receipts; world-state
// snapshots are not stored. Nothing in core imports this package;
// cmd/validatornode is its only caller.
//
// The client follows a connection-pool-plus-health-check pattern:
// construct against a DSN, verify with a ping, expose pool stats.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/foldchain/zkconsensus/pkg/config"
)

// Client wraps a pooled Postgres connection.
type Client struct {
	db *sql.DB
}

// NewClient opens a connection pool sized from cfg and verifies
// connectivity before returning.
func NewClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage: config cannot be nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("storage: DatabaseURL cannot be empty")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMinConns)
	db.SetConnMaxIdleTime(time.Duration(cfg.DatabaseMaxIdleTime) * time.Second)
	db.SetConnMaxLifetime(time.Duration(cfg.DatabaseMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// HealthStatus mirrors database/sql.DBStats plus a liveness check.
type HealthStatus struct {
	Healthy         bool      `json:"healthy"`
	Error           string    `json:"error,omitempty"`
	OpenConnections int       `json:"open_connections"`
	InUse           int       `json:"in_use"`
	Idle            int       `json:"idle"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Health reports connectivity and pool occupancy.
func (c *Client) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{CheckedAt: time.Now()}
	if err := c.db.PingContext(ctx); err != nil {
		status.Error = err.Error()
		return status
	}
	stats := c.db.Stats()
	status.Healthy = true
	status.OpenConnections = stats.OpenConnections
	status.InUse = stats.InUse
	status.Idle = stats.Idle
	return status
}
