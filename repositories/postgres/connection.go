package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garvis/router/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg *config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return NewFromSQL(db, logger), nil
}

// NewFromSQL wraps an already opened pool.
func NewFromSQL(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// InitSchema creates the decision table and its indexes.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS route_decisions (
			id UUID PRIMARY KEY,
			request_id VARCHAR(255),
			ts TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			source VARCHAR(16) NOT NULL,
			rule VARCHAR(255) NOT NULL,
			alias VARCHAR(255) NOT NULL,
			real_model VARCHAR(255),
			endpoint_id VARCHAR(255),
			prompt_chars INTEGER NOT NULL DEFAULT 0,
			est_tokens INTEGER NOT NULL DEFAULT 0,
			outcome VARCHAR(16) NOT NULL,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			status_code INTEGER,
			error_kind VARCHAR(64),
			error_message TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_route_decisions_ts ON route_decisions(ts);
		CREATE INDEX IF NOT EXISTS idx_route_decisions_endpoint_id ON route_decisions(endpoint_id);
		CREATE INDEX IF NOT EXISTS idx_route_decisions_outcome ON route_decisions(outcome);
		CREATE INDEX IF NOT EXISTS idx_route_decisions_request_id ON route_decisions(request_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
