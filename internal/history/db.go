package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"gold-analysis-engine/config"
)

// DB wraps the PostgreSQL connection pool for recommendation history
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates the connection pool and runs migrations
func NewDB(cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := &DB{
		Pool:   pool,
		logger: logger.With().Str("component", "HistoryDB").Logger(),
	}

	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	db.logger.Info().Msg("history database ready")
	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS gold_recommendations (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			horizon VARCHAR(10) NOT NULL,
			direction VARCHAR(10) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			stop_loss DECIMAL(20, 8) NOT NULL DEFAULT 0,
			take_profit DECIMAL(20, 8) NOT NULL DEFAULT 0,
			take_profit_2 DECIMAL(20, 8) NOT NULL DEFAULT 0,
			confidence INTEGER NOT NULL DEFAULT 0,
			risk_reward DECIMAL(10, 4) NOT NULL DEFAULT 0,
			reasoning TEXT,
			synthetic BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gold_recommendations_symbol ON gold_recommendations(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_gold_recommendations_created_at ON gold_recommendations(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_gold_recommendations_run_id ON gold_recommendations(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("history database connection closed")
	}
}
