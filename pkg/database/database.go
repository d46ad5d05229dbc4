package database

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/staybook/pkg/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MaxConnLifetime = cfg.MaxLifetime
	poolCfg.HealthCheckPeriod = 30 * time.Second

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

const schema = `
CREATE TABLE IF NOT EXISTS quotes (
	id               TEXT PRIMARY KEY,
	user_id          TEXT,
	listing_id       TEXT NOT NULL,
	start_date       DATE NOT NULL,
	end_date         DATE NOT NULL,
	nights           INT NOT NULL,
	guests           INT NOT NULL,
	nightly_rate     BIGINT NOT NULL,
	base_amount      BIGINT NOT NULL,
	platform_fee_bps BIGINT NOT NULL,
	platform_fee     BIGINT NOT NULL,
	vat_bps          BIGINT NOT NULL,
	vat              BIGINT NOT NULL,
	total_amount     BIGINT NOT NULL,
	currency         TEXT NOT NULL,
	available        BOOLEAN NOT NULL,
	issued_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (base_amount + platform_fee + vat = total_amount)
);
CREATE INDEX IF NOT EXISTS quotes_listing_issued_idx ON quotes (listing_id, issued_at DESC);
`

// Migrate creates the tables the storefront owns.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
