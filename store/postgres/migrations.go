package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the coins store.
var Migrations = migrate.NewGroup("coins")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_coins_balances",
			Version: "20240101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS coins_balances (
    user_id    TEXT PRIMARY KEY,
    amount     BIGINT NOT NULL DEFAULT 0 CHECK (amount >= 0),
    version    BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS coins_balances`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_coins_reservations",
			Version: "20240101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS coins_reservations (
    transaction_id TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL DEFAULT '',
    kind           TEXT NOT NULL DEFAULT '',
    amount         BIGINT NOT NULL DEFAULT 0 CHECK (amount > 0),
    status         TEXT NOT NULL DEFAULT 'pending',
    resolved_at    TIMESTAMPTZ,
    reason         TEXT NOT NULL DEFAULT '',
    metadata       JSONB NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_coins_reservations_user ON coins_reservations (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_coins_reservations_stale ON coins_reservations (created_at) WHERE status = 'pending';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS coins_reservations`)
				return err
			},
		},
	)
}
