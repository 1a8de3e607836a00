package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/crowsnest-trading/crowsnest/internal/ledger"
	"github.com/crowsnest-trading/crowsnest/internal/positions"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    token_address TEXT PRIMARY KEY,
    id            TEXT NOT NULL,
    symbol        TEXT NOT NULL,
    category      TEXT NOT NULL,
    decimals      INT NOT NULL DEFAULT 0,
    status        TEXT NOT NULL,
    entry_price   NUMERIC NOT NULL,
    current_price NUMERIC NOT NULL,
    tokens        NUMERIC NOT NULL,
    initial_tokens NUMERIC NOT NULL,
    spent_sol     NUMERIC NOT NULL,
    realized_pnl  NUMERIC NOT NULL,
    levels        JSONB NOT NULL,
    opened_at     TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    closed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS positions_status_idx ON positions (status);
`

// Postgres persists positions in a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, verifies the connection, and ensures the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// Ping verifies the connection is healthy.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SavePosition upserts a position snapshot by token address.
func (s *Postgres) SavePosition(ctx context.Context, p positions.Position) error {
	levels, err := json.Marshal(p.Levels)
	if err != nil {
		return fmt.Errorf("store: marshal levels: %w", err)
	}

	var closedAt *time.Time
	if !p.ClosedAt.IsZero() {
		closedAt = &p.ClosedAt
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO positions (
			token_address, id, symbol, category, decimals, status,
			entry_price, current_price, tokens, initial_tokens,
			spent_sol, realized_pnl, levels, opened_at, updated_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (token_address) DO UPDATE SET
			id = EXCLUDED.id,
			symbol = EXCLUDED.symbol,
			category = EXCLUDED.category,
			decimals = EXCLUDED.decimals,
			status = EXCLUDED.status,
			entry_price = EXCLUDED.entry_price,
			current_price = EXCLUDED.current_price,
			tokens = EXCLUDED.tokens,
			initial_tokens = EXCLUDED.initial_tokens,
			spent_sol = EXCLUDED.spent_sol,
			realized_pnl = EXCLUDED.realized_pnl,
			levels = EXCLUDED.levels,
			opened_at = EXCLUDED.opened_at,
			updated_at = EXCLUDED.updated_at,
			closed_at = EXCLUDED.closed_at`,
		p.TokenAddress, p.ID, p.Symbol, string(p.Category), p.Decimals, string(p.Status),
		p.EntryPrice.String(), p.CurrentPrice.String(), p.Tokens.String(), p.InitialTokens.String(),
		p.SpentSOL.String(), p.RealizedPnL.String(), levels, p.OpenedAt, p.UpdatedAt, closedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save position %s: %w", p.TokenAddress, err)
	}
	return nil
}

// LoadOpenPositions returns every open position, for restoring the book at
// startup.
func (s *Postgres) LoadOpenPositions(ctx context.Context) ([]positions.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_address, id, symbol, category, decimals, status,
		       entry_price, current_price, tokens, initial_tokens,
		       spent_sol, realized_pnl, levels, opened_at, updated_at
		FROM positions
		WHERE status = $1
		ORDER BY opened_at`,
		string(positions.StatusOpen),
	)
	if err != nil {
		return nil, fmt.Errorf("store: load open positions: %w", err)
	}
	defer rows.Close()

	var out []positions.Position
	for rows.Next() {
		var (
			p                                           positions.Position
			category, status                            string
			entry, current, tokens, initial, spent, pnl string
			levels                                      []byte
		)
		if err := rows.Scan(
			&p.TokenAddress, &p.ID, &p.Symbol, &category, &p.Decimals, &status,
			&entry, &current, &tokens, &initial, &spent, &pnl,
			&levels, &p.OpenedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan position: %w", err)
		}

		p.Category = ledger.Category(category)
		p.Status = positions.Status(status)
		if p.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("store: parse entry price: %w", err)
		}
		if p.CurrentPrice, err = decimal.NewFromString(current); err != nil {
			return nil, fmt.Errorf("store: parse current price: %w", err)
		}
		if p.Tokens, err = decimal.NewFromString(tokens); err != nil {
			return nil, fmt.Errorf("store: parse tokens: %w", err)
		}
		if p.InitialTokens, err = decimal.NewFromString(initial); err != nil {
			return nil, fmt.Errorf("store: parse initial tokens: %w", err)
		}
		if p.SpentSOL, err = decimal.NewFromString(spent); err != nil {
			return nil, fmt.Errorf("store: parse spent sol: %w", err)
		}
		if p.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("store: parse realized pnl: %w", err)
		}
		if err := json.Unmarshal(levels, &p.Levels); err != nil {
			return nil, fmt.Errorf("store: parse levels: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
