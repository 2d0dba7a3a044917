package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/levmarch/fundarb/internal/domain"
)

// HedgeStore implements domain.HedgeStore using PostgreSQL. One row per
// hedge; state transitions update the row in place so the table always shows
// the unit's current state.
type HedgeStore struct {
	pool *pgxpool.Pool
}

// NewHedgeStore creates a HedgeStore backed by the given connection pool.
func NewHedgeStore(pool *pgxpool.Pool) *HedgeStore {
	return &HedgeStore{pool: pool}
}

// Create inserts the hedge journal row.
func (s *HedgeStore) Create(ctx context.Context, h domain.Hedge) error {
	const q = `
		INSERT INTO hedges (
			id, canonical, exchange_long, exchange_short, size,
			price_long, price_short, funding_long, funding_short, score,
			state, reason, opened_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, q,
		h.ID, h.Canonical, h.Long.Exchange, h.Short.Exchange, h.Long.Size,
		h.Source.PriceLong, h.Source.PriceShort, h.Source.FundingLong, h.Source.FundingShort, h.Source.Score,
		string(h.State), h.Reason, h.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create hedge %s: %w", h.ID, err)
	}
	return nil
}

// UpdateState records a state transition. Terminal states also stamp
// closed_at.
func (s *HedgeStore) UpdateState(ctx context.Context, id string, state domain.HedgeState, reason string) error {
	const q = `
		UPDATE hedges SET
			state = $2,
			reason = $3,
			updated_at = NOW(),
			closed_at = CASE WHEN $4 THEN NOW() ELSE closed_at END
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id, string(state), reason, state.Terminal())
	if err != nil {
		return fmt.Errorf("postgres: update hedge %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update hedge %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListRecent returns the newest hedges, most recent first.
func (s *HedgeStore) ListRecent(ctx context.Context, limit int) ([]domain.Hedge, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, canonical, exchange_long, exchange_short, size,
		       price_long, price_short, funding_long, funding_short, score,
		       state, reason, opened_at, closed_at
		FROM hedges
		ORDER BY opened_at DESC
		LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list hedges: %w", err)
	}
	defer rows.Close()

	var hedges []domain.Hedge
	for rows.Next() {
		var h domain.Hedge
		var state string
		if err := rows.Scan(
			&h.ID, &h.Canonical, &h.Long.Exchange, &h.Short.Exchange, &h.Long.Size,
			&h.Source.PriceLong, &h.Source.PriceShort, &h.Source.FundingLong, &h.Source.FundingShort, &h.Source.Score,
			&state, &h.Reason, &h.OpenedAt, &h.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan hedge: %w", err)
		}
		h.State = domain.HedgeState(state)
		h.Short.Size = h.Long.Size
		h.Long.Symbol = h.Canonical
		h.Short.Symbol = h.Canonical
		h.Long.Side = domain.SideLong
		h.Short.Side = domain.SideShort
		h.Source.Canonical = h.Canonical
		h.Source.ExchangeLong = h.Long.Exchange
		h.Source.ExchangeShort = h.Short.Exchange
		hedges = append(hedges, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list hedges: %w", err)
	}
	return hedges, nil
}
