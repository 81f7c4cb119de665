// Package pg implements the market store interfaces on Postgres via pgx.
package pg

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketsim/internal/market"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewStore(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger}
}

// EnsureSchema applies the embedded DDL; every statement is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) CreateInstrument(ctx context.Context, inst market.Instrument, initialPriceMicros int64) (market.Instrument, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return market.Instrument{}, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO instruments
		    (symbol, display_name, category, price_precision, volatility_rating, shares_outstanding_units, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, inst.Symbol, inst.DisplayName, inst.Category, inst.Precision, inst.VolatilityRating,
		inst.SharesOutstanding, inst.CreatedBy).Scan(&inst.ID, &inst.CreatedAt)
	if err != nil {
		return market.Instrument{}, err
	}

	marketCap, err := market.NotionalMicros(initialPriceMicros, inst.SharesOutstanding)
	if err != nil {
		return market.Instrument{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO instrument_state (instrument_id, price_micros, market_cap_micros, updated_at)
		VALUES ($1, $2, $3, now())
	`, inst.ID, initialPriceMicros, marketCap); err != nil {
		return market.Instrument{}, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO instrument_price_history (instrument_id, tick_at, price_micros, volume, reason)
		VALUES ($1, now(), $2, 0, 'listing')
	`, inst.ID, initialPriceMicros); err != nil {
		return market.Instrument{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return market.Instrument{}, err
	}
	return inst, nil
}

func (s *Store) ListInstruments(ctx context.Context) ([]market.Instrument, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, symbol, display_name, category, price_precision, volatility_rating,
		       shares_outstanding_units, created_by, created_at
		FROM instruments
		ORDER BY symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Instrument
	for rows.Next() {
		var inst market.Instrument
		if err := rows.Scan(&inst.ID, &inst.Symbol, &inst.DisplayName, &inst.Category, &inst.Precision,
			&inst.VolatilityRating, &inst.SharesOutstanding, &inst.CreatedBy, &inst.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

const quoteQuery = `
	SELECT i.id, i.symbol, i.display_name, i.category, i.price_precision, i.volatility_rating,
	       i.shares_outstanding_units, i.created_by, i.created_at,
	       st.price_micros, st.volume, st.change_1h, st.change_24h, st.volatility_24h,
	       st.market_cap_micros, st.updated_at
	FROM instruments i
	JOIN instrument_state st ON st.instrument_id = i.id
`

func scanQuote(row pgx.Row) (market.Quote, error) {
	var q market.Quote
	err := row.Scan(
		&q.Instrument.ID, &q.Instrument.Symbol, &q.Instrument.DisplayName, &q.Instrument.Category,
		&q.Instrument.Precision, &q.Instrument.VolatilityRating, &q.Instrument.SharesOutstanding,
		&q.Instrument.CreatedBy, &q.Instrument.CreatedAt,
		&q.State.PriceMicros, &q.State.Volume, &q.State.Change1h, &q.State.Change24h,
		&q.State.Volatility24h, &q.State.MarketCapMicros, &q.State.UpdatedAt,
	)
	q.State.InstrumentID = q.Instrument.ID
	return q, err
}

func (s *Store) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	q, err := scanQuote(s.db.QueryRow(ctx, quoteQuery+` WHERE i.symbol = $1`, symbol))
	if err == pgx.ErrNoRows {
		return market.Quote{}, market.ErrInstrumentNotFound
	}
	return q, err
}

func (s *Store) ListQuotes(ctx context.Context) ([]market.Quote, error) {
	rows, err := s.db.Query(ctx, quoteQuery+` ORDER BY i.symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ApplyTick rewrites every instrument's live state and appends the matching
// history rows in one transaction, batched over a single round trip.
func (s *Store) ApplyTick(ctx context.Context, batch market.TickBatch) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, u := range batch.Updates {
		b.Queue(`
			UPDATE instrument_state
			SET price_micros = $1, volume = $2, change_1h = $3, change_24h = $4,
			    volatility_24h = $5, market_cap_micros = $6, updated_at = $7
			WHERE instrument_id = $8
		`, u.State.PriceMicros, u.State.Volume, u.State.Change1h, u.State.Change24h,
			u.State.Volatility24h, u.State.MarketCapMicros, batch.At, u.State.InstrumentID)
		b.Queue(`
			INSERT INTO instrument_price_history (instrument_id, tick_at, price_micros, volume, reason)
			VALUES ($1, $2, $3, $4, $5)
		`, u.State.InstrumentID, batch.At, u.State.PriceMicros, u.State.Volume, u.Reason)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("tick batch: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) PriceHistory(ctx context.Context, instrumentID int64, since time.Time) ([]market.PricePoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT tick_at, price_micros, volume, reason
		FROM instrument_price_history
		WHERE instrument_id = $1 AND tick_at >= $2
		ORDER BY tick_at
	`, instrumentID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.PricePoint
	for rows.Next() {
		var p market.PricePoint
		if err := rows.Scan(&p.TickAt, &p.PriceMicros, &p.Volume, &p.Reason); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
