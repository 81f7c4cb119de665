package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"marketsim/internal/market"
)

func (s *Store) EnsureSession(ctx context.Context, instrumentID int64, day string, priceMicros int64) (int64, error) {
	var open int64
	err := s.db.QueryRow(ctx, `
		SELECT open_price_micros FROM trading_sessions
		WHERE instrument_id = $1 AND day = $2
	`, instrumentID, day).Scan(&open)
	if err == nil {
		return open, nil
	}
	if err != pgx.ErrNoRows {
		return 0, err
	}

	// First observation of the day opens the session at this price.
	err = s.db.QueryRow(ctx, `
		INSERT INTO trading_sessions (instrument_id, day, open_price_micros)
		VALUES ($1, $2, $3)
		ON CONFLICT (instrument_id, day) DO UPDATE SET open_price_micros = trading_sessions.open_price_micros
		RETURNING open_price_micros
	`, instrumentID, day, priceMicros).Scan(&open)
	return open, err
}

func (s *Store) HaltExists(ctx context.Context, instrumentID int64, level int, day string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trading_halts
			WHERE instrument_id = $1 AND level = $2 AND day = $3
		)
	`, instrumentID, level, day).Scan(&exists)
	return exists, err
}

func (s *Store) InsertHalt(ctx context.Context, halt market.Halt) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trading_halts
		    (instrument_id, level, day, start_at, end_at, session_open_micros, trigger_price_micros)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (instrument_id, level, day) DO NOTHING
	`, halt.InstrumentID, halt.Level, sessionDayOf(halt.StartAt), halt.StartAt, halt.EndAt,
		halt.SessionOpenMicros, halt.TriggerPriceMicros)
	return err
}

func (s *Store) ActiveHalt(ctx context.Context, instrumentID int64, now time.Time) (*market.Halt, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, instrument_id, level, start_at, end_at, session_open_micros, trigger_price_micros
		FROM trading_halts
		WHERE instrument_id = $1 AND (end_at IS NULL OR end_at > $2)
		ORDER BY level DESC
		LIMIT 1
	`, instrumentID, now)
	var h market.Halt
	err := row.Scan(&h.ID, &h.InstrumentID, &h.Level, &h.StartAt, &h.EndAt, &h.SessionOpenMicros, &h.TriggerPriceMicros)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *Store) ListHalts(ctx context.Context, since time.Time) ([]market.Halt, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, instrument_id, level, start_at, end_at, session_open_micros, trigger_price_micros
		FROM trading_halts
		WHERE start_at >= $1
		ORDER BY start_at DESC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.Halt
	for rows.Next() {
		var h market.Halt
		if err := rows.Scan(&h.ID, &h.InstrumentID, &h.Level, &h.StartAt, &h.EndAt,
			&h.SessionOpenMicros, &h.TriggerPriceMicros); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func sessionDayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
