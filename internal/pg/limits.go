package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

func (s *Store) TradeWindow(ctx context.Context, actorID string, minuteStart time.Time) (int64, time.Time, error) {
	var used int64
	err := s.db.QueryRow(ctx, `
		SELECT notional_used_micros FROM player_trade_limits
		WHERE actor_id = $1 AND minute_start = $2
	`, actorID, minuteStart).Scan(&used)
	if err != nil && err != pgx.ErrNoRows {
		return 0, time.Time{}, err
	}

	var lastTrade *time.Time
	if err := s.db.QueryRow(ctx, `
		SELECT MAX(last_trade_at) FROM player_trade_limits WHERE actor_id = $1
	`, actorID).Scan(&lastTrade); err != nil {
		return 0, time.Time{}, err
	}
	if lastTrade == nil {
		return used, time.Time{}, nil
	}
	return used, *lastTrade, nil
}

func (s *Store) RecordTradeWindow(ctx context.Context, actorID string, minuteStart time.Time, notionalMicros int64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO player_trade_limits (actor_id, minute_start, notional_used_micros, last_trade_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (actor_id, minute_start) DO UPDATE
		SET notional_used_micros = player_trade_limits.notional_used_micros + EXCLUDED.notional_used_micros,
		    last_trade_at = EXCLUDED.last_trade_at
	`, actorID, minuteStart, notionalMicros, at)
	return err
}

func (s *Store) PruneTradeWindows(ctx context.Context, actorID string, before time.Time) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM player_trade_limits WHERE actor_id = $1 AND minute_start < $2
	`, actorID, before)
	return err
}
