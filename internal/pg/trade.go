package pg

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"marketsim/internal/market"
)

// ExecuteTrade applies the wallet move, position change and order record as
// one serializable transaction, retrying on serialization conflicts.
func (s *Store) ExecuteTrade(ctx context.Context, exec market.TradeExec) (market.TradeReceipt, error) {
	var out market.TradeReceipt

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return out, err
		}
		err = func() error {
			defer tx.Rollback(ctx)

			if err := claimIdempotency(ctx, tx, exec.ActorID, exec.IdempotencyKey, "order"); err != nil {
				return err
			}

			var balance int64
			if err := tx.QueryRow(ctx, `
				SELECT balance_micros
				FROM wallets
				WHERE actor_id = $1
				FOR UPDATE
			`, exec.ActorID).Scan(&balance); err != nil {
				if err == pgx.ErrNoRows {
					return market.ErrInsufficientFunds
				}
				return err
			}

			switch exec.Side {
			case market.SideBuy:
				cost := exec.NotionalMicros + exec.FeeMicros
				if balance < cost {
					return market.ErrInsufficientFunds
				}
				if err := upsertBuyPosition(ctx, tx, exec.ActorID, exec.Instrument.ID, exec.QuantityUnits, exec.ExecPriceMicros); err != nil {
					return err
				}
				balance -= cost
			case market.SideSell:
				if err := applySellPosition(ctx, tx, exec.ActorID, exec.Instrument.ID, exec.QuantityUnits); err != nil {
					return err
				}
				balance += exec.NotionalMicros - exec.FeeMicros
			}

			if _, err := tx.Exec(ctx, `
				UPDATE wallets
				SET balance_micros = $1, updated_at = now()
				WHERE actor_id = $2
			`, balance, exec.ActorID); err != nil {
				return err
			}

			if err := tx.QueryRow(ctx, `
				INSERT INTO orders
				    (actor_id, instrument_id, side, quantity_units, price_micros, exec_price_micros,
				     fee_micros, order_type, limit_price_micros, stop_price_micros, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				RETURNING id
			`, exec.ActorID, exec.Instrument.ID, exec.Side, exec.QuantityUnits, exec.QuotedPriceMicros,
				exec.ExecPriceMicros, exec.FeeMicros, exec.Type, exec.LimitPriceMicros,
				exec.StopPriceMicros, exec.At).Scan(&out.OrderID); err != nil {
				return err
			}

			out.BalanceMicros = balance
			return tx.Commit(ctx)
		}()
		if err == nil {
			return out, nil
		}
		if !isSerializationError(err) {
			return out, err
		}
		if attempt == maxAttempts-1 {
			return out, market.ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return out, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return out, market.ErrTxConflict
}

// EnsureActor provisions a wallet with the starter balance on first contact.
func (s *Store) EnsureActor(ctx context.Context, actorID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO wallets (actor_id, balance_micros)
		VALUES ($1, $2)
		ON CONFLICT (actor_id) DO NOTHING
	`, actorID, market.StarterBalanceMicros)
	return err
}

func (s *Store) Balance(ctx context.Context, actorID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx, `
		SELECT balance_micros FROM wallets WHERE actor_id = $1
	`, actorID).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

func (s *Store) Credit(ctx context.Context, actorID string, amountMicros int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE wallets
		SET balance_micros = balance_micros + $1, updated_at = now()
		WHERE actor_id = $2
	`, amountMicros, actorID)
	return err
}

func (s *Store) Debit(ctx context.Context, actorID string, amountMicros int64) error {
	cmd, err := s.db.Exec(ctx, `
		UPDATE wallets
		SET balance_micros = balance_micros - $1, updated_at = now()
		WHERE actor_id = $2 AND balance_micros >= $1
	`, amountMicros, actorID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrInsufficientFunds
	}
	return nil
}

func (s *Store) Quantity(ctx context.Context, actorID string, instrumentID int64) (int64, error) {
	var qty int64
	err := s.db.QueryRow(ctx, `
		SELECT quantity_units FROM positions WHERE actor_id = $1 AND instrument_id = $2
	`, actorID, instrumentID).Scan(&qty)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return qty, err
}

func (s *Store) AddPosition(ctx context.Context, actorID string, instrumentID, qtyUnits, priceMicros int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := upsertBuyPosition(ctx, tx, actorID, instrumentID, qtyUnits, priceMicros); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) RemovePosition(ctx context.Context, actorID string, instrumentID, qtyUnits int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := applySellPosition(ctx, tx, actorID, instrumentID, qtyUnits); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func upsertBuyPosition(ctx context.Context, tx pgx.Tx, actorID string, instrumentID, qtyUnits, priceMicros int64) error {
	var oldQty, oldAvg int64
	err := tx.QueryRow(ctx, `
		SELECT quantity_units, avg_price_micros
		FROM positions
		WHERE actor_id = $1 AND instrument_id = $2
		FOR UPDATE
	`, actorID, instrumentID).Scan(&oldQty, &oldAvg)
	if err != nil && err != pgx.ErrNoRows {
		return err
	}

	if err == pgx.ErrNoRows {
		_, err = tx.Exec(ctx, `
			INSERT INTO positions (actor_id, instrument_id, quantity_units, avg_price_micros)
			VALUES ($1, $2, $3, $4)
		`, actorID, instrumentID, qtyUnits, priceMicros)
		return err
	}

	newAvg, err := market.WeightedAverageMicros(oldQty, oldAvg, qtyUnits, priceMicros)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE positions
		SET quantity_units = $1, avg_price_micros = $2, updated_at = now()
		WHERE actor_id = $3 AND instrument_id = $4
	`, oldQty+qtyUnits, newAvg, actorID, instrumentID)
	return err
}

func applySellPosition(ctx context.Context, tx pgx.Tx, actorID string, instrumentID, qtyUnits int64) error {
	var oldQty int64
	if err := tx.QueryRow(ctx, `
		SELECT quantity_units
		FROM positions
		WHERE actor_id = $1 AND instrument_id = $2
		FOR UPDATE
	`, actorID, instrumentID).Scan(&oldQty); err != nil {
		if err == pgx.ErrNoRows {
			return market.ErrInsufficientShares
		}
		return err
	}
	if oldQty < qtyUnits {
		return market.ErrInsufficientShares
	}
	next := oldQty - qtyUnits
	if next == 0 {
		_, err := tx.Exec(ctx, `
			DELETE FROM positions WHERE actor_id = $1 AND instrument_id = $2
		`, actorID, instrumentID)
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE positions
		SET quantity_units = $1, updated_at = now()
		WHERE actor_id = $2 AND instrument_id = $3
	`, next, actorID, instrumentID)
	return err
}

func claimIdempotency(ctx context.Context, tx pgx.Tx, actorID, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		// CLI and API clients send keys; internal callers may not.
		return nil
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO idempotency_keys (actor_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (actor_id, key) DO NOTHING
	`, actorID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrDuplicateIdempotency
	}
	return nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
