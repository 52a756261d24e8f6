package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/storage"
)

// GetEntitlement возвращает запись entitlement пользователя.
func (s *Storage) GetEntitlement(ctx context.Context, userID string) (*models.Entitlement, error) {
	const op = "storage.GetEntitlement"

	query := `SELECT user_uid, tier, status, effective_since, source_event_id,
			         tier_since, tier_event_id, version
			  FROM entitlements
			  WHERE user_uid = $1`
	var e models.Entitlement
	if err := s.DB.QueryRowContext(ctx, query, userID).Scan(
		&e.UserID, &e.Tier, &e.Status, &e.EffectiveSince, &e.SourceEventID,
		&e.TierSince, &e.TierEventID, &e.Version,
	); err != nil {
		return nil, mapErr(op, err)
	}
	return &e, nil
}

// IsEventApplied сообщает, обработано ли событие.
func (s *Storage) IsEventApplied(ctx context.Context, eventID string) (bool, error) {
	const op = "storage.IsEventApplied"

	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM billing_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// SwapEntitlement в одной транзакции отмечает событие обработанным
// и заменяет entitlement при совпадении версии.
//
// Вставка в billing_events по первичному ключу сериализует повторные
// доставки одного события, а условие version = prev сериализует
// конкурирующие события одного пользователя.
func (s *Storage) SwapEntitlement(ctx context.Context, event models.BillingEvent, next models.Entitlement, prevVersion int64) (swapped bool, err error) {
	const op = "storage.SwapEntitlement"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if !swapped {
			_ = tx.Rollback()
		}
	}()

	inserted, err := insertEvent(ctx, tx, event)
	if err != nil {
		return false, mapErr(op, err)
	}
	if !inserted {
		return false, fmt.Errorf("%s: %w", op, storage.ErrEventApplied)
	}

	var res sql.Result
	if prevVersion == 0 {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO entitlements (user_uid, tier, status, effective_since, source_event_id,
			                           tier_since, tier_event_id, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (user_uid) DO NOTHING`,
			next.UserID, next.Tier, next.Status, next.EffectiveSince, next.SourceEventID,
			next.TierSince, next.TierEventID, next.Version)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE entitlements
			 SET tier = $2, status = $3, effective_since = $4, source_event_id = $5,
			     tier_since = $6, tier_event_id = $7, version = $8, updated_at = NOW()
			 WHERE user_uid = $1 AND version = $9`,
			next.UserID, next.Tier, next.Status, next.EffectiveSince, next.SourceEventID,
			next.TierSince, next.TierEventID, next.Version, prevVersion)
	}
	if err != nil {
		return false, mapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// RecordEvent отмечает событие обработанным без изменения entitlement.
func (s *Storage) RecordEvent(ctx context.Context, event models.BillingEvent) (bool, error) {
	const op = "storage.RecordEvent"

	inserted, err := insertEvent(ctx, s.DB, event)
	if err != nil {
		return false, mapErr(op, err)
	}
	return inserted, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, event models.BillingEvent) (bool, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO billing_events (event_id, event_type, user_uid, occurred_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id) DO NOTHING`,
		event.ID, event.Type, event.UserID, event.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
