// Package entitlement реализует журнал прав доступа: текущий тариф
// пользователя и применение проверенных платёжных событий.
//
// Событие применяется не более одного раза по его id. Конкурирующие события
// одного пользователя сериализуются условной заменой записи по её версии.
// Тариф и статус упорядочены каждый своим ключом (внешнее время события,
// при равенстве больший id), поэтому итог не зависит от порядка доставки.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/video-subscription/internal/capability"
	"github.com/magabrotheeeer/video-subscription/internal/lib/apperr"
	"github.com/magabrotheeeer/video-subscription/internal/lib/sl"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/storage"
)

const maxSwapAttempts = 32

// AdapterResolver выбирает хранилища для текущего вызова.
type AdapterResolver interface {
	Resolve(ctx context.Context) capability.Adapters
}

// Cache — кеш снимков entitlement.
type Cache interface {
	GetEntitlement(ctx context.Context, userID string) (models.Entitlement, bool, error)
	PutEntitlement(ctx context.Context, e models.Entitlement) (bool, error)
	Invalidate(ctx context.Context, userID string) error
}

// Observer учитывает результаты применения событий.
type Observer interface {
	BillingEvent(eventType, result string)
}

// Ledger — журнал entitlement.
type Ledger struct {
	log      *slog.Logger
	resolver AdapterResolver
	cache    Cache
	observer Observer
	prices   map[string]models.Tier
	timeout  time.Duration
}

// New создаёт Ledger. prices сопоставляет тариф цене провайдера.
// cache и observer могут быть nil.
func New(log *slog.Logger, resolver AdapterResolver, prices map[models.Tier]string,
	cache Cache, observer Observer, timeout time.Duration) *Ledger {
	byPrice := make(map[string]models.Tier, len(prices))
	for tier, price := range prices {
		byPrice[price] = tier
	}
	return &Ledger{
		log:      log,
		resolver: resolver,
		cache:    cache,
		observer: observer,
		prices:   byPrice,
		timeout:  timeout,
	}
}

func (l *Ledger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}

func (l *Ledger) store(ctx context.Context, op string) (storage.EntitlementStore, error) {
	adapters := l.resolver.Resolve(ctx)
	if adapters.Restricted {
		return nil, apperr.Wrap(apperr.Unavailable, op, storage.ErrRestricted)
	}
	return adapters.Entitlements, nil
}

// CurrentTier возвращает действующий тариф пользователя.
func (l *Ledger) CurrentTier(ctx context.Context, userID string) (models.Tier, error) {
	e, err := l.Current(ctx, userID)
	if err != nil {
		return models.TierNone, err
	}
	return e.EffectiveTier(), nil
}

// Current возвращает запись entitlement пользователя. Пользователь без
// событий получает запись none/canceled.
func (l *Ledger) Current(ctx context.Context, userID string) (models.Entitlement, error) {
	const op = "services.entitlement.Current"

	store, err := l.store(ctx, op)
	if err != nil {
		return models.Entitlement{}, err
	}

	if l.cache != nil {
		if e, found, err := l.cache.GetEntitlement(ctx, userID); err != nil {
			l.log.Warn("entitlement cache read failed", slog.String("op", op), sl.Err(err))
		} else if found {
			return e, nil
		}
	}

	sctx, cancel := l.withTimeout(ctx)
	defer cancel()

	e, err := l.read(sctx, store, userID)
	if err != nil {
		return models.Entitlement{}, apperr.Wrap(apperr.Unavailable, op, err)
	}
	l.remember(ctx, e)
	return e, nil
}

// read возвращает запись пользователя; запись без событий имеет Version 0.
func (l *Ledger) read(ctx context.Context, store storage.EntitlementStore, userID string) (models.Entitlement, error) {
	e, err := store.GetEntitlement(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.NoEntitlement(userID), nil
	}
	if err != nil {
		return models.Entitlement{}, err
	}
	return *e, nil
}

func (l *Ledger) remember(ctx context.Context, e models.Entitlement) {
	if l.cache == nil {
		return
	}
	if _, err := l.cache.PutEntitlement(ctx, e); err != nil {
		l.log.Warn("entitlement cache write failed", slog.String("user_id", e.UserID), sl.Err(err))
	}
}

// refresh обновляет кеш после записи. Если новый снимок записать не
// удалось, старый удаляется, иначе кеш продолжал бы отдавать прежний тариф.
func (l *Ledger) refresh(ctx context.Context, e models.Entitlement) {
	if l.cache == nil {
		return
	}
	_, err := l.cache.PutEntitlement(ctx, e)
	if err == nil {
		return
	}
	l.log.Warn("entitlement cache write failed, invalidating", slog.String("user_id", e.UserID), sl.Err(err))
	if err := l.cache.Invalidate(ctx, e.UserID); err != nil {
		l.log.Error("entitlement cache invalidation failed", slog.String("user_id", e.UserID), sl.Err(err))
	}
}

func (l *Ledger) observe(eventType, result string) {
	if l.observer != nil {
		l.observer.BillingEvent(eventType, result)
	}
}

// ApplyBillingEvent применяет проверенное событие.
//
// Повторное событие, событие, которое запись уже перекрывает более поздними,
// и событие, не касающееся entitlement, не меняют запись и возвращают
// Applied == false без ошибки; Outcome различает эти случаи. Событие для
// неизвестного пользователя или неизвестной цены возвращает Malformed
// или InvalidTier.
func (l *Ledger) ApplyBillingEvent(ctx context.Context, event models.BillingEvent) (models.ApplyResult, error) {
	const op = "services.entitlement.ApplyBillingEvent"
	log := l.log.With(
		slog.String("op", op),
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
		slog.String("user_id", event.UserID),
	)

	if event.ID == "" || event.UserID == "" || event.CreatedAt.IsZero() {
		return models.ApplyResult{}, apperr.New(apperr.Malformed, op, "event id, user and time are required")
	}

	store, err := l.store(ctx, op)
	if err != nil {
		return models.ApplyResult{}, err
	}

	sctx, cancel := l.withTimeout(ctx)
	defer cancel()

	unchanged := func(cur models.Entitlement, outcome models.ApplyOutcome) (models.ApplyResult, error) {
		if outcome != models.OutcomeDuplicate {
			if _, err := store.RecordEvent(sctx, event); err != nil {
				return models.ApplyResult{}, apperr.Wrap(apperr.Unavailable, op, err)
			}
		}
		l.observe(event.Type, string(outcome))
		return models.ApplyResult{Applied: false, Outcome: outcome, Tier: cur.EffectiveTier()}, nil
	}

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		applied, err := store.IsEventApplied(sctx, event.ID)
		if err != nil {
			return models.ApplyResult{}, apperr.Wrap(apperr.Unavailable, op, err)
		}
		cur, err := l.read(sctx, store, event.UserID)
		if err != nil {
			return models.ApplyResult{}, apperr.Wrap(apperr.Unavailable, op, err)
		}
		if applied {
			log.Info("duplicate event ignored")
			return unchanged(cur, models.OutcomeDuplicate)
		}

		eff, err := l.effectOf(event)
		if errors.Is(err, errIgnored) {
			log.Info("event does not change entitlement", slog.String("status", event.Status))
			return unchanged(cur, models.OutcomeIgnored)
		}
		if err != nil {
			l.observe(event.Type, "rejected")
			return models.ApplyResult{}, fmt.Errorf("%s: %w", op, err)
		}

		next, changed := merge(cur, event, eff)
		if !changed {
			log.Info("stale event recorded without change",
				slog.String("status_source", cur.SourceEventID),
				slog.String("tier_source", cur.TierEventID),
			)
			return unchanged(cur, models.OutcomeStale)
		}

		swapped, err := store.SwapEntitlement(sctx, event, next, cur.Version)
		switch {
		case errors.Is(err, storage.ErrEventApplied):
			continue
		case errors.Is(err, storage.ErrNotFound):
			l.observe(event.Type, "rejected")
			return models.ApplyResult{}, apperr.New(apperr.Malformed, op, "unknown user")
		case err != nil:
			return models.ApplyResult{}, apperr.Wrap(apperr.Unavailable, op, err)
		case !swapped:
			log.Debug("entitlement changed concurrently, retrying", slog.Int("attempt", attempt+1))
			continue
		}

		l.refresh(ctx, next)
		log.Info("entitlement updated",
			slog.String("tier", string(next.Tier)),
			slog.String("status", string(next.Status)),
			slog.Int64("version", next.Version),
		)
		l.observe(event.Type, string(models.OutcomeApplied))
		return models.ApplyResult{Applied: true, Outcome: models.OutcomeApplied, Tier: next.EffectiveTier()}, nil
	}

	return models.ApplyResult{}, apperr.New(apperr.Unavailable, op, "too much contention on entitlement")
}
