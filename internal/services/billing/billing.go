// Package billing связывает сервис с платёжным провайдером: сессии оплаты,
// купоны и промокоды, приём вебхуков.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/magabrotheeeer/video-subscription/internal/lib/apperr"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/paymentprovider"
)

// Processor — операции платёжного провайдера.
type Processor interface {
	GetCoupon(ctx context.Context, id string) (*paymentprovider.Coupon, error)
	CreateCoupon(ctx context.Context, def models.CouponDefinition) (*paymentprovider.Coupon, error)
	DeleteCoupon(ctx context.Context, id string) error
	FindPromotionCode(ctx context.Context, code string) (*paymentprovider.PromotionCode, error)
	CreatePromotionCode(ctx context.Context, code, couponID string, expiresAt *time.Time) (*paymentprovider.PromotionCode, error)
	CreateCheckoutSession(ctx context.Context, p paymentprovider.CheckoutSessionParams) (*paymentprovider.CheckoutSession, error)
}

// Applier применяет проверенные события к entitlement.
type Applier interface {
	ApplyBillingEvent(ctx context.Context, event models.BillingEvent) (models.ApplyResult, error)
}

// Enqueuer ставит проверенное событие в очередь.
type Enqueuer interface {
	Publish(ctx context.Context, messageID string, message any) error
}

// Observer учитывает исходы вебхуков.
type Observer interface {
	Webhook(outcome string)
}

// Config — параметры биллинга.
type Config struct {
	Prices           map[models.Tier]string
	SuccessURL       string
	CancelURL        string
	WebhookSecret    string
	WebhookTolerance time.Duration
}

// Service — менеджер жизненного цикла подписки.
type Service struct {
	log       *slog.Logger
	processor Processor
	applier   Applier
	queue     Enqueuer
	observer  Observer
	cfg       Config
	now       func() time.Time

	group singleflight.Group
}

// New создаёт Service. Без queue события применяются сразу при приёме
// вебхука. queue и observer могут быть nil.
func New(log *slog.Logger, processor Processor, applier Applier, queue Enqueuer, observer Observer, cfg Config) *Service {
	return &Service{
		log:       log,
		processor: processor,
		applier:   applier,
		queue:     queue,
		observer:  observer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// providerErr переводит ошибку провайдера в PaymentProviderError,
// сохраняя его сообщение. Таймаут запроса становится Unavailable.
func providerErr(op string, err error) error {
	var pe *paymentprovider.Error
	if errors.As(err, &pe) && pe.Message != "" {
		return &apperr.Error{Kind: apperr.PaymentProviderError, Op: op, Msg: pe.Message, Err: err}
	}
	if ctxErr := apperr.FromContext(op, err); apperr.KindOf(ctxErr) == apperr.Unavailable {
		return ctxErr
	}
	return &apperr.Error{Kind: apperr.PaymentProviderError, Op: op, Msg: "payment provider request failed", Err: err}
}

// CreateCheckoutSession создаёт сессию оплаты тарифа tier и возвращает
// адрес, на который нужно перенаправить пользователя.
func (s *Service) CreateCheckoutSession(ctx context.Context, user models.User, tier models.Tier, promotionCode string) (string, error) {
	const op = "services.billing.CreateCheckoutSession"
	log := s.log.With(slog.String("op", op), slog.String("user_id", user.ID), slog.String("tier", string(tier)))

	price, ok := s.cfg.Prices[tier]
	if !ok || tier == models.TierNone || price == "" {
		return "", apperr.New(apperr.InvalidTier, op, fmt.Sprintf("unknown tier %q", tier))
	}

	params := paymentprovider.CheckoutSessionParams{
		PriceID:       price,
		UserID:        user.ID,
		CustomerEmail: user.Email,
		SuccessURL:    s.cfg.SuccessURL,
		CancelURL:     s.cfg.CancelURL,
		Metadata:      map[string]string{paymentprovider.MetadataTier: string(tier)},
	}

	if promotionCode != "" {
		promo, err := s.processor.FindPromotionCode(ctx, promotionCode)
		switch {
		case errors.Is(err, paymentprovider.ErrNotFound):
			return "", apperr.New(apperr.PaymentProviderError, op, fmt.Sprintf("promotion code %q is not valid", promotionCode))
		case err != nil:
			return "", providerErr(op, err)
		case !promo.Active:
			return "", apperr.New(apperr.PaymentProviderError, op, fmt.Sprintf("promotion code %q is no longer active", promotionCode))
		}
		params.PromotionCodeID = promo.ID
	}

	session, err := s.processor.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", providerErr(op, err)
	}
	log.Info("checkout session created", slog.String("session_id", session.ID))
	return session.URL, nil
}
