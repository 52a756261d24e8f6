package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/video-subscription/internal/lib/apperr"
	"github.com/magabrotheeeer/video-subscription/internal/lib/sl"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/paymentprovider"
	"github.com/magabrotheeeer/video-subscription/internal/rabbitmq"
)

// Исходы приёма вебхука.
const (
	StatusApplied   = "applied"
	StatusDuplicate = "duplicate"
	StatusStale     = "stale"
	StatusQueued    = "queued"
	StatusIgnored   = "ignored"
)

// statusOf переводит исход применения в статус ответа на вебхук.
func statusOf(res models.ApplyResult) string {
	switch res.Outcome {
	case models.OutcomeDuplicate:
		return StatusDuplicate
	case models.OutcomeStale:
		return StatusStale
	case models.OutcomeIgnored:
		return StatusIgnored
	}
	if res.Applied {
		return StatusApplied
	}
	return StatusStale
}

// WebhookResult — итог приёма вебхука.
type WebhookResult struct {
	Status  string      `json:"status"`
	EventID string      `json:"event_id"`
	Tier    models.Tier `json:"tier,omitempty"`
}

// ToBillingEvent приводит событие провайдера к BillingEvent.
// ok == false означает, что событие не влияет на entitlement.
func ToBillingEvent(ev *paymentprovider.Event) (event models.BillingEvent, ok bool, err error) {
	event = models.BillingEvent{
		ID:        ev.ID,
		Type:      ev.Type,
		CreatedAt: time.Unix(ev.Created, 0).UTC(),
	}

	switch ev.Type {
	case models.EventCheckoutCompleted:
		var obj paymentprovider.CheckoutSessionObject
		if err := ev.DecodeObject(&obj); err != nil {
			return event, false, err
		}
		event.UserID = obj.ClientReferenceID
		if event.UserID == "" {
			event.UserID = obj.Metadata[paymentprovider.MetadataUserID]
		}
		event.PriceID = obj.Metadata[paymentprovider.MetadataPrice]
		event.Status = obj.Status

	case models.EventSubscriptionUpdated, models.EventSubscriptionDeleted:
		var obj paymentprovider.SubscriptionObject
		if err := ev.DecodeObject(&obj); err != nil {
			return event, false, err
		}
		event.UserID = obj.Metadata[paymentprovider.MetadataUserID]
		event.PriceID = obj.PriceID()
		event.Status = obj.Status

	case models.EventInvoicePaymentFail:
		var obj paymentprovider.InvoiceObject
		if err := ev.DecodeObject(&obj); err != nil {
			return event, false, err
		}
		event.UserID = obj.UserID()
		event.PriceID = obj.PriceID()

	default:
		return event, false, nil
	}
	return event, event.UserID != "", nil
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.Webhook(outcome)
	}
}

// HandleWebhook проверяет подпись сырого тела вебхука и только после этого
// разбирает его. Проверенное событие ставится в очередь или, если очереди
// нет, сразу применяется к entitlement.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (WebhookResult, error) {
	const op = "services.billing.HandleWebhook"
	log := s.log.With(slog.String("op", op))

	if err := paymentprovider.VerifySignature(payload, signatureHeader, s.cfg.WebhookSecret, s.cfg.WebhookTolerance, s.now()); err != nil {
		log.Warn("webhook rejected", sl.Err(err))
		s.observe("invalid_signature")
		return WebhookResult{}, apperr.Wrap(apperr.InvalidSignature, op, err)
	}

	ev, err := paymentprovider.ParseEvent(payload)
	if err != nil {
		s.observe("malformed")
		return WebhookResult{}, apperr.Wrap(apperr.Malformed, op, err)
	}
	log = log.With(slog.String("event_id", ev.ID), slog.String("event_type", ev.Type))

	event, ok, err := ToBillingEvent(ev)
	if err != nil {
		s.observe("malformed")
		return WebhookResult{}, apperr.Wrap(apperr.Malformed, op, err)
	}
	if !ok {
		log.Info("webhook ignored")
		s.observe(StatusIgnored)
		return WebhookResult{Status: StatusIgnored, EventID: ev.ID}, nil
	}

	if s.queue != nil {
		if err := s.queue.Publish(ctx, event.ID, event); err != nil {
			log.Error("failed to enqueue billing event", sl.Err(err))
			s.observe("enqueue_failed")
			return WebhookResult{}, apperr.Wrap(apperr.Unavailable, op, err)
		}
		s.observe(StatusQueued)
		return WebhookResult{Status: StatusQueued, EventID: event.ID}, nil
	}

	res, err := s.applier.ApplyBillingEvent(ctx, event)
	if err != nil {
		s.observe("apply_failed")
		return WebhookResult{}, err
	}
	status := statusOf(res)
	s.observe(status)
	return WebhookResult{Status: status, EventID: event.ID, Tier: res.Tier}, nil
}

// ProcessQueued применяет событие из очереди. Неразбираемые события и
// события с неизвестной ценой или пользователем помечаются как
// неисправимые, чтобы очередь не возвращала их снова.
func (s *Service) ProcessQueued(ctx context.Context, body []byte) error {
	const op = "services.billing.ProcessQueued"

	var event models.BillingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return rabbitmq.Permanent(fmt.Errorf("%s: %w", op, err))
	}
	if event.ID == "" || event.UserID == "" {
		return rabbitmq.Permanent(apperr.New(apperr.Malformed, op, "event id and user id are required"))
	}

	res, err := s.applier.ApplyBillingEvent(ctx, event)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.Malformed, apperr.InvalidTier:
			return rabbitmq.Permanent(err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("queued billing event processed",
		slog.String("op", op),
		slog.String("event_id", event.ID),
		slog.String("outcome", string(res.Outcome)),
		slog.String("tier", string(res.Tier)),
	)
	return nil
}
