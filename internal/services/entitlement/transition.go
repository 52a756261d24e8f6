package entitlement

import (
	"errors"

	"github.com/magabrotheeeer/video-subscription/internal/lib/apperr"
	"github.com/magabrotheeeer/video-subscription/internal/models"
)

// errIgnored — событие корректно, но entitlement не меняет.
var errIgnored = errors.New("event does not affect entitlement")

// Статусы подписки провайдера.
const (
	subActive            = "active"
	subTrialing          = "trialing"
	subPastDue           = "past_due"
	subUnpaid            = "unpaid"
	subCanceled          = "canceled"
	subIncompleteExpired = "incomplete_expired"
)

// effect — что событие говорит о записи. setsTier == false у просрочки
// без известной цены: такое событие меняет только статус.
type effect struct {
	setsTier bool
	tier     models.Tier
	status   models.Status
}

func (l *Ledger) tierFor(priceID string) (models.Tier, bool) {
	tier, ok := l.prices[priceID]
	return tier, ok
}

// effectOf разбирает событие без учёта текущей записи.
func (l *Ledger) effectOf(e models.BillingEvent) (effect, error) {
	const op = "services.entitlement.effectOf"

	paid := func() (effect, error) {
		tier, ok := l.tierFor(e.PriceID)
		if !ok {
			return effect{}, apperr.New(apperr.InvalidTier, op, "unknown price "+e.PriceID)
		}
		return effect{setsTier: true, tier: tier, status: models.StatusActive}, nil
	}
	pastDue := func() (effect, error) {
		tier, ok := l.tierFor(e.PriceID)
		return effect{setsTier: ok, tier: tier, status: models.StatusPastDue}, nil
	}
	ended := effect{setsTier: true, tier: models.TierNone, status: models.StatusCanceled}

	switch e.Type {
	case models.EventCheckoutCompleted:
		return paid()
	case models.EventSubscriptionDeleted:
		return ended, nil
	case models.EventSubscriptionUpdated:
		switch e.Status {
		case subActive, subTrialing:
			return paid()
		case subPastDue, subUnpaid:
			return pastDue()
		case subCanceled, subIncompleteExpired:
			return ended, nil
		}
	case models.EventInvoicePaymentFail:
		return pastDue()
	}
	return effect{}, errIgnored
}

// merge накладывает событие на запись. Тариф и статус сравниваются каждый
// со своим ключом порядка, поэтому итог совпадает с применением событий
// по времени при любом порядке доставки. changed == false, если запись
// уже отражает более поздние события.
func merge(cur models.Entitlement, e models.BillingEvent, eff effect) (next models.Entitlement, changed bool) {
	next = cur
	if eff.setsTier && (cur.TierEventID == "" || e.After(cur.TierSince, cur.TierEventID)) {
		next.Tier = eff.tier
		next.TierSince, next.TierEventID = e.CreatedAt, e.ID
		changed = true
	}
	if cur.SourceEventID == "" || e.After(cur.EffectiveSince, cur.SourceEventID) {
		next.Status = eff.status
		next.EffectiveSince, next.SourceEventID = e.CreatedAt, e.ID
		changed = true
	}
	if changed {
		next.Version = cur.Version + 1
	}
	return next, changed
}
