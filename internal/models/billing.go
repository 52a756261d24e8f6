package models

import "time"

// Типы платёжных событий, на которые реагирует сервис.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaymentFail  = "invoice.payment_failed"
)

// BillingEvent — проверенное событие платёжного провайдера,
// приведённое к полям, нужным для смены entitlement.
type BillingEvent struct {
	ID        string    `json:"id"`         // Внешний идентификатор, ключ идемпотентности
	Type      string    `json:"type"`       // Тип события провайдера
	CreatedAt time.Time `json:"created_at"` // Внешнее время события
	UserID    string    `json:"user_id"`
	PriceID   string    `json:"price_id,omitempty"`
	Status    string    `json:"status,omitempty"` // Статус подписки провайдера, если есть
}

// After сообщает, должно ли событие e применяться позже события с
// временем at и идентификатором id. Равное время разрешается
// лексикографическим порядком идентификаторов.
func (e BillingEvent) After(at time.Time, id string) bool {
	if !e.CreatedAt.Equal(at) {
		return e.CreatedAt.After(at)
	}
	return e.ID > id
}

// ApplyOutcome — чем закончилось применение события.
type ApplyOutcome string

const (
	// OutcomeApplied — событие изменило запись.
	OutcomeApplied ApplyOutcome = "applied"
	// OutcomeDuplicate — событие с таким id уже обработано.
	OutcomeDuplicate ApplyOutcome = "duplicate"
	// OutcomeStale — запись уже отражает более поздние события.
	OutcomeStale ApplyOutcome = "stale"
	// OutcomeIgnored — событие корректно, но entitlement не касается.
	OutcomeIgnored ApplyOutcome = "ignored"
)

// ApplyResult — результат применения события.
type ApplyResult struct {
	Applied bool         `json:"applied"`
	Outcome ApplyOutcome `json:"outcome"`
	Tier    Tier         `json:"tier"`
}

// CouponDuration — политика действия купона.
type CouponDuration string

const (
	DurationOnce      CouponDuration = "once"
	DurationRepeating CouponDuration = "repeating"
)

// CouponDefinition — желаемое описание купона у провайдера.
type CouponDefinition struct {
	ID               string         `yaml:"id" json:"id"`
	PercentOff       float64        `yaml:"percent_off" json:"percent_off"`
	Duration         CouponDuration `yaml:"duration" json:"duration"`
	DurationInMonths int64          `yaml:"duration_in_months" json:"duration_in_months,omitempty"`
	Products         []string       `yaml:"products" json:"products,omitempty"`
}

// PromotionCode — промокод, привязанный к одному купону.
type PromotionCode struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	CouponID  string     `json:"coupon_id"`
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
