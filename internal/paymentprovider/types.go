package paymentprovider

import (
	"encoding/json"
	"fmt"
)

// Coupon — купон в ответе провайдера.
type Coupon struct {
	ID               string     `json:"id"`
	PercentOff       float64    `json:"percent_off"`
	Duration         string     `json:"duration"`
	DurationInMonths int64      `json:"duration_in_months"`
	Valid            bool       `json:"valid"`
	AppliesTo        *AppliesTo `json:"applies_to,omitempty"`
}

// AppliesTo ограничение купона по продуктам.
type AppliesTo struct {
	Products []string `json:"products"`
}

// Products возвращает продукты, к которым применим купон.
func (c *Coupon) Products() []string {
	if c == nil || c.AppliesTo == nil {
		return nil
	}
	return c.AppliesTo.Products
}

// PromotionCode — промокод в ответе провайдера.
type PromotionCode struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Coupon    Coupon `json:"coupon"`
	Active    bool   `json:"active"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type promotionCodeList struct {
	Data []PromotionCode `json:"data"`
}

// CheckoutSessionParams параметры создания сессии оплаты подписки.
type CheckoutSessionParams struct {
	PriceID         string
	UserID          string
	CustomerEmail   string
	SuccessURL      string
	CancelURL       string
	PromotionCodeID string
	Metadata        map[string]string
}

// CheckoutSession — созданная сессия оплаты.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Event — событие вебхука провайдера.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// DecodeObject разбирает data.object события в v.
func (e *Event) DecodeObject(v any) error {
	if len(e.Data.Object) == 0 {
		return fmt.Errorf("event %s: empty data.object", e.ID)
	}
	return json.Unmarshal(e.Data.Object, v)
}

// CheckoutSessionObject — data.object события checkout.session.completed.
type CheckoutSessionObject struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Subscription      string            `json:"subscription"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
}

// SubscriptionObject — data.object событий customer.subscription.*.
type SubscriptionObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
	Items    struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// PriceID возвращает цену первой позиции подписки.
func (s *SubscriptionObject) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// InvoiceObject — data.object события invoice.payment_failed.
type InvoiceObject struct {
	ID                  string            `json:"id"`
	Subscription        string            `json:"subscription"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Lines struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

// PriceID возвращает цену первой строки счёта.
func (i *InvoiceObject) PriceID() string {
	if len(i.Lines.Data) == 0 {
		return ""
	}
	return i.Lines.Data[0].Price.ID
}

// UserID возвращает пользователя из метаданных подписки или самого счёта.
func (i *InvoiceObject) UserID() string {
	if id := i.SubscriptionDetails.Metadata[MetadataUserID]; id != "" {
		return id
	}
	return i.Metadata[MetadataUserID]
}

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
