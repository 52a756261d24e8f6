// Package metrics экспортирует счётчики сервиса в Prometheus.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "video_subscription"

// Metrics набор счётчиков аутентификации, выбора адаптеров и платёжных событий.
// Методы безопасно вызывать на nil.
type Metrics struct {
	authAttempts  *prometheus.CounterVec
	adapterSelect *prometheus.CounterVec
	billingEvents *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
}

// New регистрирует счётчики в reg. Пустой reg означает DefaultRegisterer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		adapterSelect: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_selections_total",
			Help:      "Adapter sets selected per runtime.",
		}, []string{"runtime", "set"}),
		billingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_events_total",
			Help:      "Billing events by type and ledger result.",
		}, []string{"type", "result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Webhook deliveries by outcome.",
		}, []string{"outcome"}),
	}

	collectors := []*prometheus.CounterVec{m.authAttempts, m.adapterSelect, m.billingEvents, m.webhooks}
	for i, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					collectors[i] = existing
					continue
				}
			}
			return nil, fmt.Errorf("metrics.New: %w", err)
		}
	}
	m.authAttempts, m.adapterSelect, m.billingEvents, m.webhooks = collectors[0], collectors[1], collectors[2], collectors[3]
	return m, nil
}

// AuthAttempt учитывает попытку входа, регистрации или проверки сессии.
func (m *Metrics) AuthAttempt(operation, outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(operation, outcome).Inc()
}

// AdapterSelected учитывает выбор набора адаптеров.
func (m *Metrics) AdapterSelected(runtime string, restricted bool) {
	if m == nil {
		return
	}
	set := "full"
	if restricted {
		set = "restricted"
	}
	m.adapterSelect.WithLabelValues(runtime, set).Inc()
}

// BillingEvent учитывает результат применения платёжного события.
func (m *Metrics) BillingEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.billingEvents.WithLabelValues(eventType, result).Inc()
}

// Webhook учитывает результат приёма вебхука.
func (m *Metrics) Webhook(outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(outcome).Inc()
}
