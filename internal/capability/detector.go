package capability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/magabrotheeeer/video-subscription/internal/lib/sl"
)

// Pinger проверяет доступность базы.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeDetector определяет среду по конфигурации и по состоянию базы.
//
// Если проверка базы не проходит, из описания убирается PersistentSockets,
// и Resolver выбирает ограниченный набор вместо того, чтобы каждый вызов
// ждал таймаута. Результат проверки кешируется на interval.
type ProbeDetector struct {
	log      *slog.Logger
	base     Descriptor
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	checkedAt time.Time
	healthy   bool
}

// NewProbeDetector создаёт детектор. При pinger == nil возвращается base без проверок.
func NewProbeDetector(log *slog.Logger, base Descriptor, pinger Pinger, interval, timeout time.Duration) *ProbeDetector {
	return &ProbeDetector{
		log:      log,
		base:     base,
		pinger:   pinger,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Detect возвращает описание среды для ctx.
func (d *ProbeDetector) Detect(ctx context.Context) Descriptor {
	if override, ok := DescriptorFromContext(ctx); ok {
		return override
	}
	if d.pinger == nil || !d.base.Has(PersistentSockets) {
		return d.base
	}
	if !d.storeHealthy(ctx) {
		return d.base.Without(PersistentSockets)
	}
	return d.base
}

func (d *ProbeDetector) storeHealthy(ctx context.Context) bool {
	d.mu.Lock()
	if !d.checkedAt.IsZero() && d.now().Sub(d.checkedAt) < d.interval {
		healthy := d.healthy
		d.mu.Unlock()
		return healthy
	}
	d.mu.Unlock()

	v, _, _ := d.group.Do("probe", func() (any, error) {
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		err := d.pinger.Ping(probeCtx)
		healthy := err == nil
		if err != nil && d.log != nil {
			d.log.Warn("store probe failed", slog.String("runtime", d.base.Runtime), sl.Err(err))
		}

		d.mu.Lock()
		d.checkedAt = d.now()
		d.healthy = healthy
		d.mu.Unlock()
		return healthy, nil
	})
	return v.(bool)
}

// StaticDetector всегда возвращает одно и то же описание, если контекст его
// не переопределяет.
type StaticDetector Descriptor

// Detect возвращает описание среды для ctx.
func (s StaticDetector) Detect(ctx context.Context) Descriptor {
	if override, ok := DescriptorFromContext(ctx); ok {
		return override
	}
	return Descriptor(s)
}
