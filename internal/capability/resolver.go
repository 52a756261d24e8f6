package capability

import (
	"context"
	"log/slog"

	"github.com/magabrotheeeer/video-subscription/internal/storage"
	"github.com/magabrotheeeer/video-subscription/internal/storage/restricted"
)

// Adapters — набор хранилищ, выбранный для вызова.
type Adapters struct {
	Credentials  storage.CredentialStore
	Entitlements storage.EntitlementStore
	// Restricted означает, что настоящая проверка невозможна и любые
	// чтения вернут storage.ErrRestricted.
	Restricted bool
	Runtime    string
	Missing    []Capability
}

// RestrictedAdapters возвращает ограниченный набор.
func RestrictedAdapters(runtime string, missing []Capability) Adapters {
	return Adapters{
		Credentials:  restricted.Credentials{},
		Entitlements: restricted.Entitlements{},
		Restricted:   true,
		Runtime:      runtime,
		Missing:      missing,
	}
}

// Detector определяет среду выполнения текущего вызова.
type Detector interface {
	Detect(ctx context.Context) Descriptor
}

// SelectionObserver получает каждый выбор набора адаптеров.
type SelectionObserver interface {
	AdapterSelected(runtime string, restricted bool)
}

// Resolver выбирает адаптеры по описанию среды. Сам выбор не имеет побочных
// эффектов и никогда не возвращает ошибку: при любой неясности выбирается
// ограниченный набор.
type Resolver struct {
	log          *slog.Logger
	credentials  storage.CredentialStore
	entitlements storage.EntitlementStore
	detector     Detector
	observer     SelectionObserver
}

// NewResolver создаёт Resolver с полноценными адаптерами credentials и entitlements.
// observer может быть nil.
func NewResolver(log *slog.Logger, credentials storage.CredentialStore, entitlements storage.EntitlementStore,
	detector Detector, observer SelectionObserver) *Resolver {
	return &Resolver{
		log:          log,
		credentials:  credentials,
		entitlements: entitlements,
		detector:     detector,
		observer:     observer,
	}
}

// Select выбирает адаптеры для среды d.
func (r *Resolver) Select(d Descriptor) Adapters {
	a := r.selectAdapters(d)
	if r.observer != nil {
		r.observer.AdapterSelected(a.Runtime, a.Restricted)
	}
	return a
}

func (r *Resolver) selectAdapters(d Descriptor) Adapters {
	if missing := d.Missing(); len(missing) > 0 {
		return RestrictedAdapters(d.Runtime, missing)
	}
	if r.credentials == nil || r.entitlements == nil {
		return RestrictedAdapters(d.Runtime, nil)
	}
	return Adapters{
		Credentials:  r.credentials,
		Entitlements: r.entitlements,
		Runtime:      d.Runtime,
	}
}

// Resolve определяет среду текущего вызова и выбирает адаптеры.
// Без Detector выбирается ограниченный набор.
func (r *Resolver) Resolve(ctx context.Context) Adapters {
	if r.detector == nil {
		return r.Select(Descriptor{Runtime: "unknown"})
	}
	a := r.Select(r.detector.Detect(ctx))
	if a.Restricted && r.log != nil {
		r.log.DebugContext(ctx, "restricted adapters selected",
			slog.String("runtime", a.Runtime),
			slog.Any("missing", a.Missing),
		)
	}
	return a
}
