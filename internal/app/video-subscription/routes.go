// Package videosubscription собирает HTTP-приложение сервиса подписок.
package videosubscription

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/video-subscription/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/video-subscription/internal/http/handlers/auth/password"
	"github.com/magabrotheeeer/video-subscription/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/video-subscription/internal/http/handlers/billing/checkout"
	"github.com/magabrotheeeer/video-subscription/internal/http/handlers/billing/webhook"
	"github.com/magabrotheeeer/video-subscription/internal/http/handlers/content"
	"github.com/magabrotheeeer/video-subscription/internal/http/handlers/health"
	sessionhandler "github.com/magabrotheeeer/video-subscription/internal/http/handlers/session"
	"github.com/magabrotheeeer/video-subscription/internal/http/middlewarectx"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/services/auth"
	"github.com/magabrotheeeer/video-subscription/internal/services/billing"
	"github.com/magabrotheeeer/video-subscription/internal/services/session"
)

// Deps — зависимости маршрутов.
type Deps struct {
	Logger     *slog.Logger
	Auth       *auth.Service
	Gate       *session.Gate
	Billing    *billing.Service
	Health     health.AdapterResolver
	Limiter    *middlewarectx.RateLimiter
	Gatherer   prometheus.Gatherer
	Catalog    content.Catalog
	EdgeHeader string
	TrustProxy bool
}

// NewRouter регистрирует все маршруты приложения.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(middleware.RequestID)
	if d.TrustProxy {
		// Без доверенного прокси лимитер считает по адресу соединения
		r.Use(middleware.RealIP)
	}
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		middlewarectx.EdgeRuntime(d.EdgeHeader),
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Group(func(r chi.Router) {
			if d.Limiter != nil {
				r.Use(d.Limiter.Middleware)
			}
			r.Post("/signup", register.New(d.Logger, d.Auth).ServeHTTP)
			r.Post("/signin", login.New(d.Logger, d.Auth).ServeHTTP)
		})

		// Вебхук проверяется по подписи, а не по сессии
		r.Post("/billing/webhook", webhook.New(d.Logger, d.Billing).ServeHTTP)

		// Группа с аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.Auth(d.Logger, d.Gate))

			sessions := sessionhandler.New(d.Logger)
			r.Get("/session", sessions.Session)
			r.Get("/entitlement", sessions.Entitlement)
			r.Post("/password", password.New(d.Logger, d.Auth).ServeHTTP)
			r.Post("/checkout", checkout.New(d.Logger, d.Billing).ServeHTTP)

			for _, tier := range []models.Tier{models.TierSilver, models.TierGold} {
				r.With(middlewarectx.RequireTier(d.Logger, tier)).
					Get("/content/"+string(tier), content.New(d.Logger, tier, d.Catalog).ServeHTTP)
			}
		})
	})

	r.Get("/health", health.New(d.Logger, d.Health).ServeHTTP)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
	return r
}
