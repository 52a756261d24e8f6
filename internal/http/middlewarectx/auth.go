// Package middlewarectx содержит HTTP middleware: аутентификацию по
// bearer-токену, проверку тарифа и ограничение частоты запросов.
//
// Auth — единственное место, где разбирается заголовок Authorization.
// Обработчики получают личность через session.IdentityFromContext.
package middlewarectx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/video-subscription/internal/http/response"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/services/session"
)

// Authenticator проверяет заголовок Authorization.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*session.Identity, error)
}

// Auth возвращает middleware, который пропускает дальше только запросы
// с действующей сессией. Любой отказ отдаётся как 401 unauthenticated.
func Auth(log *slog.Logger, gate Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.Auth"

			identity, err := gate.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				log.Debug("request rejected",
					slog.String("op", op),
					slog.String("request_id", middleware.GetReqID(r.Context())),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="video-subscription"`)
				response.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(session.WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireTier пропускает запрос, если действующий тариф пользователя
// не ниже required. Должен стоять после Auth.
func RequireTier(log *slog.Logger, required models.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.RequireTier"

			identity, ok := session.IdentityFromContext(r.Context())
			if !ok {
				log.Error("identity missing, Auth middleware not installed", slog.String("op", op))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("unauthenticated"))
				return
			}
			if !identity.Tier().Covers(required) {
				log.Info("tier too low",
					slog.String("op", op),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("user_id", identity.User.ID),
					slog.String("tier", string(identity.Tier())),
					slog.String("required", string(required)),
				)
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error(fmt.Sprintf("%s subscription required", required)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
