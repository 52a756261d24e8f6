// Package session отдаёт данные текущей сессии и entitlement пользователя.
package session

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/video-subscription/internal/http/response"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/services/session"
)

// EntitlementView — entitlement в ответе API.
type EntitlementView struct {
	Tier           models.Tier   `json:"tier"`
	Status         models.Status `json:"status"`
	EffectiveTier  models.Tier   `json:"effective_tier"`
	EffectiveSince *time.Time    `json:"effective_since,omitempty"`
}

func viewOf(e models.Entitlement) EntitlementView {
	v := EntitlementView{Tier: e.Tier, Status: e.Status, EffectiveTier: e.EffectiveTier()}
	if !e.EffectiveSince.IsZero() {
		since := e.EffectiveSince
		v.EffectiveSince = &since
	}
	return v
}

// Handler обрабатывает запросы о текущей сессии. Должен стоять за Auth.
type Handler struct {
	log *slog.Logger
}

// New создаёт Handler.
func New(log *slog.Logger) *Handler {
	return &Handler{log: log}
}

func identityOrReject(w http.ResponseWriter, r *http.Request) (*session.Identity, bool) {
	identity, ok := session.IdentityFromContext(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthenticated"))
	}
	return identity, ok
}

// Session godoc
// @Summary Проверка сессии
// @Tags Session
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response "Пользователь и entitlement"
// @Failure 401 {object} response.ErrorResponse "Нет действующей сессии"
// @Router /session [get]
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrReject(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"user":        identity.User,
		"entitlement": viewOf(identity.Entitlement),
		"expires_at":  identity.ExpiresAt,
	}))
}

// Entitlement godoc
// @Summary Текущий тариф пользователя
// @Tags Session
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response "Entitlement"
// @Failure 401 {object} response.ErrorResponse "Нет действующей сессии"
// @Router /entitlement [get]
func (h *Handler) Entitlement(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityOrReject(w, r)
	if !ok {
		return
	}
	render.JSON(w, r, response.OKWithData(viewOf(identity.Entitlement)))
}
