// Package health отдаёт состояние сервиса и выбранный набор адаптеров.
package health

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/video-subscription/internal/capability"
	"github.com/magabrotheeeer/video-subscription/internal/http/response"
)

// AdapterResolver выбирает адаптеры для вызова.
type AdapterResolver interface {
	Resolve(ctx context.Context) capability.Adapters
}

// Handler обрабатывает GET /health.
type Handler struct {
	log      *slog.Logger
	resolver AdapterResolver
}

// New создаёт Handler.
func New(log *slog.Logger, resolver AdapterResolver) *Handler {
	return &Handler{
		log:      log,
		resolver: resolver,
	}
}

// ServeHTTP godoc
// @Summary Проверка состояния
// @Tags Health
// @Produce  json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.Response "Доступен только ограниченный набор адаптеров"
// @Router /health [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	adapters := h.resolver.Resolve(r.Context())
	missing := make([]string, 0, len(adapters.Missing))
	for _, c := range adapters.Missing {
		missing = append(missing, string(c))
	}

	data := map[string]any{
		"status":     "ok",
		"runtime":    adapters.Runtime,
		"restricted": adapters.Restricted,
		"missing":    missing,
	}
	if adapters.Restricted {
		data["status"] = "degraded"
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, response.OKWithData(data))
}
