// Package content отдаёт каталог видео уровня тарифа. Доступ проверяет
// RequireTier, сам обработчик только формирует ответ.
package content

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/video-subscription/internal/http/response"
	"github.com/magabrotheeeer/video-subscription/internal/models"
)

// Video — элемент каталога.
type Video struct {
	ID    string      `json:"id"`
	Title string      `json:"title"`
	Tier  models.Tier `json:"tier"`
}

// Catalog — видео по тарифам.
type Catalog map[models.Tier][]Video

// Handler отдаёт каталог одного тарифа.
type Handler struct {
	log     *slog.Logger
	tier    models.Tier
	catalog Catalog
}

// New создаёт Handler для тарифа tier.
func New(log *slog.Logger, tier models.Tier, catalog Catalog) *Handler {
	return &Handler{log: log, tier: tier, catalog: catalog}
}

// ServeHTTP godoc
// @Summary Каталог тарифа
// @Tags Content
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse "Нет действующей сессии"
// @Failure 403 {object} response.ErrorResponse "Тариф ниже требуемого"
// @Router /content/{tier} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	videos := h.catalog[h.tier]
	if videos == nil {
		videos = []Video{}
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"tier":   h.tier,
		"videos": videos,
	}))
}

// DefaultCatalog возвращает встроенный демонстрационный каталог.
func DefaultCatalog() Catalog {
	return Catalog{
		models.TierSilver: {
			{ID: "silver-001", Title: "Behind the Scenes", Tier: models.TierSilver},
			{ID: "silver-002", Title: "Weekly Highlights", Tier: models.TierSilver},
		},
		models.TierGold: {
			{ID: "gold-001", Title: "Director's Cut", Tier: models.TierGold},
			{ID: "gold-002", Title: "Live Premiere Archive", Tier: models.TierGold},
		},
	}
}
