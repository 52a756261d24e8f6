// Package checkout создаёт сессию оплаты подписки для аутентифицированного
// пользователя.
package checkout

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/video-subscription/internal/http/response"
	"github.com/magabrotheeeer/video-subscription/internal/lib/sl"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/services/session"
)

// Request — параметры оформления подписки.
type Request struct {
	Tier          string `json:"tier" validate:"required"`
	PromotionCode string `json:"promotion_code,omitempty" validate:"omitempty,max=64,alphanum"`
}

// Service создаёт сессии оплаты.
type Service interface {
	CreateCheckoutSession(ctx context.Context, user models.User, tier models.Tier, promotionCode string) (string, error)
}

// Handler обрабатывает POST /api/v1/checkout.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service, validate: validator.New()}
}

// ServeHTTP godoc
// @Summary Оформление подписки
// @Description Создаёт сессию оплаты у платёжного провайдера и возвращает адрес для перенаправления.
// @Tags Billing
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body Request true "Тариф и промокод"
// @Success 200 {object} response.Response "redirect_url"
// @Failure 400 {object} response.ErrorResponse "Неизвестный тариф"
// @Failure 401 {object} response.ErrorResponse "Нет действующей сессии"
// @Failure 402 {object} response.ErrorResponse "Ошибка платёжного провайдера"
// @Router /checkout [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.checkout"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	identity, ok := session.IdentityFromContext(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthenticated"))
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	url, err := h.service.CreateCheckoutSession(r.Context(), identity.User, models.Tier(req.Tier), req.PromotionCode)
	if err != nil {
		log.Warn("checkout failed", slog.String("user_id", identity.User.ID), sl.Err(err))
		response.WriteError(w, r, err)
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{"redirect_url": url}))
}
