// Package webhook принимает вебхуки платёжного провайдера.
//
// Тело читается целиком и передаётся сервису без разбора: подпись
// проверяется над исходными байтами.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/video-subscription/internal/http/response"
	"github.com/magabrotheeeer/video-subscription/internal/lib/sl"
	"github.com/magabrotheeeer/video-subscription/internal/paymentprovider"
	"github.com/magabrotheeeer/video-subscription/internal/services/billing"
)

// MaxBodyBytes — предельный размер тела вебхука.
const MaxBodyBytes = 1 << 20

// Service обрабатывает проверяемые вебхуки.
type Service interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (billing.WebhookResult, error)
}

// Handler обрабатывает POST /api/v1/billing/webhook.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Вебхук платёжного провайдера
// @Tags Billing
// @Accept  json
// @Produce  json
// @Param Stripe-Signature header string true "Подпись t=<unix>,v1=<hex>"
// @Success 200 {object} response.Response "Событие принято"
// @Failure 400 {object} response.ErrorResponse "Некорректное событие"
// @Failure 401 {object} response.ErrorResponse "Неверная подпись"
// @Failure 413 {object} response.ErrorResponse "Слишком большое тело"
// @Router /billing/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.webhook"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			render.Status(r, http.StatusRequestEntityTooLarge)
			render.JSON(w, r, response.Error("payload too large"))
			return
		}
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	res, err := h.service.HandleWebhook(r.Context(), body, r.Header.Get(paymentprovider.SignatureHeader))
	if err != nil {
		log.Warn("webhook not processed", sl.Err(err))
		response.WriteError(w, r, err)
		return
	}

	log.Info("webhook processed", slog.String("event_id", res.EventID), slog.String("status", res.Status))
	render.JSON(w, r, response.OKWithData(res))
}
