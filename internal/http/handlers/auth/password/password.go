// Package password реализует смену пароля аутентифицированным пользователем.
package password

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
	"github.com/magabrotheeeer/video-subscription/internal/services/session"
)

// Request — текущий и новый пароль.
type Request struct {
	OldPassword string `json:"old_password" validate:"required,max=72"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

// Service описывает смену пароля.
type Service interface {
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
}

// Handler обрабатывает POST /api/v1/password.
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
// @Summary Смена пароля
// @Tags Auth
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param request body Request true "Текущий и новый пароль"
// @Success 200 {object} response.Response
// @Failure 401 {object} response.ErrorResponse "Неверный пароль или нет сессии"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /password [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.password"

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

	if err := h.service.ChangePassword(r.Context(), identity.User.ID, req.OldPassword, req.NewPassword); err != nil {
		log.Info("password change failed", sl.Err(err))
		response.WriteError(w, r, err)
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{"message": "password changed"}))
}
