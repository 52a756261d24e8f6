// Package auth содержит логику регистрации, входа и смены пароля.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/video-subscription/internal/capability"
	"github.com/magabrotheeeer/video-subscription/internal/lib/apperr"
	"github.com/magabrotheeeer/video-subscription/internal/lib/sl"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/storage"
)

// AdapterResolver выбирает хранилища для текущего вызова.
type AdapterResolver interface {
	Resolve(ctx context.Context) capability.Adapters
}

// TokenIssuer выпускает токены сессии.
type TokenIssuer interface {
	Issue(subjectID string, now time.Time) (string, error)
}

// DummyComparer выполняет сравнение с фиктивным хешем, чтобы время ответа
// для несуществующего пользователя не отличалось от неверного пароля.
type DummyComparer interface {
	CompareDummy(password string) error
}

// Observer учитывает исходы операций.
type Observer interface {
	AuthAttempt(operation, outcome string)
}

// Result — выпущенный токен и пользователь.
type Result struct {
	Token string
	User  *models.User
}

// Service отвечает за регистрацию, вход и смену пароля.
type Service struct {
	log      *slog.Logger
	resolver AdapterResolver
	tokens   TokenIssuer
	dummy    DummyComparer
	observer Observer
	timeout  time.Duration
	now      func() time.Time
}

// New создаёт Service. Вызовы хранилища ограничены timeout. observer может быть nil.
func New(log *slog.Logger, resolver AdapterResolver, tokens TokenIssuer, dummy DummyComparer,
	observer Observer, timeout time.Duration) *Service {
	return &Service{
		log:      log,
		resolver: resolver,
		tokens:   tokens,
		dummy:    dummy,
		observer: observer,
		timeout:  timeout,
		now:      time.Now,
	}
}

func (s *Service) observe(operation string, err error) {
	if s.observer == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	s.observer.AuthAttempt(operation, outcome)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// storeErr переводит ошибку хранилища в Unavailable: ни ограниченный
// адаптер, ни таймаут не должны завершать вход успехом.
func storeErr(op string, err error) error {
	return apperr.Wrap(apperr.Unavailable, op, err)
}

// SignIn проверяет email и пароль и выпускает токен.
// Отсутствующий пользователь, отключённый пользователь и неверный пароль
// неразличимы снаружи: все дают InvalidCredentials.
func (s *Service) SignIn(ctx context.Context, email, password string) (res *Result, err error) {
	const op = "services.auth.SignIn"
	log := s.log.With(slog.String("op", op))
	defer func() { s.observe("signin", err) }()

	adapters := s.resolver.Resolve(ctx)
	if adapters.Restricted {
		log.Warn("sign-in refused: restricted adapters", slog.String("runtime", adapters.Runtime))
		return nil, storeErr(op, storage.ErrRestricted)
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := adapters.Credentials.FindByEmail(sctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		_ = s.dummy.CompareDummy(password)
		log.Info("sign-in failed", slog.String("reason", "unknown email"))
		return nil, apperr.New(apperr.InvalidCredentials, op, "invalid email or password")
	}
	if err != nil {
		log.Error("failed to find user", sl.Err(err))
		return nil, storeErr(op, err)
	}

	ok, err := adapters.Credentials.VerifyCredential(sctx, user, password)
	if err != nil {
		log.Error("failed to verify credential", sl.Err(err))
		return nil, storeErr(op, err)
	}
	if !ok || user.Disabled {
		reason := "wrong password"
		if user.Disabled {
			reason = "user disabled"
		}
		log.Info("sign-in failed", slog.String("reason", reason), slog.String("user_id", user.ID))
		return nil, apperr.New(apperr.InvalidCredentials, op, "invalid email or password")
	}

	token, err := s.tokens.Issue(user.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Result{Token: token, User: user}, nil
}

// SignUp создаёт пользователя и сразу выпускает токен.
func (s *Service) SignUp(ctx context.Context, email, name, password string) (res *Result, err error) {
	const op = "services.auth.SignUp"
	log := s.log.With(slog.String("op", op))
	defer func() { s.observe("signup", err) }()

	adapters := s.resolver.Resolve(ctx)
	if adapters.Restricted {
		log.Warn("sign-up refused: restricted adapters", slog.String("runtime", adapters.Runtime))
		return nil, storeErr(op, storage.ErrRestricted)
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := adapters.Credentials.Create(sctx, email, name, password)
	if errors.Is(err, storage.ErrEmailTaken) {
		return nil, apperr.New(apperr.Conflict, op, "email already registered")
	}
	if err != nil {
		log.Error("failed to create user", sl.Err(err))
		return nil, storeErr(op, err)
	}

	token, err := s.tokens.Issue(user.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("user registered", slog.String("user_id", user.ID))
	return &Result{Token: token, User: user}, nil
}

// ChangePassword проверяет текущий пароль и пересчитывает хеш для нового.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (err error) {
	const op = "services.auth.ChangePassword"
	log := s.log.With(slog.String("op", op), slog.String("user_id", userID))
	defer func() { s.observe("change_password", err) }()

	adapters := s.resolver.Resolve(ctx)
	if adapters.Restricted {
		return storeErr(op, storage.ErrRestricted)
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := adapters.Credentials.GetUser(sctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.New(apperr.InvalidCredentials, op, "invalid email or password")
	}
	if err != nil {
		return storeErr(op, err)
	}
	ok, err := adapters.Credentials.VerifyCredential(sctx, user, oldPassword)
	if err != nil {
		return storeErr(op, err)
	}
	if !ok {
		log.Info("password change refused", slog.String("reason", "wrong password"))
		return apperr.New(apperr.InvalidCredentials, op, "invalid email or password")
	}
	if err = adapters.Credentials.Rehash(sctx, userID, newPassword); err != nil {
		log.Error("failed to rehash", sl.Err(err))
		return storeErr(op, err)
	}
	return nil
}
