// Package session — единая точка аутентификации запросов по bearer-токену.
//
// Любая причина отказа (нет заголовка, неверная подпись, истёкший токен,
// удалённый или отключённый пользователь, ограниченная среда, таймаут
// хранилища) снаружи выглядит одинаково: apperr.Unauthenticated. Точная
// причина сохраняется в цепочке ошибки и пишется в лог.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/video-subscription/internal/capability"
	"github.com/magabrotheeeer/video-subscription/internal/lib/apperr"
	"github.com/magabrotheeeer/video-subscription/internal/lib/jwt"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/storage"
)

// AdapterResolver выбирает хранилища для текущего вызова.
type AdapterResolver interface {
	Resolve(ctx context.Context) capability.Adapters
}

// TokenVerifier проверяет токены сессии.
type TokenVerifier interface {
	Verify(token string, now time.Time) (*jwt.Claims, error)
}

// EntitlementReader возвращает текущую запись entitlement.
type EntitlementReader interface {
	Current(ctx context.Context, userID string) (models.Entitlement, error)
}

// Observer учитывает исходы аутентификации.
type Observer interface {
	AuthAttempt(operation, outcome string)
}

// Identity — аутентифицированный пользователь и снимок его entitlement.
type Identity struct {
	User        models.User
	Entitlement models.Entitlement
	ExpiresAt   time.Time
}

// Tier возвращает действующий тариф пользователя.
func (i *Identity) Tier() models.Tier {
	return i.Entitlement.EffectiveTier()
}

// Gate аутентифицирует запросы.
type Gate struct {
	log      *slog.Logger
	verifier TokenVerifier
	resolver AdapterResolver
	ledger   EntitlementReader
	observer Observer
	timeout  time.Duration
	now      func() time.Time
}

// NewGate создаёт Gate. observer может быть nil.
func NewGate(log *slog.Logger, verifier TokenVerifier, resolver AdapterResolver, ledger EntitlementReader,
	observer Observer, timeout time.Duration) *Gate {
	return &Gate{
		log:      log,
		verifier: verifier,
		resolver: resolver,
		ledger:   ledger,
		observer: observer,
		timeout:  timeout,
		now:      time.Now,
	}
}

const bearerPrefix = "bearer "

// BearerToken извлекает токен из заголовка Authorization.
func BearerToken(header string) (string, error) {
	const op = "session.BearerToken"
	header = strings.TrimSpace(header)
	if header == "" {
		return "", apperr.New(apperr.Malformed, op, "missing authorization header")
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", apperr.New(apperr.Malformed, op, "authorization scheme must be Bearer")
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", apperr.New(apperr.Malformed, op, "empty bearer token")
	}
	return token, nil
}

// Authenticate проверяет заголовок Authorization и возвращает личность вызывающего.
func (g *Gate) Authenticate(ctx context.Context, header string) (*Identity, error) {
	const op = "session.Authenticate"

	identity, err := g.authenticate(ctx, header)
	if err != nil {
		reason := string(apperr.KindOf(err))
		if errors.Is(err, storage.ErrRestricted) {
			reason = "restricted"
		}
		g.log.InfoContext(ctx, "authentication failed",
			slog.String("op", op),
			slog.String("reason", reason),
			slog.String("detail", err.Error()),
		)
		g.observe(reason)
		return nil, &apperr.Error{Kind: apperr.Unauthenticated, Op: op, Msg: "unauthenticated", Err: err}
	}
	g.observe("ok")
	return identity, nil
}

func (g *Gate) observe(outcome string) {
	if g.observer != nil {
		g.observer.AuthAttempt("session", outcome)
	}
}

func (g *Gate) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gate) authenticate(ctx context.Context, header string) (*Identity, error) {
	const op = "session.authenticate"

	token, err := BearerToken(header)
	if err != nil {
		return nil, err
	}
	claims, err := g.verifier.Verify(token, g.now())
	if err != nil {
		return nil, err
	}

	adapters := g.resolver.Resolve(ctx)
	if adapters.Restricted {
		return nil, apperr.Wrap(apperr.Unavailable, op, storage.ErrRestricted)
	}

	sctx, cancel := g.withTimeout(ctx)
	defer cancel()

	user, err := adapters.Credentials.GetUser(sctx, claims.SubjectID())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, apperr.New(apperr.InvalidCredentials, op, "subject no longer exists")
	case err != nil:
		return nil, apperr.Wrap(apperr.Unavailable, op, err)
	case user.Disabled:
		return nil, apperr.New(apperr.InvalidCredentials, op, "subject disabled")
	}

	ent, err := g.ledger.Current(sctx, user.ID)
	if err != nil {
		return nil, err
	}

	identity := &Identity{User: *user, Entitlement: ent}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

type identityKey struct{}

// WithIdentity сохраняет личность в контексте запроса.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext возвращает личность, сохранённую Auth-middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}
