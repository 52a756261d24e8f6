// Package storage описывает контракты хранилищ пользователей и entitlement,
// общие для полноценной реализации на PostgreSQL, памяти и ограниченного
// режима, а также их sentinel-ошибки.
package storage

import (
	"context"
	"errors"

	"github.com/magabrotheeeer/video-subscription/internal/models"
)

var (
	// ErrNotFound — запись отсутствует.
	ErrNotFound = errors.New("storage: not found")
	// ErrEmailTaken — пользователь с таким email уже существует.
	ErrEmailTaken = errors.New("storage: email already taken")
	// ErrRestricted — среда выполнения не позволяет обратиться к настоящему
	// хранилищу, проверка не выполнялась. Это не то же самое, что ErrNotFound.
	ErrRestricted = errors.New("storage: restricted adapter, verification skipped")
	// ErrEventApplied — событие с таким идентификатором уже обработано.
	ErrEventApplied = errors.New("storage: billing event already applied")
)

// CredentialStore хранит учётные записи пользователей и хеши паролей.
type CredentialStore interface {
	// FindByEmail ищет пользователя по email без учёта регистра.
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	// GetUser возвращает пользователя по идентификатору.
	GetUser(ctx context.Context, userID string) (*models.User, error)
	// VerifyCredential сравнивает пароль с хешем пользователя.
	VerifyCredential(ctx context.Context, user *models.User, plaintext string) (bool, error)
	// Create создаёт пользователя; при занятом email возвращает ErrEmailTaken.
	Create(ctx context.Context, email, name, plaintext string) (*models.User, error)
	// Rehash заменяет хеш пароля пользователя.
	Rehash(ctx context.Context, userID, plaintext string) error
	// Disable отключает пользователя без удаления.
	Disable(ctx context.Context, userID string) error
}

// EntitlementStore хранит по одной записи entitlement на пользователя
// и множество уже обработанных платёжных событий.
type EntitlementStore interface {
	// GetEntitlement возвращает запись пользователя или ErrNotFound.
	GetEntitlement(ctx context.Context, userID string) (*models.Entitlement, error)
	// IsEventApplied сообщает, обработано ли событие с таким id.
	IsEventApplied(ctx context.Context, eventID string) (bool, error)
	// SwapEntitlement атомарно записывает next, если версия текущей записи
	// равна prevVersion (0 — записи ещё нет), и отмечает event обработанным.
	// Возвращает false, если запись успели изменить, и ErrEventApplied,
	// если событие уже было обработано.
	SwapEntitlement(ctx context.Context, event models.BillingEvent, next models.Entitlement, prevVersion int64) (bool, error)
	// RecordEvent отмечает событие обработанным без изменения entitlement.
	// Возвращает false, если событие уже было отмечено.
	RecordEvent(ctx context.Context, event models.BillingEvent) (bool, error)
}
