// Package restricted реализует адаптеры для среды выполнения без нужных
// возможностей (хеширование, постоянные сетевые соединения).
//
// Запись — no-op, чтение возвращает storage.ErrRestricted, а не "не найдено":
// вызывающий код должен отличать пропущенную проверку от честного отказа.
package restricted

import (
	"context"

	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/storage"
)

// Credentials — ограниченная реализация storage.CredentialStore.
type Credentials struct{}

func (Credentials) FindByEmail(context.Context, string) (*models.User, error) {
	return nil, storage.ErrRestricted
}

func (Credentials) GetUser(context.Context, string) (*models.User, error) {
	return nil, storage.ErrRestricted
}

func (Credentials) VerifyCredential(context.Context, *models.User, string) (bool, error) {
	return false, storage.ErrRestricted
}

func (Credentials) Create(context.Context, string, string, string) (*models.User, error) {
	return nil, storage.ErrRestricted
}

func (Credentials) Rehash(context.Context, string, string) error {
	return storage.ErrRestricted
}

func (Credentials) Disable(context.Context, string) error {
	return storage.ErrRestricted
}

// Entitlements — ограниченная реализация storage.EntitlementStore.
type Entitlements struct{}

func (Entitlements) GetEntitlement(context.Context, string) (*models.Entitlement, error) {
	return nil, storage.ErrRestricted
}

func (Entitlements) IsEventApplied(context.Context, string) (bool, error) {
	return false, storage.ErrRestricted
}

func (Entitlements) SwapEntitlement(context.Context, models.BillingEvent, models.Entitlement, int64) (bool, error) {
	return false, storage.ErrRestricted
}

func (Entitlements) RecordEvent(context.Context, models.BillingEvent) (bool, error) {
	return false, storage.ErrRestricted
}

var (
	_ storage.CredentialStore  = Credentials{}
	_ storage.EntitlementStore = Entitlements{}
)
