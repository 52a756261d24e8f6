// Package memory реализует хранилища пользователей и entitlement в памяти.
// Используется в локальном окружении и в тестах; семантика совпадает с PostgreSQL,
// включая атомарную замену entitlement по предыдущему источнику.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/storage"
)

// Hasher хеширует и сравнивает пароли.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// Store хранит данные в map под одной блокировкой.
type Store struct {
	mu sync.RWMutex

	hasher Hasher
	now    func() time.Time

	users        map[string]*models.User // по id
	emails       map[string]string       // нормализованный email -> id
	entitlements map[string]models.Entitlement
	events       map[string]models.BillingEvent
}

// New создаёт пустое хранилище.
func New(hasher Hasher) *Store {
	return &Store{
		hasher:       hasher,
		now:          time.Now,
		users:        make(map[string]*models.User),
		emails:       make(map[string]string),
		entitlements: make(map[string]models.Entitlement),
		events:       make(map[string]models.BillingEvent),
	}
}

// FindByEmail ищет пользователя по email без учёта регистра.
func (s *Store) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[models.NormalizeEmail(email)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u := *s.users[id]
	return &u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// VerifyCredential сравнивает пароль с хешем пользователя.
func (s *Store) VerifyCredential(ctx context.Context, user *models.User, plaintext string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}
	return s.hasher.Compare(user.PasswordHash, plaintext) == nil, nil
}

// Create создаёт пользователя.
func (s *Store) Create(ctx context.Context, email, name, plaintext string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.NormalizeEmail(email)
	if _, exists := s.emails[key]; exists {
		return nil, storage.ErrEmailTaken
	}
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        key,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	s.users[u.ID] = u
	s.emails[key] = u.ID

	cp := *u
	return &cp, nil
}

// Rehash заменяет хеш пароля пользователя.
func (s *Store) Rehash(ctx context.Context, userID, plaintext string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

// Disable отключает пользователя.
func (s *Store) Disable(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.Disabled = true
	return nil
}

// GetEntitlement возвращает запись пользователя.
func (s *Store) GetEntitlement(ctx context.Context, userID string) (*models.Entitlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entitlements[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &e, nil
}

// IsEventApplied сообщает, обработано ли событие.
func (s *Store) IsEventApplied(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.events[eventID]
	return ok, nil
}

// SwapEntitlement записывает next при совпадении версии записи.
func (s *Store) SwapEntitlement(ctx context.Context, event models.BillingEvent, next models.Entitlement, prevVersion int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; ok {
		return false, storage.ErrEventApplied
	}
	if _, ok := s.users[next.UserID]; !ok {
		return false, storage.ErrNotFound
	}
	cur, exists := s.entitlements[next.UserID]
	switch {
	case !exists && prevVersion != 0:
		return false, nil
	case exists && cur.Version != prevVersion:
		return false, nil
	}
	s.entitlements[next.UserID] = next
	s.events[event.ID] = event
	return true, nil
}

// RecordEvent отмечает событие обработанным.
func (s *Store) RecordEvent(ctx context.Context, event models.BillingEvent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; ok {
		return false, nil
	}
	s.events[event.ID] = event
	return true, nil
}
