package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/video-subscription/internal/lib/password"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/storage"
)

const userColumns = `uid, email, name, password_hash, disabled, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Disabled, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

// FindByEmail возвращает пользователя по email без учёта регистра.
func (s *Storage) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.FindByEmail"

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE lower(email) = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, models.NormalizeEmail(email)))
	if err != nil {
		return nil, mapErr(op, err)
	}
	return u, nil
}

// GetUser возвращает пользователя по его UID.
func (s *Storage) GetUser(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.GetUser"

	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE uid = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, mapErr(op, err)
	}
	return u, nil
}

// VerifyCredential сравнивает пароль с bcrypt-хешем пользователя.
func (s *Storage) VerifyCredential(ctx context.Context, user *models.User, plaintext string) (bool, error) {
	const op = "storage.VerifyCredential"
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if user == nil {
		return false, nil
	}
	err := s.hasher.Compare(user.PasswordHash, plaintext)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, password.ErrMismatch):
		return false, nil
	default:
		return false, fmt.Errorf("%s: %w", op, err)
	}
}

// Create сохраняет нового пользователя и возвращает его.
func (s *Storage) Create(ctx context.Context, email, name, plaintext string) (*models.User, error) {
	const op = "storage.Create"

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO users (email, name, password_hash)
			  VALUES ($1, $2, $3)
			  RETURNING ` + userColumns
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, models.NormalizeEmail(email), name, hash))
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrEmailTaken)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// Rehash заменяет хеш пароля пользователя.
func (s *Storage) Rehash(ctx context.Context, userID, plaintext string) error {
	const op = "storage.Rehash"

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE uid = $2`, hash, userID)
	if err != nil {
		return mapErr(op, err)
	}
	return requireAffected(op, res)
}

// Disable мягко отключает пользователя.
func (s *Storage) Disable(ctx context.Context, userID string) error {
	const op = "storage.Disable"

	res, err := s.DB.ExecContext(ctx, `UPDATE users SET disabled = true WHERE uid = $1`, userID)
	if err != nil {
		return mapErr(op, err)
	}
	return requireAffected(op, res)
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireAffected(op string, res rowsAffecter) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}
