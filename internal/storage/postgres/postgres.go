// Package postgres реализует хранилища пользователей и entitlement на основе PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/video-subscription/internal/storage"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidTextRepr     = "22P02"
)

// Hasher хеширует и сравнивает пароли.
type Hasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB     *sql.DB
	hasher Hasher
}

// New создаёт подключение к PostgreSQL и проверяет его.
func New(ctx context.Context, storageConnectionString string, hasher Hasher) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return NewWithDB(db, hasher), nil
}

// NewWithDB оборачивает уже открытое соединение.
func NewWithDB(db *sql.DB, hasher Hasher) *Storage {
	return &Storage{DB: db, hasher: hasher}
}

// Ping проверяет доступность базы.
func (s *Storage) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close закрывает соединение.
func (s *Storage) Close() error {
	return s.DB.Close()
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// mapErr переводит ошибки драйвера в sentinel-ошибки storage.
func mapErr(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	case pgCode(err) == pgInvalidTextRepr, pgCode(err) == pgForeignKeyViolation:
		return fmt.Errorf("%s: %w: %v", op, storage.ErrNotFound, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
