// Package models содержит доменные структуры сервиса: пользователя,
// право доступа (entitlement), платёжные события, купоны и промокоды.
package models

import (
	"strings"
	"time"
)

// User представляет зарегистрированного пользователя системы.
type User struct {
	ID           string    `json:"id"`    // Уникальный идентификатор пользователя
	Email        string    `json:"email"` // Электронная почта, уникальна без учёта регистра
	Name         string    `json:"name"`  // Отображаемое имя
	PasswordHash string    `json:"-"`     // bcrypt-хэш пароля, исходный пароль не хранится
	Disabled     bool      `json:"-"`     // Мягкое отключение вместо удаления
	CreatedAt    time.Time `json:"created_at"`
}

// NormalizeEmail приводит email к каноническому виду для поиска и уникальности.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
