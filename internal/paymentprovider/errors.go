package paymentprovider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound — объект у провайдера отсутствует.
var ErrNotFound = errors.New("paymentprovider: not found")

const (
	codeAlreadyExists   = "resource_already_exists"
	codeResourceMissing = "resource_missing"
)

// Error — ошибка, возвращённая провайдером. Message передаётся пользователю как есть.
type Error struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment provider: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("payment provider: %d: %s", e.StatusCode, e.Message)
}

// Is сопоставляет ответ 404 resource_missing с ErrNotFound.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && (e.Code == codeResourceMissing || e.StatusCode == http.StatusNotFound)
}

// IsAlreadyExists сообщает, что объект с таким идентификатором уже создан.
func IsAlreadyExists(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Code == codeAlreadyExists || strings.Contains(strings.ToLower(pe.Message), "already exists")
}
