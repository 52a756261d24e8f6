// Package apperr содержит таксономию ошибок приложения.
//
// Каждая ошибка несёт Kind, по которому HTTP-слой выбирает код ответа,
// а сервисы решают, какие причины можно раскрыть клиенту. Проверять вид
// ошибки можно как через KindOf, так и через errors.Is(err, apperr.Expired).
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind — вид ошибки.
type Kind string

const (
	// Unknown — ошибка без классификации, наружу отдаётся как внутренняя.
	Unknown Kind = ""
	// InvalidCredentials — неверная пара email/пароль, без уточнения причины.
	InvalidCredentials Kind = "invalid_credentials"
	// Malformed — неверная форма входных данных или заголовка.
	Malformed Kind = "malformed"
	// Expired — истёк срок действия токена.
	Expired Kind = "expired"
	// InvalidSignature — подпись токена или вебхука не совпала.
	InvalidSignature Kind = "invalid_signature"
	// Conflict — попытка повторного создания.
	Conflict Kind = "conflict"
	// Unavailable — хранилище недоступно или истёк таймаут.
	Unavailable Kind = "unavailable"
	// PaymentProviderError — ошибка платёжного провайдера, сообщение передаётся как есть.
	PaymentProviderError Kind = "payment_provider_error"
	// InvalidTier — запрошен неизвестный тариф.
	InvalidTier Kind = "invalid_tier"
	// Unauthenticated — единый внешний результат для любой ошибки аутентификации.
	Unauthenticated Kind = "unauthenticated"
)

// Error реализует error для Kind, чтобы работал errors.Is(err, apperr.Expired).
func (k Kind) Error() string {
	return string(k)
}

// Error — ошибка приложения с видом, операцией и исходной причиной.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// New создаёт ошибку заданного вида.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap оборачивает err ошибкой заданного вида.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сопоставляет ошибку с Kind, переданным как target.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf возвращает вид первой ошибки приложения в цепочке err.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Unknown
}

// Message возвращает сообщение, которое можно показать клиенту.
// Для PaymentProviderError это текст провайдера.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return string(KindOf(err))
}

// FromContext превращает отмену или таймаут контекста в Unavailable.
// Прочие ошибки возвращаются без изменений.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(Unavailable, op, err)
	}
	return err
}
