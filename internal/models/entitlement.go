package models

import (
	"fmt"
	"time"
)

// Tier — уровень подписки.
type Tier string

const (
	// TierNone — нет платной подписки.
	TierNone Tier = "none"
	// TierSilver — тариф silver.
	TierSilver Tier = "silver"
	// TierGold — тариф gold.
	TierGold Tier = "gold"
)

// ParseTier разбирает строковое имя тарифа.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierNone, TierSilver, TierGold:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// Rank возвращает порядок тарифа для сравнения уровней доступа.
func (t Tier) Rank() int {
	switch t {
	case TierSilver:
		return 1
	case TierGold:
		return 2
	default:
		return 0
	}
}

// Covers сообщает, открывает ли тариф t доступ к контенту уровня required.
func (t Tier) Covers(required Tier) bool {
	return t.Rank() >= required.Rank()
}

// Status — состояние подписки.
type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusPastDue  Status = "past_due"
)

// Entitlement — единственная запись о праве доступа пользователя.
//
// Status берётся из самого позднего события, его время и id лежат в
// EffectiveSince и SourceEventID. Tier берётся из самого позднего события,
// задающего тариф, его ключ порядка лежит в TierSince и TierEventID:
// просрочка платежа без известной цены меняет только статус.
// Version растёт при каждой записи и служит условием замены.
type Entitlement struct {
	UserID         string    `json:"user_id"`
	Tier           Tier      `json:"tier"`
	Status         Status    `json:"status"`
	EffectiveSince time.Time `json:"effective_since"`
	SourceEventID  string    `json:"source_event_id"`
	TierSince      time.Time `json:"tier_since"`
	TierEventID    string    `json:"tier_event_id"`
	Version        int64     `json:"version"`
}

// NoEntitlement возвращает запись по умолчанию для пользователя без событий.
func NoEntitlement(userID string) Entitlement {
	return Entitlement{
		UserID: userID,
		Tier:   TierNone,
		Status: StatusCanceled,
	}
}

// Active сообщает, даёт ли запись доступ к платному контенту.
// Просроченный платёж сохраняет тариф до отмены подписки.
func (e Entitlement) Active() bool {
	return e.Tier != TierNone && (e.Status == StatusActive || e.Status == StatusPastDue)
}

// EffectiveTier возвращает тариф с учётом статуса.
func (e Entitlement) EffectiveTier() Tier {
	if !e.Active() {
		return TierNone
	}
	return e.Tier
}
