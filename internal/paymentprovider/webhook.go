package paymentprovider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader — заголовок с подписью вебхука.
const SignatureHeader = "Stripe-Signature"

var (
	// ErrMissingSignature — заголовок подписи отсутствует или пуст.
	ErrMissingSignature = errors.New("paymentprovider: missing webhook signature")
	// ErrBadSignature — ни одна подпись v1 не совпала.
	ErrBadSignature = errors.New("paymentprovider: webhook signature mismatch")
	// ErrTimestampOutOfRange — подпись старше допустимого окна.
	ErrTimestampOutOfRange = errors.New("paymentprovider: webhook timestamp outside tolerance")
)

// Sign вычисляет заголовок подписи для payload в формате t=<unix>,v1=<hex>.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(computeSignature(ts, payload, secret))
}

func computeSignature(ts string, payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// VerifySignature проверяет подпись payload по заголовку header.
// Подпись со временем, отстоящим от now больше чем на tolerance, отклоняется;
// tolerance <= 0 отключает проверку времени.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" || secret == "" {
		return ErrMissingSignature
	}

	var (
		ts         string
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			sig, err := hex.DecodeString(value)
			if err == nil {
				signatures = append(signatures, sig)
			}
		}
	}
	if ts == "" || len(signatures) == 0 {
		return ErrMissingSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}

	expected := computeSignature(ts, payload, secret)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			matched = true
		}
	}
	if !matched {
		return ErrBadSignature
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return ErrTimestampOutOfRange
		}
	}
	return nil
}

// ParseEvent разбирает тело проверенного вебхука.
func ParseEvent(payload []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("paymentprovider.ParseEvent: %w", err)
	}
	if e.ID == "" || e.Type == "" {
		return nil, errors.New("paymentprovider.ParseEvent: event id and type are required")
	}
	return &e, nil
}
