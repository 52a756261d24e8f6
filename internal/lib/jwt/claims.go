package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/magabrotheeeer/video-subscription/internal/lib/apperr"
)

// Claims описывает данные, хранящиеся в токене.
type Claims struct {
	jwt.RegisteredClaims // sub, iat, exp
}

// SubjectID возвращает идентификатор пользователя.
func (c *Claims) SubjectID() string {
	return c.Subject
}

// Issue создаёт токен для subjectID, подписывая его секретным ключом.
func (j *MakerImpl) Issue(subjectID string, now time.Time) (string, error) {
	const op = "jwt.Issue"
	if subjectID == "" {
		return "", apperr.New(apperr.Malformed, op, "empty subject")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return signed, nil
}

// Verify сначала пересчитывает подпись над header.claims и сравнивает её
// за постоянное время, затем разбирает claims и проверяет срок действия
// относительно now.
//
// Ошибки: Malformed — токен не из трёх частей или claims не разбираются,
// InvalidSignature — подпись не совпала, Expired — now >= exp.
func (j *MakerImpl) Verify(tokenStr string, now time.Time) (*Claims, error) {
	const op = "jwt.Verify"

	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return nil, apperr.New(apperr.Malformed, op, "token must have three segments")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	sig, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidSignature, op, err)
	}
	signingString := parts[0] + "." + parts[1]
	if err := jwt.SigningMethodHS256.Verify(signingString, sig, j.secretKey); err != nil {
		return nil, apperr.Wrap(apperr.InvalidSignature, op, err)
	}

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (any, error) {
		return j.secretKey, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, apperr.Wrap(apperr.Expired, op, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, apperr.Wrap(apperr.InvalidSignature, op, err)
		default:
			return nil, apperr.Wrap(apperr.Malformed, op, err)
		}
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, apperr.New(apperr.Malformed, op, "invalid claims")
	}
	if claims.IssuedAt == nil {
		return nil, apperr.New(apperr.Malformed, op, "missing iat")
	}
	return claims, nil
}
