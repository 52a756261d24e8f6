package jwt

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/magabrotheeeer/video-subscription/internal/lib/apperr"
)

const base64URLAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

func tokenProperties(t *testing.T) *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	return gopter.NewProperties(parameters)
}

func TestTokenRoundTripProperty(t *testing.T) {
	ttl := 24 * time.Hour
	maker := NewJWTMaker("property_secret", ttl)
	properties := tokenProperties(t)

	properties.Property("verify(issue(s, now), now+1s) returns s", prop.ForAll(
		func(subject string, unix int64) bool {
			now := time.Unix(unix, 0).UTC()
			token, err := maker.Issue(subject, now)
			if err != nil {
				return false
			}
			claims, err := maker.Verify(token, now.Add(time.Second))
			return err == nil && claims.SubjectID() == subject
		},
		gen.Identifier(),
		gen.Int64Range(1_000_000_000, 4_000_000_000),
	))

	properties.Property("verify at or after exp fails with Expired", prop.ForAll(
		func(subject string, unix int64, extra int64) bool {
			now := time.Unix(unix, 0).UTC()
			token, err := maker.Issue(subject, now)
			if err != nil {
				return false
			}
			_, err = maker.Verify(token, now.Add(ttl).Add(time.Duration(extra)*time.Second))
			return apperr.KindOf(err) == apperr.Expired
		},
		gen.Identifier(),
		gen.Int64Range(1_000_000_000, 4_000_000_000),
		gen.Int64Range(0, 1_000_000),
	))

	properties.TestingRun(t)
}

func TestTokenTamperProperty(t *testing.T) {
	maker := NewJWTMaker("property_secret", time.Hour)
	properties := tokenProperties(t)

	properties.Property("altering any byte of header.claims fails with InvalidSignature", prop.ForAll(
		func(subject string, pos int, shift int) bool {
			token, err := maker.Issue(subject, testNow)
			if err != nil {
				return false
			}
			signedLen := strings.LastIndex(token, ".")
			i := pos % signedLen
			if token[i] == '.' {
				i = (i + 1) % signedLen
			}
			orig := strings.IndexByte(base64URLAlphabet, token[i])
			replacement := base64URLAlphabet[(orig+1+shift%(len(base64URLAlphabet)-1))%len(base64URLAlphabet)]
			tampered := token[:i] + string(replacement) + token[i+1:]

			_, err = maker.Verify(tampered, testNow)
			return apperr.KindOf(err) == apperr.InvalidSignature
		},
		gen.Identifier(),
		gen.IntRange(0, 10_000),
		gen.IntRange(0, 1_000),
	))

	properties.TestingRun(t)
}
