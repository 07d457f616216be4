package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinKeyBytes is the smallest acceptable decoded signing key.
const MinKeyBytes = 16

// ErrInvalidToken is returned for every validation failure: wrong algorithm,
// bad signature, expired, or structurally broken. Callers get no detail
// about which check rejected the token.
var ErrInvalidToken = errors.New("invalid token")

// Token is an issued credential.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer signs and validates HS256 JWTs with a single symmetric key.
type Issuer struct {
	key []byte

	// now is replaceable for deterministic expiry tests.
	now func() time.Time
}

// NewIssuer decodes the signing secret and constructs an Issuer. The secret
// is tried as standard base64, unpadded standard base64, URL-safe base64,
// and unpadded URL-safe base64, in that order; if none decode cleanly the
// raw bytes of the string are used. Keys shorter than MinKeyBytes are
// rejected.
func NewIssuer(secret string) (*Issuer, error) {
	key := decodeKey(secret)
	if len(key) < MinKeyBytes {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", MinKeyBytes, len(key))
	}
	return &Issuer{key: key, now: time.Now}, nil
}

func decodeKey(secret string) []byte {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if decoded, err := enc.DecodeString(secret); err == nil {
			return decoded
		}
	}
	return []byte(secret)
}

// Issue signs a token for the subject. The claim set always carries sub,
// iat, and exp; aud is omitted when the audience list is empty, a bare
// string for exactly one entry, and a list otherwise. Extra claims are
// merged last and may overwrite the standard ones if keys collide.
func (i *Issuer) Issue(subject string, audience []string, ttl time.Duration, extra map[string]any) (*Token, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject must not be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive, got %s", ttl)
	}

	now := i.now()
	expiresAt := now.Add(ttl)

	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	switch len(audience) {
	case 0:
		// aud omitted entirely
	case 1:
		claims["aud"] = audience[0]
	default:
		claims["aud"] = audience
	}
	for k, v := range extra {
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	value, err := token.SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{Value: value, ExpiresAt: expiresAt}, nil
}

// Validate parses and verifies a token string, returning its claims.
// Only HS256 is accepted; every failure surfaces as ErrInvalidToken.
func (i *Issuer) Validate(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return i.now() }),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
