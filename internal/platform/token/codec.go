// Package token encodes and verifies the signed compact tokens handed to
// clients by the auth service. Tokens are HS256 JWTs: three base64url
// segments (header.claims.signature) verified purely by signature and expiry.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinKeyBytes is the minimum HMAC key length (256 bits).
const MinKeyBytes = 32

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the payload embedded in every token.
type Claims struct {
	jwt.RegisteredClaims
	UserID      int64    `json:"uid"`
	Email       string   `json:"email,omitempty"`
	AccountType string   `json:"account_type,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	TokenType   string   `json:"token_type"`
}

// IsRefresh reports whether the claims carry the refresh marker.
func (c *Claims) IsRefresh() bool {
	return c.TokenType == TypeRefresh
}

// Codec signs and verifies tokens with a single symmetric key. The key is
// fixed for the lifetime of the codec; rotating it means building a new codec,
// which invalidates every token signed with the old one.
type Codec struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithIssuer stamps and requires the "iss" claim.
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		c.issuer = strings.TrimSpace(issuer)
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec builds a codec around key. Keys shorter than MinKeyBytes are rejected.
func NewCodec(key []byte, opts ...Option) (*Codec, error) {
	if len(key) < MinKeyBytes {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", MinKeyBytes, len(key))
	}
	c := &Codec{
		key: append([]byte(nil), key...),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encode stamps issued-at and expires-at on a copy of claims and signs it.
// The timestamp is truncated to whole seconds so that the encoded values
// round-trip exactly.
func (c *Codec) Encode(claims Claims, validity time.Duration) (string, error) {
	if validity <= 0 {
		return "", errors.New("validity must be positive")
	}
	now := c.now().UTC().Truncate(time.Second)

	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(validity))
	if c.issuer != "" {
		claims.Issuer = c.issuer
	}
	if claims.TokenType == "" {
		claims.TokenType = TypeAccess
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies tokenStr and returns its claims. The returned error is one
// of ErrMalformed, ErrUnsupported, ErrBadSignature or ErrExpired.
func (c *Codec) Decode(tokenStr string) (*Claims, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" || strings.Count(tokenStr, ".") != 2 {
		return nil, ErrMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, c.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, classifySegments(tokenStr)
		}
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, ErrBadSignature
	}
	if claims.IssuedAt == nil {
		return nil, ErrMalformed
	}
	return claims, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method != jwt.SigningMethodHS256 {
		return nil, errUnsupportedAlg
	}
	if typ, ok := t.Header["typ"]; ok {
		if s, _ := typ.(string); !strings.EqualFold(s, "JWT") {
			return nil, errUnsupportedAlg
		}
	}
	return c.key, nil
}

// classifySegments tells a broken signature segment apart from a broken
// header or claims segment. Only the latter makes the token malformed; a
// signature that does not decode canonically is a bad signature.
func classifySegments(tokenStr string) error {
	unverified, parts, err := jwt.NewParser(jwt.WithStrictDecoding()).ParseUnverified(tokenStr, &Claims{})
	if err != nil {
		return ErrMalformed
	}
	if unverified.Method != jwt.SigningMethodHS256 {
		return ErrUnsupported
	}
	if _, err := base64.RawURLEncoding.Strict().DecodeString(parts[2]); err != nil {
		return ErrBadSignature
	}
	return ErrMalformed
}

// classify collapses jwt parser errors into the codec's taxonomy. Order
// matters: a token with an unsupported header never reaches signature checks.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, errUnsupportedAlg), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrUnsupported
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing), errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrMalformed
	default:
		return ErrMalformed
	}
}
