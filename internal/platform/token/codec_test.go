package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func newTestCodec(t *testing.T, clock *fakeClock) *Codec {
	t.Helper()
	c, err := NewCodec(testKey, WithClock(clock.Now), WithIssuer("ehr-auth"))
	require.NoError(t, err)
	return c
}

func sampleClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
		UserID:           42,
		Email:            "alice@x.com",
		AccountType:      "PATIENT",
		Roles:            []string{"PATIENT"},
	}
}

func TestNewCodec_RejectsShortKey(t *testing.T) {
	_, err := NewCodec([]byte("too-short"))
	require.Error(t, err)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCodec(t, clock)

	cases := []struct {
		name     string
		claims   Claims
		validity time.Duration
	}{
		{"access 24h", sampleClaims(), 24 * time.Hour},
		{"multiple roles", Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "dr.house"},
			UserID:           7,
			AccountType:      "DOCTOR",
			Roles:            []string{"DOCTOR", "ADMIN"},
		}, time.Hour},
		{"refresh reduced claims", Claims{UserID: 9, TokenType: TypeRefresh}, 7 * 24 * time.Hour},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok, err := c.Encode(tc.claims, tc.validity)
			require.NoError(t, err)
			assert.Equal(t, 2, strings.Count(tok, "."))

			clock.t = clock.t.Add(tc.validity / 2)
			defer func() { clock.t = clock.t.Add(-tc.validity / 2) }()

			got, err := c.Decode(tok)
			require.NoError(t, err)
			assert.Equal(t, tc.claims.Subject, got.Subject)
			assert.Equal(t, tc.claims.UserID, got.UserID)
			assert.Equal(t, tc.claims.Email, got.Email)
			assert.Equal(t, tc.claims.AccountType, got.AccountType)
			assert.Equal(t, tc.claims.Roles, got.Roles)
			assert.Equal(t, "ehr-auth", got.Issuer)
			assert.Equal(t, tc.validity, got.ExpiresAt.Sub(got.IssuedAt.Time))
		})
	}
}

func TestEncode_DefaultsToAccessType(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCodec(t, clock)

	tok, err := c.Encode(sampleClaims(), time.Hour)
	require.NoError(t, err)
	got, err := c.Decode(tok)
	require.NoError(t, err)
	assert.Equal(t, TypeAccess, got.TokenType)
	assert.False(t, got.IsRefresh())
}

func TestEncode_Deterministic(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCodec(t, clock)

	a, err := c.Encode(sampleClaims(), time.Hour)
	require.NoError(t, err)
	b, err := c.Encode(sampleClaims(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncode_RejectsNonPositiveValidity(t *testing.T) {
	c := newTestCodec(t, &fakeClock{t: time.Now()})
	_, err := c.Encode(sampleClaims(), 0)
	require.Error(t, err)
}

func TestDecode_Expired(t *testing.T) {
	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: issued}
	c := newTestCodec(t, clock)

	tok, err := c.Encode(sampleClaims(), 24*time.Hour)
	require.NoError(t, err)

	for _, at := range []time.Duration{24 * time.Hour, 24*time.Hour + time.Second, 48 * time.Hour} {
		clock.t = issued.Add(at)
		_, err := c.Decode(tok)
		assert.ErrorIs(t, err, ErrExpired, "at issued+%s", at)
	}

	clock.t = issued.Add(24*time.Hour - time.Second)
	_, err = c.Decode(tok)
	assert.NoError(t, err)
}

func TestDecode_TamperedSignature(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCodec(t, clock)

	tok, err := c.Encode(sampleClaims(), time.Hour)
	require.NoError(t, err)
	parts := strings.Split(tok, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)

	for i := 0; i < len(sig)*8; i++ {
		flipped := append([]byte(nil), sig...)
		flipped[i/8] ^= 1 << (i % 8)
		forged := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(flipped)

		_, err := c.Decode(forged)
		require.ErrorIs(t, err, ErrBadSignature, "bit %d", i)
	}
}

func TestDecode_TamperedSignatureText(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCodec(t, clock)

	tok, err := c.Encode(sampleClaims(), time.Hour)
	require.NoError(t, err)
	parts := strings.Split(tok, ".")
	sig := parts[2]
	require.Len(t, sig, 43)

	for i := 0; i < len(sig); i++ {
		for bit := 0; bit < 8; bit++ {
			altered := []byte(sig)
			altered[i] ^= 1 << bit
			forged := parts[0] + "." + parts[1] + "." + string(altered)

			_, err := c.Decode(forged)
			if altered[i] == '.' {
				require.ErrorIs(t, err, ErrMalformed, "char %d bit %d", i, bit)
				continue
			}
			require.ErrorIs(t, err, ErrBadSignature, "char %d bit %d: %q -> %q", i, bit, sig[i], altered[i])
		}
	}
}

func TestDecode_NonCanonicalSignatureTail(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCodec(t, clock)

	tok, err := c.Encode(sampleClaims(), time.Hour)
	require.NoError(t, err)
	parts := strings.Split(tok, ".")

	// The final character of a 43-char HMAC segment carries two unused bits.
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	last := strings.IndexByte(alphabet, parts[2][42])
	require.GreaterOrEqual(t, last, 0)

	for pad := 1; pad < 4; pad++ {
		tail := alphabet[last&^3|pad]
		forged := parts[0] + "." + parts[1] + "." + parts[2][:42] + string(tail)
		_, err := c.Decode(forged)
		assert.ErrorIs(t, err, ErrBadSignature, "tail %q", tail)
	}
}

func TestDecode_TamperedClaims(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCodec(t, clock)

	tok, err := c.Encode(sampleClaims(), time.Hour)
	require.NoError(t, err)
	parts := strings.Split(tok, ".")

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	escalated := strings.Replace(string(payload), `"PATIENT"]`, `"ADMIN"]`, 1)
	require.NotEqual(t, string(payload), escalated)

	forged := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(escalated)) + "." + parts[2]
	_, err = c.Decode(forged)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestDecode_WrongKey(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCodec(t, clock)
	rotated, err := NewCodec([]byte("fedcba9876543210fedcba9876543210"), WithClock(clock.Now), WithIssuer("ehr-auth"))
	require.NoError(t, err)

	tok, err := c.Encode(sampleClaims(), time.Hour)
	require.NoError(t, err)

	_, err = rotated.Decode(tok)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestDecode_Malformed(t *testing.T) {
	c := newTestCodec(t, &fakeClock{t: time.Now()})

	for _, raw := range []string{"", "abc", "a.b", "a.b.c.d", "!!!.@@@.###", "eyJhbGciOiJIUzI1NiJ9.not-json.sig"} {
		_, err := c.Decode(raw)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", raw)
	}
}

func TestDecode_UnsupportedAlgorithm(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := newTestCodec(t, clock)

	claims := sampleClaims()
	claims.Issuer = "ehr-auth"
	claims.IssuedAt = jwt.NewNumericDate(clock.t)
	claims.ExpiresAt = jwt.NewNumericDate(clock.t.Add(time.Hour))

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &claims).SignedString(testKey)
	require.NoError(t, err)
	_, err = c.Decode(hs512)
	assert.ErrorIs(t, err, ErrUnsupported)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = c.Decode(none)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "", Reason(nil))
	assert.Contains(t, strings.ToLower(Reason(ErrExpired)), "expired")
	assert.Contains(t, strings.ToLower(Reason(ErrBadSignature)), "signature")
	assert.Equal(t, "Malformed token", Reason(ErrMalformed))
	assert.Equal(t, "Unsupported token algorithm", Reason(ErrUnsupported))
}
