// Package authclient is the client side of token validation: every service
// other than the issuer asks the issuer whether a bearer token is good and
// receives a Verdict. Any failure to get an answer is a denial.
package authclient

import (
	"context"
	"time"
)

// UnavailableReason is the fixed reason carried by every degraded verdict.
const UnavailableReason = "Authentication service is temporarily unavailable"

// Verdict is the only cross-service contract for authentication state.
type Verdict struct {
	Valid       bool       `json:"valid"`
	Username    string     `json:"username,omitempty"`
	Email       string     `json:"email,omitempty"`
	UserID      int64      `json:"userId,omitempty"`
	AccountType string     `json:"accountType,omitempty"`
	Roles       []string   `json:"roles,omitempty"`
	Permissions []string   `json:"permissions,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Invalid returns a rejected verdict with the given reason.
func Invalid(reason string) Verdict {
	return Verdict{Valid: false, Reason: reason}
}

// Unavailable returns the fail-closed verdict used whenever the issuer could
// not be consulted.
func Unavailable() Verdict {
	return Invalid(UnavailableReason)
}

// IsUnavailable reports whether v is the degraded verdict.
func (v Verdict) IsUnavailable() bool {
	return !v.Valid && v.Reason == UnavailableReason
}

// Validator turns a raw token into a Verdict. Implementations never return
// errors: every failure is expressed as valid=false.
type Validator interface {
	Validate(ctx context.Context, token string) Verdict
}

// ValidatorFunc adapts an ordinary function to Validator. The issuer uses it
// to validate its own tokens in-process.
type ValidatorFunc func(ctx context.Context, token string) Verdict

func (f ValidatorFunc) Validate(ctx context.Context, token string) Verdict {
	return f(ctx, token)
}

// UnavailableValidator always degrades. It stands in for the issuer when it is
// configured off and in tests of the fail-closed path.
type UnavailableValidator struct{}

func (UnavailableValidator) Validate(context.Context, string) Verdict {
	return Unavailable()
}
