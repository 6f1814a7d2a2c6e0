package token

import "errors"

var (
	ErrMalformed    = errors.New("token: malformed")
	ErrBadSignature = errors.New("token: bad signature")
	ErrExpired      = errors.New("token: expired")
	ErrUnsupported  = errors.New("token: unsupported algorithm or header")

	errUnsupportedAlg = errors.New("unexpected signing method")
)

// Reason renders a decode error as the human-readable reason carried by an
// invalid validation verdict.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExpired):
		return "Token has expired"
	case errors.Is(err, ErrBadSignature):
		return "Invalid token signature"
	case errors.Is(err, ErrUnsupported):
		return "Unsupported token algorithm"
	case errors.Is(err, ErrMalformed):
		return "Malformed token"
	default:
		return "Invalid token"
	}
}
