package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/authclient"
)

const bearerPrefix = "bearer "

// BearerToken extracts the token from an Authorization header value. It
// returns false when the header is empty, uses another scheme, or carries an
// empty token.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(bearerPrefix):])
	if tok == "" {
		return "", false
	}
	return tok, true
}

// AuthenticatorConfig configures Authenticator.
type AuthenticatorConfig struct {
	Validator authclient.Validator
	Logger    zerolog.Logger
	// Skipper bypasses validation entirely, leaving the request anonymous.
	Skipper func(echo.Context) bool
}

// Authenticator resolves the caller of each request. It never rejects a
// request itself: a missing, foreign-scheme or invalid token leaves the
// request anonymous, and the decision to refuse it belongs to the guards
// further down the chain. A valid verdict attaches a SecurityContext to both
// the request context and the echo context.
func Authenticator(cfg AuthenticatorConfig) echo.MiddlewareFunc {
	v := cfg.Validator
	if v == nil {
		v = authclient.UnavailableValidator{}
	}
	logger := cfg.Logger.With().Str("component", "authenticator").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tok, ok := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return next(c)
			}

			verdict := v.Validate(c.Request().Context(), tok)
			sc, ok := FromVerdict(verdict)
			if !ok {
				reason := verdict.Reason
				if reason == "" {
					reason = "Invalid token"
				}
				c.Set(EchoRejectionKey, reason)
				logger.Debug().
					Str("path", c.Request().URL.Path).
					Str("reason", reason).
					Msg("token rejected, continuing anonymous")
				return next(c)
			}

			c.Set(EchoSecurityContextKey, sc)
			c.SetRequest(c.Request().WithContext(WithSecurityContext(c.Request().Context(), sc)))
			return next(c)
		}
	}
}
