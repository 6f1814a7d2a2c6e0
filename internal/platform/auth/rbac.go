package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("insufficient privilege")
)

// RequireAuthenticated fails with ErrUnauthorized for an anonymous request.
func RequireAuthenticated(sc *SecurityContext) error {
	if sc == nil {
		return ErrUnauthorized
	}
	return nil
}

// RequireAnyRole passes when sc holds at least one of roles.
func RequireAnyRole(sc *SecurityContext, roles ...string) error {
	if sc == nil {
		return ErrUnauthorized
	}
	for _, r := range roles {
		if sc.HasRole(r) {
			return nil
		}
	}
	return fmt.Errorf("%w: required role %s", ErrForbidden, strings.Join(roles, " or "))
}

// RequirePermission passes when sc holds perm.
func RequirePermission(sc *SecurityContext, perm string) error {
	if sc == nil {
		return ErrUnauthorized
	}
	if sc.HasPermission(perm) {
		return nil
	}
	return fmt.Errorf("%w: required permission %s", ErrForbidden, perm)
}

// HTTPError renders an evaluator error as a 401 or 403. Anything else is
// returned unchanged.
func HTTPError(c echo.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnauthorized):
		msg := "authentication required"
		if reason := RejectionFromEcho(c); reason != "" {
			msg = reason
		}
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="ehr"`)
		return echo.NewHTTPError(http.StatusUnauthorized, msg)
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return err
	}
}

// RequireRole returns middleware that admits principals holding any of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := RequireAnyRole(FromEcho(c), roles...); err != nil {
				return HTTPError(c, err)
			}
			return next(c)
		}
	}
}

// RequirePermissionMW returns middleware that admits principals holding perm.
func RequirePermissionMW(perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := RequirePermission(FromEcho(c), perm); err != nil {
				return HTTPError(c, err)
			}
			return next(c)
		}
	}
}

// Rule is the requirement attached to one route. A zero Rule only demands
// an authenticated principal.
type Rule struct {
	AnyRole    []string
	Permission string
}

func (r Rule) check(sc *SecurityContext) error {
	if err := RequireAuthenticated(sc); err != nil {
		return err
	}
	if len(r.AnyRole) > 0 {
		if err := RequireAnyRole(sc, r.AnyRole...); err != nil {
			return err
		}
	}
	if r.Permission != "" {
		return RequirePermission(sc, r.Permission)
	}
	return nil
}

// RouteRules maps "METHOD /route/:template" to its requirement.
type RouteRules map[string]Rule

// Guard enforces a static per-route requirement table. Routes absent from
// rules are public.
func Guard(rules RouteRules) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rule, ok := rules[c.Request().Method+" "+c.Path()]
			if !ok {
				return next(c)
			}
			if err := rule.check(FromEcho(c)); err != nil {
				return HTTPError(c, err)
			}
			return next(c)
		}
	}
}
