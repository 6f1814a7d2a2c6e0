package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists routes that never need a principal. The Authenticator
// skips the validation round trip for them.
var publicPaths = map[string]bool{
	"/health":                   true,
	"/health/db":                true,
	"/metrics":                  true,
	"/api/auth/login":           true,
	"/api/auth/register":        true,
	"/api/auth/refresh":         true,
	"/api/auth/validate":        true,
	"/api/auth/validate-header": true,
}

// AuthSkipper returns true for requests whose route needs no principal.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path is one of the public routes.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
