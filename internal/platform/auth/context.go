package auth

import (
	"context"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/authclient"
)

type contextKey string

const securityContextKey contextKey = "security_context"

// Echo context keys set by Authenticator.
const (
	EchoSecurityContextKey = "security_context"
	EchoRejectionKey       = "auth_rejection"
)

// SecurityContext is the authorization state of one request, built from a
// successful verdict. It is never shared between requests.
type SecurityContext struct {
	UserID      int64
	Username    string
	Email       string
	AccountType string
	ExpiresAt   *time.Time

	roles       map[string]struct{}
	permissions map[string]struct{}
}

// FromVerdict builds a SecurityContext. It returns false for any verdict that
// is not valid, so a context can only exist behind a successful validation.
func FromVerdict(v authclient.Verdict) (*SecurityContext, bool) {
	if !v.Valid || v.Username == "" {
		return nil, false
	}
	sc := &SecurityContext{
		UserID:      v.UserID,
		Username:    v.Username,
		Email:       v.Email,
		AccountType: v.AccountType,
		roles:       toSet(v.Roles),
		permissions: toSet(v.Permissions),
	}
	if v.ExpiresAt != nil {
		exp := *v.ExpiresAt
		sc.ExpiresAt = &exp
	}
	return sc, true
}

// HasRole reports membership of role.
func (sc *SecurityContext) HasRole(role string) bool {
	if sc == nil {
		return false
	}
	_, ok := sc.roles[role]
	return ok
}

// HasPermission reports membership of perm.
func (sc *SecurityContext) HasPermission(perm string) bool {
	if sc == nil {
		return false
	}
	_, ok := sc.permissions[perm]
	return ok
}

// Roles returns the role set, sorted.
func (sc *SecurityContext) Roles() []string {
	if sc == nil {
		return nil
	}
	return sortedKeys(sc.roles)
}

// Permissions returns the permission set, sorted.
func (sc *SecurityContext) Permissions() []string {
	if sc == nil {
		return nil
	}
	return sortedKeys(sc.permissions)
}

// WithSecurityContext returns a copy of ctx carrying sc.
func WithSecurityContext(ctx context.Context, sc *SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey, sc)
}

// FromContext returns the request's SecurityContext, or nil when anonymous.
func FromContext(ctx context.Context) *SecurityContext {
	sc, _ := ctx.Value(securityContextKey).(*SecurityContext)
	return sc
}

// FromEcho returns the SecurityContext attached by Authenticator, or nil.
func FromEcho(c echo.Context) *SecurityContext {
	if sc, ok := c.Get(EchoSecurityContextKey).(*SecurityContext); ok && sc != nil {
		return sc
	}
	return FromContext(c.Request().Context())
}

// RejectionFromEcho returns why a presented token was rejected, if it was.
func RejectionFromEcho(c echo.Context) string {
	s, _ := c.Get(EchoRejectionKey).(string)
	return s
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it != "" {
			set[it] = struct{}{}
		}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
