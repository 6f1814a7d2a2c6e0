package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/auth"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
	OutcomeFailure = "failure"
)

// AuditEntry records who attempted which protected operation and how it
// ended.
type AuditEntry struct {
	RequestID  string
	UserID     int64
	Username   string
	UserRoles  []string
	Route      string
	Method     string
	Outcome    string
	Rejection  string
	IPAddress  string
	UserAgent  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit returns middleware that records every request under /api/. It must
// run after the Authenticator so the principal is known. Entries always go
// to the structured log; recorder, if given, receives them too.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditablePath(req.URL.Path) {
				return next(c)
			}

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			entry := AuditEntry{
				RequestID:  requestIDOf(c),
				Route:      c.Path(),
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
				Timestamp:  time.Now().UTC(),
			}
			if sc := auth.FromEcho(c); sc != nil {
				entry.UserID = sc.UserID
				entry.Username = sc.Username
				entry.UserRoles = sc.Roles()
			}
			entry.Rejection = auth.RejectionFromEcho(c)
			entry.Outcome = outcomeFor(entry.StatusCode)

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if entry.Outcome == OutcomeDenied {
				evt = logger.Warn()
			}
			evt.
				Str("type", "access_audit").
				Str("request_id", entry.RequestID).
				Int64("user_id", entry.UserID).
				Str("username", entry.Username).
				Strs("user_roles", entry.UserRoles).
				Str("method", entry.Method).
				Str("route", entry.Route).
				Str("outcome", entry.Outcome).
				Str("rejection", entry.Rejection).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

func outcomeFor(status int) string {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusTooManyRequests:
		return OutcomeDenied
	case status >= 400:
		return OutcomeFailure
	default:
		return OutcomeSuccess
	}
}
