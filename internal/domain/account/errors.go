package account

import (
	"errors"
	"fmt"
	"strings"
)

// Error is an auth-domain failure with a stable code surfaced to clients.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrInvalidCredentials = &Error{Code: "InvalidCredentials", Message: "Invalid username or password"}
	ErrAccountLocked      = &Error{Code: "AccountLocked", Message: "Account is locked"}
	ErrAccountInactive    = &Error{Code: "AccountInactive", Message: "Account is inactive"}
	ErrDuplicateUsername  = &Error{Code: "DuplicateUsername", Message: "Username is already taken"}
	ErrDuplicateEmail     = &Error{Code: "DuplicateEmail", Message: "Email is already registered"}
	ErrInvalidRefresh     = &Error{Code: "InvalidRefreshToken", Message: "Refresh token is invalid or expired"}
)

// ErrNotFound is returned by repositories when no account matches.
var ErrNotFound = errors.New("account not found")

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
