package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// DefaultBodyLimit bounds request bodies; credential and validation payloads
// are a few hundred bytes.
const DefaultBodyLimit = "64K"

// BodyLimit returns middleware that rejects request bodies larger than limit
// with 413. Limits are human-readable: "512", "64K", "1M", "1G".
func BodyLimit(limit string) echo.MiddlewareFunc {
	max := parseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			// Content-Length gives an early rejection; the wrapped reader
			// covers chunked or lying clients.
			if req.ContentLength > max {
				return payloadTooLarge(max)
			}
			req.Body = &limitedReadCloser{ReadCloser: req.Body, remaining: max}
			return next(c)
		}
	}
}

// limitedReadCloser fails reads once more than the allowed bytes are seen.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (int, error) {
	if r.exceeded {
		return 0, payloadTooLarge(-1)
	}

	// Read at most one byte past the limit to detect overflow.
	if int64(len(p)) > r.remaining+1 {
		p = p[:r.remaining+1]
	}
	n, err := r.ReadCloser.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		r.exceeded = true
		return 0, payloadTooLarge(-1)
	}
	return n, err
}

func payloadTooLarge(limit int64) *echo.HTTPError {
	msg := "Request body too large"
	if limit >= 0 {
		msg = fmt.Sprintf("Request body exceeds maximum allowed size of %d bytes", limit)
	}
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge, map[string]string{
		"code":    "PayloadTooLarge",
		"message": msg,
	})
}

// BindError turns a c.Bind failure into the response error. A 413 raised
// while the body was being read survives; anything else is a 400.
func BindError(err error) error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if he, ok := e.(*echo.HTTPError); ok && he.Code == http.StatusRequestEntityTooLarge {
			return he
		}
	}
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
}

// parseLimit parses a size like "1M", "512K" or "10G" into bytes. Empty or
// unparsable input yields 1 MB.
func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 1 << 20
	}
	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 1 << 20
	}
	return n * multiplier
}
