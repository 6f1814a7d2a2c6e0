package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ValidatePath is the issuer endpoint the HTTP validator posts to.
const ValidatePath = "/api/auth/validate"

// DefaultTimeout bounds one validation round trip.
const DefaultTimeout = 2 * time.Second

const maxVerdictBytes = 64 << 10

var errMalformedVerdict = errors.New("malformed verdict")

type validateRequest struct {
	Token string `json:"token"`
}

// HTTPValidator asks the issuer over HTTP. Exactly one request is made per
// call; there are no retries. Anything other than a well-formed 2xx answer
// yields Unavailable().
type HTTPValidator struct {
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *Metrics
}

// HTTPOption configures an HTTPValidator.
type HTTPOption func(*HTTPValidator)

// WithHTTPClient uses a copy of c as the underlying client. The copy's
// Timeout is set to the validator timeout; c itself is left untouched.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(v *HTTPValidator) {
		if c != nil {
			cl := *c
			v.httpClient = &cl
		}
	}
}

// WithMetrics records outcomes and latency into m.
func WithMetrics(m *Metrics) HTTPOption {
	return func(v *HTTPValidator) { v.metrics = m }
}

// NewHTTPValidator builds a validator for the issuer at baseURL. A
// non-positive timeout falls back to DefaultTimeout.
func NewHTTPValidator(baseURL string, timeout time.Duration, logger zerolog.Logger, opts ...HTTPOption) *HTTPValidator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	v := &HTTPValidator{
		endpoint:   strings.TrimRight(baseURL, "/") + ValidatePath,
		httpClient: &http.Client{},
		logger:     logger.With().Str("component", "authclient").Logger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.httpClient.Timeout = timeout
	return v
}

// Validate implements Validator.
func (v *HTTPValidator) Validate(ctx context.Context, token string) Verdict {
	if strings.TrimSpace(token) == "" {
		verdict := Invalid("Missing token")
		v.metrics.outcome(OutcomeInvalid)
		return verdict
	}

	start := time.Now()
	verdict, err := v.call(ctx, token)
	v.metrics.observe(time.Since(start))
	if err != nil {
		v.logger.Warn().Err(err).Str("endpoint", v.endpoint).
			Dur("elapsed", time.Since(start)).
			Msg("token validation failed, denying")
		verdict = Unavailable()
	}
	v.metrics.outcome(outcomeOf(verdict))
	return verdict
}

func (v *HTTPValidator) call(ctx context.Context, token string) (Verdict, error) {
	body, err := json.Marshal(validateRequest{Token: token})
	if err != nil {
		return Verdict{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxVerdictBytes))
		return Verdict{}, fmt.Errorf("issuer returned status %d", resp.StatusCode)
	}

	var verdict Verdict
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxVerdictBytes)).Decode(&verdict); err != nil {
		return Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if verdict.Valid && verdict.Username == "" {
		return Verdict{}, fmt.Errorf("%w: valid verdict without username", errMalformedVerdict)
	}
	if !verdict.Valid && verdict.Reason == "" {
		verdict.Reason = "Invalid token"
	}
	return verdict, nil
}
