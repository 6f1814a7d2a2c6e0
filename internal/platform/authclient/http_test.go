package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuerStub(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func counterValue(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "auth_validation_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestHTTPValidator_ValidVerdict(t *testing.T) {
	exp := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	srv, calls := issuerStub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ValidatePath, r.URL.Path)
		var body validateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tok-123", body.Token)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Verdict{
			Valid: true, Username: "alice", Email: "alice@x.com", UserID: 42,
			AccountType: "PATIENT", Roles: []string{"PATIENT"},
			Permissions: []string{"appointment:read"}, ExpiresAt: &exp,
		})
	})

	reg := prometheus.NewRegistry()
	v := NewHTTPValidator(srv.URL+"/", time.Second, zerolog.Nop(), WithMetrics(NewMetrics(reg)))
	got := v.Validate(context.Background(), "tok-123")

	require.True(t, got.Valid)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, int64(42), got.UserID)
	assert.Equal(t, []string{"PATIENT"}, got.Roles)
	assert.Equal(t, []string{"appointment:read"}, got.Permissions)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, exp.Equal(*got.ExpiresAt))
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.Equal(t, float64(1), counterValue(t, reg, OutcomeValid))
}

func TestHTTPValidator_InvalidVerdictPassedThrough(t *testing.T) {
	srv, _ := issuerStub(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Verdict{Valid: false, Reason: "Token has expired"})
	})

	v := NewHTTPValidator(srv.URL, time.Second, zerolog.Nop())
	got := v.Validate(context.Background(), "expired")

	assert.False(t, got.Valid)
	assert.Equal(t, "Token has expired", got.Reason)
	assert.False(t, got.IsUnavailable())
}

func TestHTTPValidator_FailClosed(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"bad gateway", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>oops</html>"))
		}},
		{"valid without username", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"valid":true}`))
		}},
		{"non-2xx carrying a valid body", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"valid":true,"username":"alice"}`))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, calls := issuerStub(t, tc.handler)
			reg := prometheus.NewRegistry()
			v := NewHTTPValidator(srv.URL, time.Second, zerolog.Nop(), WithMetrics(NewMetrics(reg)))

			got := v.Validate(context.Background(), "header.claims.sig")
			assert.False(t, got.Valid)
			assert.Equal(t, UnavailableReason, got.Reason)
			assert.Equal(t, int32(1), atomic.LoadInt32(calls), "no retries")
			assert.Equal(t, float64(1), counterValue(t, reg, OutcomeUnavailable))
		})
	}
}

func TestHTTPValidator_IssuerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	v := NewHTTPValidator(url, time.Second, zerolog.Nop())
	got := v.Validate(context.Background(), "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJhbGljZSJ9.c2ln")

	assert.False(t, got.Valid)
	assert.Equal(t, UnavailableReason, got.Reason)
	assert.NotContains(t, got.Reason, "expired")
}

func TestHTTPValidator_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv, _ := issuerStub(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	v := NewHTTPValidator(srv.URL, 50*time.Millisecond, zerolog.Nop())
	start := time.Now()
	got := v.Validate(context.Background(), "slow")

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, got.IsUnavailable())
}

func TestHTTPValidator_SharedClientUntouched(t *testing.T) {
	srv, calls := issuerStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Verdict{Valid: true, Username: "alice"})
	})

	shared := &http.Client{Timeout: time.Minute}
	v := NewHTTPValidator(srv.URL, 50*time.Millisecond, zerolog.Nop(), WithHTTPClient(shared))

	assert.Equal(t, time.Minute, shared.Timeout)
	assert.NotSame(t, shared, v.httpClient)
	assert.Equal(t, 50*time.Millisecond, v.httpClient.Timeout)

	got := v.Validate(context.Background(), "tok")
	assert.True(t, got.Valid)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestHTTPValidator_CallerCancellation(t *testing.T) {
	srv, _ := issuerStub(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := NewHTTPValidator(srv.URL, time.Second, zerolog.Nop())
	assert.True(t, v.Validate(ctx, "tok").IsUnavailable())
}

func TestHTTPValidator_EmptyTokenSkipsNetwork(t *testing.T) {
	srv, calls := issuerStub(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("issuer must not be called")
	})

	v := NewHTTPValidator(srv.URL, time.Second, zerolog.Nop())
	got := v.Validate(context.Background(), "  ")

	assert.False(t, got.Valid)
	assert.False(t, got.IsUnavailable())
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestUnavailableValidator(t *testing.T) {
	var v Validator = UnavailableValidator{}
	for _, tok := range []string{"", "anything", "a.b.c"} {
		got := v.Validate(context.Background(), tok)
		assert.False(t, got.Valid)
		assert.Equal(t, UnavailableReason, got.Reason)
	}
}

func TestValidatorFunc(t *testing.T) {
	var seen string
	v := ValidatorFunc(func(_ context.Context, tok string) Verdict {
		seen = tok
		return Verdict{Valid: true, Username: "bob"}
	})
	got := v.Validate(context.Background(), "t")
	assert.Equal(t, "t", seen)
	assert.True(t, got.Valid)
}
