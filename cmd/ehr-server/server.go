package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/EugeneTereschenko/user-analytics-sub001/internal/config"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/domain/account"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/domain/session"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/auth"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/authclient"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/middleware"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/telemetry"
)

// newEcho builds an echo instance with the middleware both services share.
// validator resolves bearer tokens into security contexts.
func newEcho(cfg *config.Config, logger zerolog.Logger, tp *telemetry.TelemetryProvider, validator authclient.Validator) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = echo.ExtractIPDirect()
	if cfg.TrustProxyHeaders {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	}

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(tp.MetricsMiddleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{HSTS: cfg.IsProduction()}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(middleware.DefaultBodyLimit))
	e.Use(auth.Authenticator(auth.AuthenticatorConfig{
		Validator: validator,
		Logger:    logger,
		Skipper:   auth.AuthSkipper,
	}))
	e.Use(middleware.Audit(logger, nil))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", tp.PrometheusHandler())
	return e
}

// newAuthServer wires the issuer. It validates its own tokens in-process.
func newAuthServer(cfg *config.Config, logger zerolog.Logger, tp *telemetry.TelemetryProvider, svc *account.Service, dbHealth echo.HandlerFunc) *echo.Echo {
	e := newEcho(cfg, logger, tp, authclient.ValidatorFunc(svc.Validate))
	if dbHealth != nil {
		e.GET("/health/db", dbHealth)
	}

	limit := middleware.DefaultRateLimitConfig()
	if cfg.LoginRateLimitRPS > 0 {
		limit.RequestsPerSecond = cfg.LoginRateLimitRPS
	}
	if cfg.LoginRateLimitBurst > 0 {
		limit.BurstSize = cfg.LoginRateLimitBurst
	}
	account.NewHandler(svc, logger).RegisterRoutes(e.Group("/api/auth"), middleware.RateLimit(limit))
	return e
}

// newResourceServer wires a downstream service around validator.
func newResourceServer(cfg *config.Config, logger zerolog.Logger, tp *telemetry.TelemetryProvider, validator authclient.Validator, notifier session.Notifier) *echo.Echo {
	e := newEcho(cfg, logger, tp, validator)
	session.NewHandler(notifier, logger).RegisterRoutes(e)
	return e
}

// newValidator picks the resource service's validator from AUTH_VALIDATOR
// and wraps it in the verdict cache when AUTH_VALIDATION_CACHE_TTL is set.
func newValidator(cfg *config.Config, logger zerolog.Logger, tp *telemetry.TelemetryProvider) authclient.Validator {
	metrics := authclient.NewMetrics(tp.Registry())

	var v authclient.Validator
	switch cfg.AuthValidator {
	case config.ValidatorUnavailable:
		logger.Warn().Msg("AUTH_VALIDATOR=unavailable; every authenticated request will be rejected")
		v = authclient.UnavailableValidator{}
	default:
		v = authclient.NewHTTPValidator(cfg.AuthServiceURL, cfg.AuthValidateTimeout, logger, authclient.WithMetrics(metrics))
	}

	if cfg.AuthValidationCacheTTL > 0 {
		logger.Info().Dur("ttl", cfg.AuthValidationCacheTTL).Msg("validation cache enabled")
		v = authclient.NewCachingValidator(v, cfg.AuthValidationCacheTTL, authclient.WithCacheMetrics(metrics))
	}
	return v
}
