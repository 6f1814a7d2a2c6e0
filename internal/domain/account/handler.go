package account

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/auth"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/authclient"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/middleware"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the issuer endpoints on g (normally /api/auth).
// limit guards the credential-accepting endpoints and may be nil.
func (h *Handler) RegisterRoutes(g *echo.Group, limit echo.MiddlewareFunc) {
	credential := []echo.MiddlewareFunc{}
	if limit != nil {
		credential = append(credential, limit)
	}
	g.POST("/register", h.Register, credential...)
	g.POST("/login", h.Login, credential...)
	g.POST("/refresh", h.Refresh, credential...)

	g.POST("/validate", h.Validate)
	g.POST("/validate-header", h.ValidateHeader)

	g.GET("/me", h.Me)

	admin := g.Group("/users", auth.RequireRole(RoleAdmin))
	admin.POST("/:id/lock", h.Lock)
	admin.POST("/:id/unlock", h.Unlock)
	admin.POST("/:id/activate", h.Activate)
	admin.POST("/:id/deactivate", h.Deactivate)
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return middleware.BindError(err)
	}

	p, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return h.errorResponse(c, err)
	}
	pair, err := h.svc.IssueTokenPair(p)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, AuthResponse{TokenPair: *pair, User: p.Summary()})
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return middleware.BindError(err)
	}

	p, err := h.svc.Authenticate(c.Request().Context(), req.LoginIdentifier(), req.Password)
	if err != nil {
		return h.errorResponse(c, err)
	}
	pair, err := h.svc.IssueTokenPair(p)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, AuthResponse{TokenPair: *pair, User: p.Summary()})
}

func (h *Handler) Refresh(c echo.Context) error {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.Bind(&req); err != nil {
		return middleware.BindError(err)
	}

	pair, p, err := h.svc.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, AuthResponse{TokenPair: *pair, User: p.Summary()})
}

// Validate always answers 200; validity travels in the body.
func (h *Handler) Validate(c echo.Context) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusOK, authclient.Invalid("Missing token"))
	}
	return c.JSON(http.StatusOK, h.svc.Validate(c.Request().Context(), req.Token))
}

func (h *Handler) ValidateHeader(c echo.Context) error {
	tok, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if !ok {
		return c.JSON(http.StatusOK, authclient.Invalid("Missing or malformed Authorization header"))
	}
	return c.JSON(http.StatusOK, h.svc.Validate(c.Request().Context(), tok))
}

func (h *Handler) Me(c echo.Context) error {
	sc := auth.FromEcho(c)
	if err := auth.RequireAuthenticated(sc); err != nil {
		return auth.HTTPError(c, err)
	}
	p, err := h.svc.Me(c.Request().Context(), sc.UserID)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, p.Summary())
}

func (h *Handler) Lock(c echo.Context) error       { return h.adminAction(c, h.svc.Lock) }
func (h *Handler) Unlock(c echo.Context) error     { return h.adminAction(c, h.svc.Unlock) }
func (h *Handler) Activate(c echo.Context) error   { return h.adminAction(c, h.svc.Activate) }
func (h *Handler) Deactivate(c echo.Context) error { return h.adminAction(c, h.svc.Deactivate) }

func (h *Handler) adminAction(c echo.Context, fn func(ctx context.Context, id int64) (*Principal, error)) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := fn(c.Request().Context(), id)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, p.Summary())
}

func (h *Handler) errorResponse(c echo.Context, err error) error {
	var domainErr *Error
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"code":    "ValidationFailed",
			"message": "validation failed",
			"errors":  verr.Problems,
		})
	case errors.Is(err, ErrDuplicateUsername), errors.Is(err, ErrDuplicateEmail):
		errors.As(err, &domainErr)
		return echo.NewHTTPError(http.StatusConflict, codeBody(domainErr))
	case errors.As(err, &domainErr):
		return echo.NewHTTPError(http.StatusUnauthorized, codeBody(domainErr))
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "account not found")
	default:
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("auth request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func codeBody(e *Error) map[string]string {
	return map[string]string{"code": e.Code, "message": e.Message}
}
