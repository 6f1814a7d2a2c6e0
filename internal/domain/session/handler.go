// Package session is the resource-side surface that consumes issuer
// verdicts: it exposes the caller's security context and a couple of
// role and permission guarded operations.
package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/EugeneTereschenko/user-analytics-sub001/internal/domain/account"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/auth"
	"github.com/EugeneTereschenko/user-analytics-sub001/internal/platform/middleware"
)

const basePath = "/api/session"

// Rules is the static requirement table for the session routes.
var Rules = auth.RouteRules{
	"GET " + basePath:                       {},
	"GET " + basePath + "/permissions/:name": {},
	"GET " + basePath + "/admin":             {AnyRole: []string{account.RoleAdmin}},
	"POST " + basePath + "/notify":           {Permission: account.PermNotificationSend},
}

// View is the JSON rendering of a security context.
type View struct {
	UserID      int64      `json:"userId"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	AccountType string     `json:"accountType,omitempty"`
	Roles       []string   `json:"roles"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func viewOf(sc *auth.SecurityContext) View {
	return View{
		UserID:      sc.UserID,
		Username:    sc.Username,
		Email:       sc.Email,
		AccountType: sc.AccountType,
		Roles:       sc.Roles(),
		Permissions: sc.Permissions(),
		ExpiresAt:   sc.ExpiresAt,
	}
}

type NotifyRequest struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type Handler struct {
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewHandler(notifier Notifier, logger zerolog.Logger) *Handler {
	return &Handler{notifier: notifier, logger: logger, now: time.Now}
}

// RegisterRoutes mounts the session endpoints on e behind Guard(Rules).
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group(basePath, auth.Guard(Rules))
	g.GET("", h.Current)
	g.GET("/permissions/:name", h.CheckPermission)
	g.GET("/admin", h.Admin)
	g.POST("/notify", h.Notify)
}

func (h *Handler) Current(c echo.Context) error {
	return c.JSON(http.StatusOK, viewOf(auth.FromEcho(c)))
}

func (h *Handler) CheckPermission(c echo.Context) error {
	name := c.Param("name")
	if err := auth.RequirePermission(auth.FromEcho(c), name); err != nil {
		return auth.HTTPError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"permission": name, "granted": true})
}

func (h *Handler) Admin(c echo.Context) error {
	sc := auth.FromEcho(c)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":  "administrative access granted",
		"username": sc.Username,
	})
}

func (h *Handler) Notify(c echo.Context) error {
	sc := auth.FromEcho(c)

	var req NotifyRequest
	if err := c.Bind(&req); err != nil {
		return middleware.BindError(err)
	}
	req.Recipient = strings.TrimSpace(req.Recipient)
	if req.Recipient == "" || strings.TrimSpace(req.Body) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "recipient and body are required")
	}

	n := &Notification{
		ID:        uuid.New(),
		Sender:    sc.Username,
		SenderID:  sc.UserID,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Body:      req.Body,
		CreatedAt: h.now().UTC(),
	}
	if err := h.notifier.Notify(c.Request().Context(), n); err != nil {
		h.logger.Error().Err(err).Str("notification_id", n.ID.String()).Msg("notify failed")
		return echo.NewHTTPError(http.StatusBadGateway, "notification could not be delivered")
	}
	return c.JSON(http.StatusAccepted, n)
}
