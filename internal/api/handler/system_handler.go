package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ngxpulse/pulse-api/internal/core/ports"
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler serves liveness, readiness and auth status probes.
type SystemHandler struct {
	auth ports.AuthService
	deps map[string]Pinger
}

func NewSystemHandler(auth ports.AuthService, deps map[string]Pinger) *SystemHandler {
	return &SystemHandler{auth: auth, deps: deps}
}

// Liveness handles GET /routes/system/health.
func (h *SystemHandler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

// Readiness handles GET /routes/system/ready.
func (h *SystemHandler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	deps := make(map[string]dependencyStatus, len(h.deps))
	healthy := true
	for name, p := range h.deps {
		if err := p.Ping(ctx); err != nil {
			deps[name] = dependencyStatus{Status: "unhealthy", Error: err.Error()}
			healthy = false
			continue
		}
		deps[name] = dependencyStatus{Status: "ok"}
	}

	if !healthy {
		return c.JSON(http.StatusServiceUnavailable, readinessResponse{Status: "degraded", Dependencies: deps})
	}
	return c.JSON(http.StatusOK, readinessResponse{Status: "ok", Dependencies: deps})
}

// WhoAmI handles GET /routes/system/auth-status.
func (h *SystemHandler) WhoAmI(c echo.Context) error {
	user, err := ctxUser(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "authenticated",
		"user_id": user.ID(),
	})
}

type authStatusResponse struct {
	AuthEnabled bool    `json:"auth_enabled"`
	Header      *string `json:"header"`
}

// AuthStatus handles GET /routes/auth/status.
func (h *SystemHandler) AuthStatus(c echo.Context) error {
	resp := authStatusResponse{AuthEnabled: h.auth.Enabled()}
	if resp.AuthEnabled {
		header := h.auth.TokenHeader()
		resp.Header = &header
	}
	return c.JSON(http.StatusOK, resp)
}
