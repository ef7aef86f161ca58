package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ngxpulse/pulse-api/internal/core/domain"
	"github.com/ngxpulse/pulse-api/internal/core/ports"
)

// ErrorStats is the read/reset view of the error translator's statistics.
type ErrorStats interface {
	Snapshot() domain.ErrorStats
	Reset()
}

// OpsHandler exposes pipeline statistics to operators.
type OpsHandler struct {
	errors  ErrorStats
	limiter ports.RateLimiter
}

func NewOpsHandler(errs ErrorStats, limiter ports.RateLimiter) *OpsHandler {
	return &OpsHandler{errors: errs, limiter: limiter}
}

func (h *OpsHandler) ErrorStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.errors.Snapshot())
}

func (h *OpsHandler) ResetErrorStats(c echo.Context) error {
	h.errors.Reset()
	zerolog.Ctx(c.Request().Context()).Info().Msg("error statistics reset")
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}

func (h *OpsHandler) RateLimitStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.limiter.Stats(c.Request().Context()))
}

func (h *OpsHandler) ResetRateLimitStats(c echo.Context) error {
	h.limiter.ResetStats()
	zerolog.Ctx(c.Request().Context()).Info().Msg("rate limit statistics reset")
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}

type unblockRequest struct {
	IP string `json:"ip" validate:"required,ip"`
}

// Unblock handles POST /routes/ops/ratelimit/unblock.
func (h *OpsHandler) Unblock(c echo.Context) error {
	var req unblockRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ip":        req.IP,
		"unblocked": h.limiter.Unblock(req.IP),
	})
}
