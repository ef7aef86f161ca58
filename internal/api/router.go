package api

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ngxpulse/pulse-api/internal/api/handler"
	"github.com/ngxpulse/pulse-api/internal/api/middleware"
	"github.com/ngxpulse/pulse-api/internal/core/ports"
	"github.com/ngxpulse/pulse-api/internal/core/service"
)

// Options carries the transport-level settings of the pipeline.
type Options struct {
	ServiceName    string
	Debug          bool
	AllowedOrigins []string
	MaxBodyBytes   int64
	TrustProxy     bool
	OpsRoles       []string
	OpsKeyHash     string
}

// Dependencies are the shared components built once at startup.
type Dependencies struct {
	Log        zerolog.Logger
	Auth       ports.AuthService
	Limiter    ports.RateLimiter
	ErrorStats *service.ErrorStatsService
	Clock      ports.Clock
	Readiness  map[string]handler.Pinger
}

// NewRouter assembles the middleware pipeline and registers all routes.
func NewRouter(deps Dependencies, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	if opts.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	translator := NewErrorTranslator(deps.Log, deps.ErrorStats, deps.Clock, opts.Debug)
	e.HTTPErrorHandler = translator.HandleError

	// --- Pipeline, outermost first ---
	e.Use(echo.WrapMiddleware(otelhttp.NewMiddleware(opts.ServiceName)))
	e.Use(middleware.AccessLog())
	e.Use(translator.Middleware())
	headers := middleware.DefaultHeaderGuardConfig()
	headers.TrustProxy = opts.TrustProxy
	e.Use(middleware.HeaderGuard(headers))
	e.Use(middleware.PayloadGuard(opts.MaxBodyBytes))
	e.Use(middleware.CORSGuard(middleware.DefaultCORSConfig(opts.AllowedOrigins), deps.Log))
	e.Use(middleware.BlockGuard(deps.Limiter, deps.Clock))
	e.Use(middleware.Identify(deps.Auth))
	e.Use(middleware.RateLimit(deps.Limiter, deps.Clock))

	requireUser := middleware.Auth(deps.Auth)
	opsOnly := []echo.MiddlewareFunc{requireUser, middleware.RBAC(opts.OpsRoles...)}

	system := handler.NewSystemHandler(deps.Auth, deps.Readiness)
	ops := handler.NewOpsHandler(deps.ErrorStats, deps.Limiter)
	live := handler.NewLiveHandler(deps.Auth, opts.AllowedOrigins)

	routes := e.Group("/routes")

	// --- Probes (no auth) ---
	routes.GET("/system/health", system.Liveness)
	routes.GET("/system/ready", system.Readiness)
	routes.GET("/auth/status", system.AuthStatus)

	// --- Authenticated ---
	routes.GET("/system/auth-status", system.WhoAmI, requireUser)
	routes.GET("/ws/live", live.Live)

	// --- Operators ---
	routes.GET("/ops/errors", ops.ErrorStats, opsOnly...)
	routes.POST("/ops/errors/reset", ops.ResetErrorStats, opsOnly...)
	routes.GET("/ops/ratelimit", ops.RateLimitStats, opsOnly...)
	routes.POST("/ops/ratelimit/reset", ops.ResetRateLimitStats, opsOnly...)
	routes.POST("/ops/ratelimit/unblock", ops.Unblock, opsOnly...)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.OpsKey(opts.OpsKeyHash))

	return e
}
