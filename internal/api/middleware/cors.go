package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type CORSConfig struct {
	// AllowedOrigins holds exact origins or prefixes ending in "*".
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int // seconds
}

func DefaultCORSConfig(origins []string) CORSConfig {
	return CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodDelete, http.MethodOptions, http.MethodPatch,
		},
		AllowedHeaders: []string{
			"Accept", "Accept-Language", "Content-Language", "Content-Type",
			"Authorization", "X-Requested-With", HeaderTraceID,
		},
		ExposeHeaders:    []string{HeaderTraceID, HeaderRateLimitRemaining, HeaderRateLimitReset},
		AllowCredentials: true,
		MaxAge:           86400,
	}
}

// CORSGuard answers preflights itself and adds CORS headers only for allowed
// origins. Disallowed origins get no CORS headers at all.
func CORSGuard(cfg CORSConfig, log zerolog.Logger) echo.MiddlewareFunc {
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			log.Warn().Msg("wildcard CORS origin configured")
		}
	}

	allowedHeaders := make(map[string]struct{}, len(cfg.AllowedHeaders))
	for _, h := range cfg.AllowedHeaders {
		allowedHeaders[strings.ToLower(h)] = struct{}{}
	}
	methods := strings.Join(cfg.AllowedMethods, ", ")
	expose := strings.Join(cfg.ExposeHeaders, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			origin := req.Header.Get(echo.HeaderOrigin)
			allowed := OriginAllowed(cfg.AllowedOrigins, origin)

			h := c.Response().Header()
			h.Add(echo.HeaderVary, echo.HeaderOrigin)
			if allowed {
				h.Set(echo.HeaderAccessControlAllowOrigin, origin)
				if cfg.AllowCredentials {
					h.Set(echo.HeaderAccessControlAllowCredentials, "true")
				}
				if expose != "" {
					h.Set(echo.HeaderAccessControlExposeHeaders, expose)
				}
			}

			if req.Method != http.MethodOptions {
				return next(c)
			}

			if allowed {
				if m := req.Header.Get(echo.HeaderAccessControlRequestMethod); containsFold(cfg.AllowedMethods, m) {
					h.Set(echo.HeaderAccessControlAllowMethods, methods)
				}
				if rh := req.Header.Get(echo.HeaderAccessControlRequestHeaders); rh != "" {
					var ok []string
					for _, name := range strings.Split(rh, ",") {
						name = strings.TrimSpace(name)
						if _, found := allowedHeaders[strings.ToLower(name)]; found {
							ok = append(ok, name)
						}
					}
					if len(ok) > 0 {
						h.Set(echo.HeaderAccessControlAllowHeaders, strings.Join(ok, ", "))
					}
				}
				h.Set(echo.HeaderAccessControlMaxAge, strconv.Itoa(cfg.MaxAge))
			}
			return c.NoContent(http.StatusNoContent)
		}
	}
}

// OriginAllowed matches origin exactly or against a trailing-"*" prefix.
func OriginAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		switch {
		case a == "*":
			return true
		case a == origin:
			return true
		case strings.HasSuffix(a, "*") && strings.HasPrefix(origin, strings.TrimSuffix(a, "*")):
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
