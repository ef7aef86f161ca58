package api

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ngxpulse/pulse-api/internal/api/metrics"
	"github.com/ngxpulse/pulse-api/internal/api/middleware"
	"github.com/ngxpulse/pulse-api/internal/core/domain"
	"github.com/ngxpulse/pulse-api/internal/core/ports"
	"github.com/ngxpulse/pulse-api/internal/core/service"
)

// GenericErrorMessage is the only message an unexpected failure ever shows a client.
const GenericErrorMessage = "Internal server error. The technical team has been notified."

// ErrorTranslator assigns trace IDs and renders every failure as the error envelope.
// It runs as the outermost middleware and as echo's HTTPErrorHandler.
type ErrorTranslator struct {
	log   zerolog.Logger
	stats *service.ErrorStatsService
	clock ports.Clock
	debug bool
}

func NewErrorTranslator(log zerolog.Logger, stats *service.ErrorStatsService, clock ports.Clock, debug bool) *ErrorTranslator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &ErrorTranslator{log: log, stats: stats, clock: clock, debug: debug}
}

// maxTraceIDLength bounds a caller-supplied trace ID; longer ones are replaced.
const maxTraceIDLength = 128

// NewTraceID returns trace_<unix seconds>_<8 hex chars>.
func NewTraceID(now time.Time) string {
	return fmt.Sprintf("trace_%d_%s", now.Unix(), uuid.NewString()[:8])
}

func (t *ErrorTranslator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (returned error) {
			req := c.Request()

			traceID := req.Header.Get(middleware.HeaderTraceID)
			if traceID == "" || len(traceID) > maxTraceIDLength {
				traceID = NewTraceID(t.clock.Now())
			}
			c.Set(middleware.ContextKeyTraceID, traceID)
			c.Response().Header().Set(middleware.HeaderTraceID, traceID)

			ctx := req.Context()
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("app.trace_id", traceID))
			reqLog := t.log.With().Str("trace_id", traceID).Logger()
			c.SetRequest(req.WithContext(reqLog.WithContext(ctx)))

			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("%v", r)
				}
				t.render(c, &panicError{err: err, stack: debug.Stack()})
				returned = nil
			}()

			if err := next(c); err != nil {
				t.render(c, err)
			}
			return nil
		}
	}
}

// HandleError is installed as echo's HTTPErrorHandler for errors that bypass Middleware.
func (t *ErrorTranslator) HandleError(err error, c echo.Context) {
	if middleware.TraceID(c) == "" {
		traceID := NewTraceID(t.clock.Now())
		c.Set(middleware.ContextKeyTraceID, traceID)
		c.Response().Header().Set(middleware.HeaderTraceID, traceID)
	}
	t.render(c, err)
}

type panicError struct {
	err   error
	stack []byte
}

func (p *panicError) Error() string { return "panic: " + p.err.Error() }
func (p *panicError) Unwrap() error { return p.err }

// failure is an error resolved to its wire representation.
type failure struct {
	status   int
	code     string
	message  string
	headers  map[string]string
	details  map[string]any
	expected bool
}

func (t *ErrorTranslator) resolve(err error) failure {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return failure{
			status:   appErr.Status,
			code:     appErr.Code,
			message:  appErr.Message,
			headers:  appErr.Headers,
			details:  appErr.Details,
			expected: true,
		}
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return t.resolve(domain.ErrPayloadTooLarge)
	}

	var he *echo.HTTPError
	if errors.As(err, &he) && !errors.As(err, new(*panicError)) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return failure{status: he.Code, code: httpErrorCode(he.Code), message: msg, expected: true}
	}

	return failure{status: http.StatusInternalServerError, code: domain.CodeInternal, message: GenericErrorMessage}
}

func httpErrorCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return domain.CodeUnauthenticated
	case http.StatusForbidden:
		return domain.CodeForbidden
	case http.StatusRequestEntityTooLarge:
		return domain.CodePayloadTooLarge
	case http.StatusTooManyRequests:
		return domain.CodeRateLimitExceeded
	}
	return "ERR_" + strconv.Itoa(status)
}

func (t *ErrorTranslator) render(c echo.Context, err error) {
	req := c.Request()
	log := zerolog.Ctx(req.Context())
	if log.GetLevel() == zerolog.Disabled {
		log = &t.log
	}

	f := t.resolve(err)
	traceID := middleware.TraceID(c)

	if !f.expected {
		ev := log.Error().
			Err(err).
			Str("error_type", fmt.Sprintf("%T", unwrapPanic(err))).
			Str("method", req.Method).
			Str("path", req.URL.Path)
		var pe *panicError
		if errors.As(err, &pe) {
			ev = ev.Bytes("stack", pe.stack)
		}
		ev.Msg("unexpected error")

		if t.debug {
			f.details = debugDetails(err)
		}
	} else {
		logAtStatus(log, f.status).
			Err(err).
			Int("status", f.status).
			Str("code", f.code).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("ip", c.RealIP()).
			Str("user_agent", req.UserAgent()).
			Func(func(e *zerolog.Event) {
				if u := middleware.CurrentUser(c); u != nil {
					e.Str("user_id", u.ID())
				}
			}).
			Msg("request error")
	}

	env := domain.NewErrorEnvelope(f.message, f.code, traceID, t.clock.Now(), f.details)
	if t.stats != nil {
		t.stats.Record(f.status, env)
	}
	metrics.ErrorsTotal.WithLabelValues(strconv.Itoa(f.status), f.code).Inc()

	if c.Response().Committed {
		log.Warn().Int("status", f.status).Msg("response already committed, error not rendered")
		return
	}

	for k, v := range f.headers {
		c.Response().Header().Set(k, v)
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(f.status)
		return
	}
	if werr := c.JSON(f.status, env); werr != nil {
		log.Error().Err(werr).Msg("write error envelope")
	}
}

func logAtStatus(log *zerolog.Logger, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return log.Error()
	case status >= 400:
		return log.Warn()
	default:
		return log.Info()
	}
}

func unwrapPanic(err error) error {
	var pe *panicError
	if errors.As(err, &pe) {
		return pe.err
	}
	return err
}

func debugDetails(err error) map[string]any {
	cause := unwrapPanic(err)
	details := map[string]any{
		"exception_type":    fmt.Sprintf("%T", cause),
		"exception_message": cause.Error(),
	}
	var pe *panicError
	if errors.As(err, &pe) {
		details["traceback"] = strings.Split(strings.TrimSpace(string(pe.stack)), "\n")
	}
	return details
}
