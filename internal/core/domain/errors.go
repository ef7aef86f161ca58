package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error codes carried in the envelope.
const (
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeInvalidToken      = "INVALID_TOKEN"
	CodeForbidden         = "FORBIDDEN"
	CodeConfigMissing     = "AUTH_CONFIG_MISSING"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeValidation        = "VALIDATION_ERROR"
	CodeInternal          = "INTERNAL_SERVER_ERROR"
)

// AppError is a known failure with an explicit HTTP status. The error
// translator renders it 1:1; everything else is treated as unexpected.
type AppError struct {
	Status  int
	Code    string
	Message string
	Headers map[string]string
	Details map[string]any
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Is matches on code so that decorated copies still satisfy errors.Is against
// the sentinel values below.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Status == t.Status
}

var (
	ErrUnauthenticated = &AppError{Status: http.StatusUnauthorized, Code: CodeUnauthenticated, Message: "Not authenticated"}
	ErrInvalidToken    = &AppError{Status: http.StatusUnauthorized, Code: CodeInvalidToken, Message: "Not authenticated"}
	ErrForbidden       = &AppError{Status: http.StatusForbidden, Code: CodeForbidden, Message: "Token payload missing subject"}
	ErrConfigMissing   = &AppError{Status: http.StatusInternalServerError, Code: CodeConfigMissing, Message: "Auth configuration missing"}
	ErrPayloadTooLarge = &AppError{Status: http.StatusRequestEntityTooLarge, Code: CodePayloadTooLarge, Message: "Request body too large"}
	ErrRateLimited     = &AppError{Status: http.StatusTooManyRequests, Code: CodeRateLimitExceeded, Message: "Rate limit exceeded"}
)

// ErrMissingSubject is returned by claim mapping when a verified token has no sub.
var ErrMissingSubject = errors.New("token payload missing subject")

// NewRateLimitError builds the 429 error for a rejected request. retryAfter is
// rounded up to whole seconds and never below one.
func NewRateLimitError(message string, retryAfter time.Duration, limit int, now time.Time) *AppError {
	secs := int((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	headers := map[string]string{
		"Retry-After":           strconv.Itoa(secs),
		"X-RateLimit-Remaining": "0",
		"X-RateLimit-Reset":     strconv.FormatInt(now.Add(time.Duration(secs)*time.Second).Unix(), 10),
	}
	// An IP block has no per-rule limit to report.
	if limit > 0 {
		headers["X-RateLimit-Limit"] = strconv.Itoa(limit)
	}
	return &AppError{
		Status:  http.StatusTooManyRequests,
		Code:    CodeRateLimitExceeded,
		Message: message,
		Headers: headers,
		Details: map[string]any{"retry_after": secs},
	}
}
