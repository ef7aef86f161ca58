package domain

import "time"

// ErrorBody is the nested error object of the wire envelope.
type ErrorBody struct {
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	TraceID   string         `json:"trace_id"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// ErrorEnvelope is the canonical error response for every failed request.
type ErrorEnvelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// NewErrorEnvelope stamps an envelope with the given trace ID and time (UTC, ISO-8601).
func NewErrorEnvelope(message, code, traceID string, at time.Time, details map[string]any) ErrorEnvelope {
	return ErrorEnvelope{
		Success: false,
		Error: ErrorBody{
			Message:   message,
			Code:      code,
			TraceID:   traceID,
			Timestamp: at.UTC().Format("2006-01-02T15:04:05.000Z"),
			Details:   details,
		},
	}
}

// ErrorStats is a point-in-time copy of the translator's rolling statistics.
type ErrorStats struct {
	TotalErrors    int             `json:"total_errors"`
	ErrorsByStatus map[string]int  `json:"errors_by_status"`
	LastErrors     []ErrorEnvelope `json:"last_errors"`
}
