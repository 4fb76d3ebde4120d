// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// EventIDKey is the context key for the webhook event's external ID
	EventIDKey contextKey = "event_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id and event_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = newLogger.WithRequestID(requestID)
	}

	if eventID, ok := ctx.Value(EventIDKey).(string); ok && eventID != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("event_id", eventID)),
		}
	}

	return newLogger
}

// WithRequestID returns a logger with request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("request_id", requestID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// WebhookEvent logs a lifecycle transition of a relayed event.
func (l *Logger) WebhookEvent(externalID, eventType, status string) {
	l.Info("webhook_event",
		slog.String("event_id", externalID),
		slog.String("event_type", eventType),
		slog.String("status", status),
	)
}

// DispatchError logs a failed outbound call dispatch.
func (l *Logger) DispatchError(externalID string, err error) {
	l.Error("dispatch_error",
		slog.String("event_id", externalID),
		slog.String("error", err.Error()),
	)
}

// StoreError logs event store errors.
func (l *Logger) StoreError(operation, externalID string, err error) {
	l.Error("store_error",
		slog.String("operation", operation),
		slog.String("event_id", externalID),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
