package logging

import (
	"context"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	runIDKey  contextKey = "run_id"
)

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithRunContext binds a run ID to the context and returns a logger
// carrying it. Every pipeline execution gets its own run context.
func WithRunContext(ctx context.Context, runID string) (context.Context, *Logger) {
	l := FromContext(ctx).WithRunID(runID)
	newCtx := context.WithValue(ctx, runIDKey, runID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// RunIDFromContext extracts the run ID, or "" if unset
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// StageLogger returns a logger scoped to one pipeline stage
func StageLogger(ctx context.Context, stage string) *Logger {
	return FromContext(ctx).WithComponent("pipeline").WithField("stage", stage)
}

// ProviderContext creates a logger context for market data provider calls
func ProviderContext(provider, symbol, interval string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"provider": provider,
		"symbol":   symbol,
		"interval": interval,
	}).WithComponent("marketdata")
}
