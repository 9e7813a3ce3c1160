package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings so log queries stay stable.
const (
	// Identity
	FieldTenant     = "tenant"
	FieldResourceID = "resource_id"
	FieldRunID      = "run_id"
	FieldRunType    = "run_type"

	// Components
	FieldComponent = "component"
	FieldSource    = "source"
	FieldAction    = "action"

	// Progress
	FieldIndex = "idx"
	FieldTotal = "total"

	// Classification and outcome
	FieldProcessType = "process_type"
	FieldResultType  = "result_type"
	FieldRetryCount  = "retry_count"
	FieldBanned      = "banned"
	FieldSeverity    = "severity"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldElapsed    = "elapsed"
	FieldModified   = "modified"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount = "count"

	// Files and network
	FieldPath = "path"
	FieldURL  = "url"
)

type contextKey string

const (
	tenantKey contextKey = "logger_tenant"
	runIDKey  contextKey = "logger_run_id"
)

// WithTenant adds a tenant to the context for logging
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

// WithRunID adds a run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if tenant, ok := ctx.Value(tenantKey).(string); ok && tenant != "" {
		fields = append(fields, FieldTenant, tenant)
	}
	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}

	return fields
}

// FromContext decorates base with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	w := watch.New(tenant, src, store, act, cfg,
//	    watch.WithLogger(logger.ComponentLogger("watch")))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
