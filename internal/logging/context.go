package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (for example "transfer_expired").
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step an operator should take.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldMethod is the RPC method being served.
	FieldMethod = "rpc_method"
	// FieldRequestID correlates every line logged while serving one RPC call.
	FieldRequestID = "request_id"
	// FieldSessionDir is the output directory of a session.
	FieldSessionDir = "session_dir"
	// FieldDescriptor identifies an open remote file transfer.
	FieldDescriptor = "descriptor"
	// FieldLabel is a port label.
	FieldLabel = "label"
)

type contextKey int

const (
	methodKey contextKey = iota
	requestIDKey
)

// WithRequest tags ctx with the RPC method and request identifier being served.
func WithRequest(ctx context.Context, method, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if method != "" {
		ctx = context.WithValue(ctx, methodKey, method)
	}
	if requestID != "" {
		ctx = context.WithValue(ctx, requestIDKey, requestID)
	}
	return ctx
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if method, ok := ctx.Value(methodKey).(string); ok {
		fields = append(fields, slog.String(FieldMethod, method))
	}
	if rid, ok := ctx.Value(requestIDKey).(string); ok {
		fields = append(fields, slog.String(FieldRequestID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(toArgs(fields)...)
}
