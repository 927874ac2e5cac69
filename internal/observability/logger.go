package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "notifier"

// NewLogger builds a JSON logger, or a human-readable one when format is "console".
func NewLogger(level string, format string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
	case "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q (want json or console)", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.InitialFields = map[string]any{"service": serviceName}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		return zapcore.InfoLevel, nil
	}

	var parsed zapcore.Level
	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return parsed, nil
}

type requestScopeKey struct{}

// requestScope holds the ids a request or queue message carries through
// the services. Each With* call copies it so parent contexts stay intact.
type requestScope struct {
	correlationID string
	merchantID    string
}

func scopeFrom(ctx context.Context) requestScope {
	if ctx == nil {
		return requestScope{}
	}
	scope, _ := ctx.Value(requestScopeKey{}).(requestScope)
	return scope
}

func withScope(ctx context.Context, update func(*requestScope)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	scope := scopeFrom(ctx)
	update(&scope)
	return context.WithValue(ctx, requestScopeKey{}, scope)
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withScope(ctx, func(s *requestScope) { s.correlationID = correlationID })
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id := scopeFrom(ctx).correlationID
	return id, id != ""
}

// WithMerchantID tags ctx with the merchant the work is done for.
func WithMerchantID(ctx context.Context, merchantID string) context.Context {
	return withScope(ctx, func(s *requestScope) { s.merchantID = merchantID })
}

func MerchantIDFromContext(ctx context.Context) (string, bool) {
	id := scopeFrom(ctx).merchantID
	return id, id != ""
}

// WithContextLogger adds the correlation and merchant ids found in ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	scope := scopeFrom(ctx)
	fields := make([]zap.Field, 0, 2)
	if scope.correlationID != "" {
		fields = append(fields, zap.String("correlationId", scope.correlationID))
	}
	if scope.merchantID != "" {
		fields = append(fields, zap.String("merchantId", scope.merchantID))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
