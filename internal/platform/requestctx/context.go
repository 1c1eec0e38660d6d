// Package requestctx carries per-request values (logger, trace ids, station) across package
// boundaries without import cycles between httpx, observability and the services.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey  struct{}
	traceKey   struct{}
	stationKey struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo is the server span's identity as seen by logs and error envelopes.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// WithLogger stores logger; nil stores the shared no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(orBackground(ctx), loggerKey{}, logger)
}

// Logger returns the request logger, or NoopLogger when none was stored.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := orBackground(ctx).Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger lets callers detect that no request logger was stored.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(orBackground(ctx), traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	info, ok := orBackground(ctx).Value(traceKey{}).(TraceInfo)
	return info, ok
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithStation records the register the request acts on.
func WithStation(ctx context.Context, stationID string) context.Context {
	return context.WithValue(orBackground(ctx), stationKey{}, stationID)
}

func Station(ctx context.Context) string {
	station, _ := orBackground(ctx).Value(stationKey{}).(string)
	return station
}
