package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tillpoint/api/internal/platform/requestctx"
)

func TestTraceMiddlewareContinuesTraceparent(t *testing.T) {
	const parent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	var got requestctx.TraceInfo
	handler := TraceMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stations/lane-1/checkout", nil)
	req.Header.Set("traceparent", parent)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected inbound trace id to be kept, got %q", got.TraceID)
	}
	if !strings.Contains(rec.Header().Get("traceparent"), got.TraceID) {
		t.Fatalf("expected traceparent echoed on response, got %q", rec.Header().Get("traceparent"))
	}
}

func TestRequestLoggerAddsStation(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	var station string
	handler := InjectLoggerMiddleware(logger)(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		station = requestctx.Station(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stations/lane-7/checkout/items", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if station != "lane-7" {
		t.Fatalf("expected station on context, got %q", station)
	}
	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["station_id"] != "lane-7" {
		t.Fatalf("expected station_id field, got %v", fields["station_id"])
	}
	if fields["status"] != int64(http.StatusAccepted) {
		t.Fatalf("unexpected status field: %v", fields["status"])
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_server_error") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := EventLogger(zap.New(core))

	log(context.Background(), "checkout_tender_completed", map[string]any{"amount": "21.60"})
	log(context.Background(), "promotion_lookup_failed", map[string]any{"error": errors.New("timeout")})

	all := logs.All()
	if len(all) != 2 {
		t.Fatalf("expected two entries, got %d", len(all))
	}
	if all[0].Level != zap.InfoLevel || all[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels: %v %v", all[0].Level, all[1].Level)
	}
	if all[1].ContextMap()["error"] != "timeout" {
		t.Fatalf("expected error field, got %v", all[1].ContextMap())
	}
}

func TestCheckoutMetricsToleratesNoop(t *testing.T) {
	m := NewCheckoutMetrics(WithMeter(noop.NewMeterProvider().Meter("test")))
	ctx := context.Background()
	m.PricingRecalculated(ctx, "lane-1")
	m.PromotionDropped(ctx, "lane-1", "stale")
	m.PromotionLookup(ctx, 20*time.Millisecond, true)
	m.TenderCompleted(ctx, "CASH", 21.60)
	m.ShiftClosed(ctx, "lane-1", -5)

	var nilMetrics *CheckoutMetrics
	nilMetrics.PricingRecalculated(ctx, "lane-1")
}

func TestSanitizeStation(t *testing.T) {
	if got := SanitizeStation("lane\x00-1"); got != "lane-1" {
		t.Fatalf("expected control characters removed, got %q", got)
	}
	if got := SanitizeStation(strings.Repeat("a", 100)); len(got) != 64 {
		t.Fatalf("expected truncation to 64, got %d", len(got))
	}
}

func TestStationFromPath(t *testing.T) {
	cases := map[string]string{
		"/api/v1/stations/lane-2/checkout/tender": "lane-2",
		"/api/v1/stations/lane-9":                 "lane-9",
		"/healthz":                                "",
		"/api/v1/stations/":                       "",
	}
	for path, want := range cases {
		if got := stationFromPath(path); got != want {
			t.Fatalf("stationFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestRequestLoggerFlagsReplays(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Idempotent-Replay", "true")
		w.WriteHeader(http.StatusCreated)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/stations/lane-1/checkout/tender", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 || entries[0].ContextMap()["replayed"] != true {
		t.Fatalf("expected replayed flag on completion entry, got %v", entries)
	}
}

func TestNewLoggerLevelFallback(t *testing.T) {
	out := filepath.Join(t.TempDir(), "log.json")

	logger, err := newLogger("warn", out)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Fatal("expected info to be disabled at warn")
	}

	logger, err = newLogger("chatty", out)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if !logger.Core().Enabled(zap.InfoLevel) || logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected unknown level to fall back to info")
	}
}
