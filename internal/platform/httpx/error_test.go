package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tillpoint/api/internal/platform/requestctx"
)

func TestWriteErrorIncludesTraceAndField(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	ctx = requestctx.WithStation(ctx, "lane-3")
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("invalid_request", "quantity must be positive\n", http.StatusUnprocessableEntity).WithField("quantity", "must be >= 1"))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "invalid_request" || body["message"] != "quantity must be positive" {
		t.Fatalf("unexpected envelope: %v", body)
	}
	if body["trace_id"] != "abc123" {
		t.Fatalf("expected trace id, got %v", body["trace_id"])
	}
	if body["station_id"] != "lane-3" {
		t.Fatalf("expected station id, got %v", body["station_id"])
	}
	if body["field"] != "quantity" || body["reason"] != "must be >= 1" {
		t.Fatalf("expected field details, got %v", body)
	}
}

func TestWriteErrorOmitsEmptyIDs(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("not_found", "no route", http.StatusNotFound).WithField("", "ignored"))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	for _, key := range []string{"station_id", "request_id", "trace_id", "field", "reason"} {
		if _, ok := body[key]; ok {
			t.Fatalf("expected %s to be omitted, got %v", key, body)
		}
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	if err := NewError("x", "y", 0); err.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 default, got %d", err.Status)
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 0, map[string]string{"status": "ok"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}
