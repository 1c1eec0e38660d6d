package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRouterHealthEndpoints(t *testing.T) {
	router := NewRouter()
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rr.Code)
		}
	}
}

func TestRouterNotFoundEnvelope(t *testing.T) {
	rr := doJSON(t, NewRouter(), http.MethodGet, "/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != errorNotFoundCode {
		t.Fatalf("expected route_not_found, got %v", body["error"])
	}
}

func TestRouterStationsNotImplementedWithoutRegistrar(t *testing.T) {
	rr := doJSON(t, NewRouter(), http.MethodGet, "/api/v1/stations/lane-1/checkout", "", nil)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected status 501, got %d", rr.Code)
	}
}

func TestRouterStationMiddlewareSeesStationParam(t *testing.T) {
	var seen string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = chi.URLParam(r, stationParam)
			next.ServeHTTP(w, r)
		})
	}
	router := NewRouter(
		WithStationMiddlewares(mw),
		WithStationRoutes(NewCheckoutHandlers(&stubCheckoutService{}).Routes),
	)
	rr := doJSON(t, router, http.MethodGet, "/api/v1/stations/lane-7/checkout", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if seen != "lane-7" {
		t.Fatalf("expected station lane-7, got %q", seen)
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	router := NewRouter(WithStationRoutes(NewCheckoutHandlers(&stubCheckoutService{}).Routes))
	rr := doJSON(t, router, http.MethodDelete, "/api/v1/stations/lane-1/checkout/tender", "", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}
}
