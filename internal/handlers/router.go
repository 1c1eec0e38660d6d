package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tillpoint/api/internal/platform/httpx"
)

const (
	apiPrefix         = "/api/v1"
	requestTimeout    = 30 * time.Second
	errorNotFoundCode = "route_not_found"
)

// RouteRegistrar mounts handlers on the /api/v1/stations/{stationId} group.
type RouteRegistrar func(r chi.Router)

type Middleware = func(http.Handler) http.Handler

type routerConfig struct {
	global  []Middleware
	station []Middleware
	routes  []RouteRegistrar
	health  *HealthHandlers
}

type Option func(*routerConfig)

// WithMiddlewares runs mw on every request, after request id, real ip and timeout.
func WithMiddlewares(mw ...Middleware) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

// WithStationMiddlewares runs mw inside the station group, where chi.URLParam(r, "stationId") is set.
func WithStationMiddlewares(mw ...Middleware) Option {
	return func(cfg *routerConfig) { cfg.station = append(cfg.station, mw...) }
}

func WithStationRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.routes = append(cfg.routes, reg) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// NewRouter serves /healthz, /readyz and the register API. Unknown routes and methods get the JSON
// error envelope; a station group with no registrars answers 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		global: []Middleware{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	use(r, cfg.global)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix+"/stations/{"+stationParam+"}", func(station chi.Router) {
		use(station, cfg.station)
		mounted := 0
		for _, reg := range cfg.routes {
			if reg != nil {
				reg(station)
				mounted++
			}
		}
		if mounted == 0 {
			station.HandleFunc("/*", notImplemented)
		}
	})
	return r
}

func use(r chi.Router, mws []Middleware) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func notImplemented(w http.ResponseWriter, req *http.Request) {
	httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", "station routes are not configured", http.StatusNotImplemented))
}
