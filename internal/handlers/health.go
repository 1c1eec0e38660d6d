package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	domain "github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/httpx"
	"github.com/tillpoint/api/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService sets the service consulted by /readyz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock, mainly for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs health handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthzResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	CommitSHA string `json:"commitSha,omitempty"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	writeJSONResponse(w, http.StatusOK, healthzResponse{
		Status:    string(domain.HealthOK),
		Version:   h.build.Version,
		CommitSHA: h.build.CommitSHA,
		Uptime:    now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp: now.Format(time.RFC3339),
	})
}

type dependencyResponse struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type readyzResponse struct {
	Status    string                        `json:"status"`
	Version   string                        `json:"version,omitempty"`
	CommitSHA string                        `json:"commitSha,omitempty"`
	Uptime    string                        `json:"uptime,omitempty"`
	Checks    map[string]dependencyResponse `json:"checks"`
	Details   []string                      `json:"details,omitempty"`
	Timestamp string                        `json:"timestamp"`
}

// Readyz runs the dependency probes. Only a down report fails readiness; a degraded register
// keeps selling without its optional dependencies.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		h.Healthz(w, r)
		return
	}
	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_unavailable", err.Error(), http.StatusServiceUnavailable))
		return
	}

	resp := readyzResponse{
		Status:    string(report.Status),
		Version:   report.Version,
		CommitSHA: report.CommitSHA,
		Checks:    make(map[string]dependencyResponse, len(report.Dependencies)),
		Timestamp: h.clock().UTC().Format(time.RFC3339),
	}
	if report.Uptime > 0 {
		resp.Uptime = report.Uptime.Truncate(time.Second).String()
	}
	names := make([]string, 0, len(report.Dependencies))
	for name := range report.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dep := report.Dependencies[name]
		resp.Checks[name] = dependencyResponse{
			Status:    string(dep.Status),
			Detail:    dep.Detail,
			LatencyMS: dep.Latency.Milliseconds(),
			CheckedAt: formatTime(dep.CheckedAt),
		}
		if dep.Status != domain.HealthOK && dep.Detail != "" {
			resp.Details = append(resp.Details, fmt.Sprintf("%s: %s", name, dep.Detail))
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthDown {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, resp)
}
