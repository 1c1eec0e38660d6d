package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/repositories"
)

// BuildInfo is the binary metadata stamped on health reports.
type BuildInfo struct {
	Version   string
	CommitSHA string
	StartedAt time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService answers /healthz and /readyz. A zero StartedAt means "now".
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		health: deps.HealthRepository,
		now:    func() time.Time { return clock().UTC() },
		build:  deps.Build,
	}
	svc.build.Version = strings.TrimSpace(svc.build.Version)
	svc.build.CommitSHA = strings.TrimSpace(svc.build.CommitSHA)
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

func (s *systemService) HealthReport(ctx context.Context) (HealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return HealthReport{}, fmt.Errorf("system service: collect health: %w", err)
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if report.Version == "" {
		report.Version = s.build.Version
	}
	if report.CommitSHA == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Dependencies == nil {
		report.Dependencies = map[string]domain.DependencyHealth{}
	}
	if report.Status == "" {
		report.Status = summarize(report.Dependencies)
	}
	return report, nil
}

// summarize is used when the repository left Status empty: any down dependency is down, anything
// else unhealthy is degraded.
func summarize(deps map[string]domain.DependencyHealth) domain.HealthStatus {
	status := domain.HealthOK
	for _, dep := range deps {
		switch dep.Status {
		case domain.HealthDown:
			return domain.HealthDown
		case domain.HealthOK, "":
		default:
			status = domain.HealthDegraded
		}
	}
	return status
}
