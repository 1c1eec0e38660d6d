package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/tillpoint/api/internal/domain"
)

// DependencyCheck is one readiness probe. A failing Optional probe (promotions, report bucket)
// leaves the register able to sell, so it marks the report degraded rather than down.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Optional bool
	Check    func(context.Context) error
}

type DependencyHealthOption func(*dependencyHealthRepository)

// WithDependencyTimeout sets the timeout for checks that do not carry their own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.defaultTimeout = timeout
		}
	}
}

func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

type probeResult struct {
	name   string
	health domain.DependencyHealth
}

// NewDependencyHealthRepository returns a HealthRepository that runs checks concurrently on each
// Collect.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	seen := make(map[string]struct{}, len(checks))
	for _, check := range checks {
		name := strings.TrimSpace(check.Name)
		switch {
		case name == "":
			return nil, errors.New("health repository: dependency check missing name")
		case check.Check == nil:
			return nil, fmt.Errorf("health repository: dependency %s missing check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: dependency %s registered twice", name)
		}
		seen[name] = struct{}{}
	}

	repo := &dependencyHealthRepository{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: 1500 * time.Millisecond,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	if ctx == nil {
		return domain.HealthReport{}, errors.New("health repository: context is required")
	}

	results := make(chan probeResult, len(r.checks))
	for _, check := range r.checks {
		go func(check DependencyCheck) {
			results <- probeResult{name: check.Name, health: r.probe(ctx, check)}
		}(check)
	}

	report := domain.HealthReport{
		Status:       domain.HealthOK,
		Dependencies: make(map[string]domain.DependencyHealth, len(r.checks)),
	}
	for range r.checks {
		res := <-results
		report.Dependencies[res.name] = res.health
		report.Status = worse(report.Status, res.health.Status)
	}
	report.GeneratedAt = r.now()
	return report, nil
}

func (r *dependencyHealthRepository) probe(ctx context.Context, check DependencyCheck) domain.DependencyHealth {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := check.Check(checkCtx)
	if err == nil {
		err = checkCtx.Err()
	}
	end := r.now()

	result := domain.DependencyHealth{
		Status:    domain.HealthOK,
		Detail:    failureDetail(err),
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	if err != nil {
		result.Status = domain.HealthDown
		if check.Optional {
			result.Status = domain.HealthDegraded
		}
	}
	return result
}

func failureDetail(err error) string {
	var repoErr RepositoryError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &repoErr) && repoErr.IsUnavailable():
		return "unavailable: " + err.Error()
	default:
		return err.Error()
	}
}

func worse(a, b domain.HealthStatus) domain.HealthStatus {
	rank := map[domain.HealthStatus]int{domain.HealthOK: 0, domain.HealthDegraded: 1, domain.HealthDown: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
