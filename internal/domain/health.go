package domain

import "time"

// HealthStatus summarises dependency state for readiness probes.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// DependencyHealth is the result of probing a single backing service.
type DependencyHealth struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates the register's dependency probes.
type HealthReport struct {
	Status       HealthStatus
	Dependencies map[string]DependencyHealth
	Version      string
	CommitSHA    string
	Uptime       time.Duration
	GeneratedAt  time.Time
}
