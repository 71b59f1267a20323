// Package health inspects storage and scheduler liveness. Failures are
// reported as data, never raised to the caller.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/scheduler"
)

// Status is an overall or per-component health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Check is the verdict for a single component.
type Check struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Report is the response of the full health check.
type Report struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Version       string           `json:"version"`
	Checks        map[string]Check `json:"checks"`
	SchedulerJobs int              `json:"scheduler_jobs"`
}

// SimpleReport is the response of the liveness-only check.
type SimpleReport struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Pinger is the storage round-trip the monitor needs. *db.Store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor performs the checks. Each sub-check carries its own timeout so one
// slow dependency cannot stall the whole report.
type Monitor struct {
	store         Pinger
	registry      scheduler.Registry
	rollupJob     string
	checkTimeout  time.Duration
	maxFailStreak int
	version       string
	now           func() time.Time
}

// NewMonitor wires a monitor against the store and the job registry.
func NewMonitor(store Pinger, registry scheduler.Registry, rollupJob string, checkTimeout time.Duration, version string) *Monitor {
	return &Monitor{
		store:         store,
		registry:      registry,
		rollupJob:     rollupJob,
		checkTimeout:  checkTimeout,
		maxFailStreak: 3,
		version:       version,
		now:           time.Now,
	}
}

// Simple reports liveness only. It cannot fail.
func (m *Monitor) Simple() SimpleReport {
	return SimpleReport{
		Status:    StatusHealthy,
		Timestamp: m.now().UTC(),
		Version:   m.version,
	}
}

// Full checks storage reachability and scheduler liveness independently and
// combines them into an overall verdict.
func (m *Monitor) Full(ctx context.Context) Report {
	report := Report{
		Status:    StatusHealthy,
		Timestamp: m.now().UTC(),
		Version:   m.version,
		Checks: map[string]Check{
			"api": {Status: StatusHealthy},
		},
	}

	storage := m.checkStorage(ctx)
	report.Checks["storage"] = storage
	report.Status = worse(report.Status, storage.Status)

	sched := m.checkScheduler()
	report.Checks["scheduler"] = sched
	report.Status = worse(report.Status, sched.Status)
	report.SchedulerJobs = len(m.registry.Jobs())

	return report
}

func (m *Monitor) checkStorage(ctx context.Context) Check {
	pingCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	if err := m.store.Ping(pingCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Check{Status: StatusUnhealthy, Detail: "ping timed out after " + m.checkTimeout.String()}
		}
		return Check{Status: StatusUnhealthy, Detail: err.Error()}
	}
	return Check{Status: StatusHealthy}
}

func (m *Monitor) checkScheduler() Check {
	var rollup *scheduler.JobStatus
	for _, j := range m.registry.Jobs() {
		if j.Name == m.rollupJob {
			job := j
			rollup = &job
			break
		}
	}
	if rollup == nil {
		return Check{Status: StatusUnhealthy, Detail: "rollup job not registered"}
	}

	if rollup.FailStreak >= m.maxFailStreak {
		return Check{
			Status: StatusUnhealthy,
			Detail: "rollup job failing persistently: " + rollup.LastError,
		}
	}

	// Overdue means the job missed more than one full interval. A single
	// missed tick catches up on its own and is only degraded.
	if !rollup.LastRun.IsZero() && m.now().Sub(rollup.LastRun) > 2*rollup.Interval {
		return Check{
			Status: StatusDegraded,
			Detail: "rollup job overdue, last run " + rollup.LastRun.UTC().Format(time.RFC3339),
		}
	}

	return Check{Status: StatusHealthy}
}
