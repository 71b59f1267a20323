// Package scheduler runs named background jobs on fixed intervals and
// exposes their run state for health introspection.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// JobFunc is one unit of background work.
type JobFunc func(ctx context.Context) error

// JobStatus is a point-in-time snapshot of a registered job.
type JobStatus struct {
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	NextRun    time.Time     `json:"next_run"`
	LastRun    time.Time     `json:"last_run,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	FailStreak int           `json:"fail_streak"`
	Runs       uint64        `json:"runs"`
}

// Registry is the read/trigger surface consumers depend on, so tests can
// substitute a double without touching the running scheduler.
type Registry interface {
	Jobs() []JobStatus
	NextRun(name string) (time.Time, bool)
	TriggerNow(name string) error
}

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
	trigger  chan struct{}
	status   JobStatus
}

// Scheduler owns one goroutine per registered job. It implements Registry.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	log     zerolog.Logger
	started bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// New returns an empty scheduler.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		jobs: make(map[string]*job),
		log:  logger,
		now:  time.Now,
	}
}

// Register adds a job. Registration must happen before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("job %q: scheduler already started", name)
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q: already registered", name)
	}

	s.jobs[name] = &job{
		name:     name,
		interval: interval,
		fn:       fn,
		trigger:  make(chan struct{}, 1),
		status:   JobStatus{Name: name, Interval: interval},
	}
	s.order = append(s.order, name)
	return nil
}

// Start launches every registered job. Each job runs once immediately so a
// restarted process catches up, then on its interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	jobs := make([]*job, 0, len(s.order))
	for _, name := range s.order {
		jobs = append(jobs, s.jobs[name])
	}
	s.mu.Unlock()

	for _, j := range jobs {
		s.wg.Add(1)
		go func(j *job) {
			defer s.wg.Done()
			s.loop(ctx, j)
		}(j)
	}
}

// Wait blocks until all job loops have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	s.runJob(ctx, j)

	timer := time.NewTimer(j.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runJob(ctx, j)
			timer.Reset(j.interval)
		case <-j.trigger:
			s.runJob(ctx, j)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(j.interval)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *job) {
	started := s.now()

	s.mu.Lock()
	j.status.LastRun = started
	j.status.NextRun = started.Add(j.interval)
	s.mu.Unlock()

	err := j.fn(ctx)

	s.mu.Lock()
	j.status.Runs++
	if err != nil {
		j.status.LastError = err.Error()
		j.status.FailStreak++
	} else {
		j.status.LastError = ""
		j.status.FailStreak = 0
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Str("job", j.name).Err(err).Msg("background job failed")
		return
	}
	s.log.Debug().Str("job", j.name).Dur("elapsed", s.now().Sub(started)).Msg("background job finished")
}

// Jobs returns snapshots of all registered jobs in registration order.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.jobs[name].status)
	}
	return out
}

// NextRun reports when the named job will run next.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return time.Time{}, false
	}
	return j.status.NextRun, true
}

// TriggerNow asks the named job to run out of schedule. A trigger while a
// run is already pending is coalesced.
func (s *Scheduler) TriggerNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q: not registered", name)
	}

	select {
	case j.trigger <- struct{}{}:
	default:
	}
	return nil
}
