// Package scheduler runs deferred and periodic tasks on a small worker pool.
// Turn ticks, turn timeouts, reconnect windows and housekeeping sweeps all go
// through a Scheduler so they can be replaced by Manual in tests.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// Task is a scheduled unit of work.
type Task interface {
	// Cancel stops the task. Safe to call more than once and after the
	// task has run.
	Cancel()
}

// Scheduler schedules functions to run later.
type Scheduler interface {
	// After runs fn once after d.
	After(d time.Duration, fn func()) (Task, error)

	// Every runs fn every d, first after d.
	Every(d time.Duration, fn func()) (Task, error)

	// Now returns the scheduler's notion of the current time.
	Now() time.Time
}

// ErrStopped is returned when scheduling on a stopped scheduler.
var ErrStopped = errors.New("scheduler: stopped")

// Pool is a Scheduler backed by gocron with a bounded number of concurrently
// running tasks.
type Pool struct {
	s gocron.Scheduler

	mu      sync.Mutex
	stopped bool
}

// NewPool creates and starts a worker pool running at most workers tasks at a
// time. Tasks beyond the limit wait for a free worker.
func NewPool(workers uint) (*Pool, error) {
	if workers == 0 {
		workers = 4
	}
	s, err := gocron.NewScheduler(
		gocron.WithLimitConcurrentJobs(workers, gocron.LimitModeWait),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: cannot create worker pool: %w", err)
	}
	s.Start()
	return &Pool{s: s}, nil
}

// After runs fn once after d.
func (p *Pool) After(d time.Duration, fn func()) (Task, error) {
	start := gocron.OneTimeJobStartImmediately()
	if d > 0 {
		start = gocron.OneTimeJobStartDateTime(time.Now().Add(d))
	}
	return p.add(gocron.OneTimeJob(start), fn, gocron.WithLimitedRuns(1))
}

// Every runs fn every d. Overlapping runs of the same task are skipped.
func (p *Pool) Every(d time.Duration, fn func()) (Task, error) {
	if d <= 0 {
		return nil, fmt.Errorf("scheduler: invalid period %s", d)
	}
	return p.add(gocron.DurationJob(d), fn, gocron.WithSingletonMode(gocron.LimitModeReschedule))
}

// Now returns the wall clock.
func (p *Pool) Now() time.Time {
	return time.Now()
}

func (p *Pool) add(def gocron.JobDefinition, fn func(), opts ...gocron.JobOption) (Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, ErrStopped
	}

	job, err := p.s.NewJob(def, gocron.NewTask(fn), opts...)
	if err != nil {
		return nil, fmt.Errorf("scheduler: cannot schedule task: %w", err)
	}
	return &poolTask{pool: p, id: job.ID()}, nil
}

// Stop cancels all pending tasks and waits for running ones to finish.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()
	return p.s.Shutdown()
}

// Len returns the number of scheduled tasks.
func (p *Pool) Len() int {
	return len(p.s.Jobs())
}

type poolTask struct {
	pool *Pool
	id   uuid.UUID
	once sync.Once
}

func (t *poolTask) Cancel() {
	t.once.Do(func() {
		// The job may already have run and been removed.
		_ = t.pool.s.RemoveJob(t.id) //nolint:errcheck // not found is fine
	})
}
