package scheduler

import (
	"sync"
	"time"
)

// Manual is a deterministic Scheduler driven by Advance. Tasks run on the
// goroutine calling Advance, in deadline order.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks map[int]*manualTask
}

type manualTask struct {
	m      *Manual
	id     int
	at     time.Time
	period time.Duration
	fn     func()
}

// NewManual creates a manual scheduler starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:   start,
		tasks: make(map[int]*manualTask),
	}
}

// After schedules fn at Now()+d.
func (m *Manual) After(d time.Duration, fn func()) (Task, error) {
	return m.add(d, 0, fn), nil
}

// Every schedules fn every d.
func (m *Manual) Every(d time.Duration, fn func()) (Task, error) {
	return m.add(d, d, fn), nil
}

func (m *Manual) add(d, period time.Duration, fn func()) *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTask{m: m, id: m.seq, at: m.now.Add(d), period: period, fn: fn}
	m.tasks[t.id] = t
	return t
}

// Now returns the manual clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of scheduled tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Advance moves the clock forward by d, running every task that becomes due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var next *manualTask
		for _, t := range m.tasks {
			if t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || t.at.Equal(next.at) && t.id < next.id {
				next = t
			}
		}
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}

		m.now = next.at
		if next.period > 0 {
			next.at = next.at.Add(next.period)
		} else {
			delete(m.tasks, next.id)
		}
		fn := next.fn
		m.mu.Unlock()

		fn()
	}
}

func (t *manualTask) Cancel() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	delete(t.m.tasks, t.id)
}
