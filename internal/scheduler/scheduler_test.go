package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestManualAfterRunsOnce(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var runs int

	if _, err := m.After(5*time.Second, func() { runs++ }); err != nil {
		t.Fatalf("After() failed: %v", err)
	}

	m.Advance(4 * time.Second)
	if runs != 0 {
		t.Fatalf("Expected no run before deadline, got %d", runs)
	}

	m.Advance(10 * time.Second)
	if runs != 1 {
		t.Errorf("Expected 1 run, got %d", runs)
	}
	if m.Pending() != 0 {
		t.Errorf("Expected one-shot task to be removed, %d pending", m.Pending())
	}
}

func TestManualEveryAndCancel(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var ticks int

	task, _ := m.Every(time.Second, func() { ticks++ })
	m.Advance(3500 * time.Millisecond)
	if ticks != 3 {
		t.Errorf("Expected 3 ticks, got %d", ticks)
	}

	task.Cancel()
	m.Advance(5 * time.Second)
	if ticks != 3 {
		t.Errorf("Expected no ticks after cancel, got %d", ticks)
	}
}

func TestManualRunsInDeadlineOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var order []int

	m.After(3*time.Second, func() { order = append(order, 3) })
	m.After(1*time.Second, func() { order = append(order, 1) })
	m.After(2*time.Second, func() { order = append(order, 2) })
	m.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("Expected [1 2 3], got %v", order)
	}
}

func TestManualTaskCanCancelAnother(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var fired bool

	later, _ := m.After(2*time.Second, func() { fired = true })
	m.After(time.Second, func() { later.Cancel() })
	m.Advance(3 * time.Second)

	if fired {
		t.Error("Cancelled task still ran")
	}
}

func TestManualNowAdvances(t *testing.T) {
	start := time.Unix(100, 0)
	m := NewManual(start)
	m.Advance(1500 * time.Millisecond)

	if got := m.Now().Sub(start); got != 1500*time.Millisecond {
		t.Errorf("Expected clock to advance 1.5s, got %s", got)
	}
}

func TestPoolAfter(t *testing.T) {
	p, err := NewPool(2)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}
	defer p.Stop()

	done := make(chan struct{})
	if _, err := p.After(20*time.Millisecond, func() { close(done) }); err != nil {
		t.Fatalf("After() failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Task did not run within 2s")
	}
}

func TestPoolCancelBeforeRun(t *testing.T) {
	p, err := NewPool(2)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}
	defer p.Stop()

	var ran atomic.Bool
	task, err := p.After(200*time.Millisecond, func() { ran.Store(true) })
	if err != nil {
		t.Fatalf("After() failed: %v", err)
	}
	task.Cancel()
	task.Cancel()

	time.Sleep(400 * time.Millisecond)
	if ran.Load() {
		t.Error("Cancelled task ran")
	}
}

func TestPoolEvery(t *testing.T) {
	p, err := NewPool(2)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}
	defer p.Stop()

	var ticks atomic.Int32
	task, err := p.Every(20*time.Millisecond, func() { ticks.Add(1) })
	if err != nil {
		t.Fatalf("Every() failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	task.Cancel()

	if ticks.Load() < 3 {
		t.Errorf("Expected at least 3 ticks, got %d", ticks.Load())
	}
}

func TestPoolStopRejectsNewTasks(t *testing.T) {
	p, err := NewPool(1)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if _, err := p.After(time.Second, func() {}); err != ErrStopped {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}
