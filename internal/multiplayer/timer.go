package multiplayer

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/vovakirdan/xo-arena/internal/core"
	"github.com/vovakirdan/xo-arena/internal/scheduler"
)

// turnTimer is the countdown for the player to move in one game. gen
// identifies the timer so callbacks of a replaced timer do nothing.
type turnTimer struct {
	gen      uint64
	deadline time.Time
	symbol   core.Symbol
	tick     scheduler.Task
	timeout  scheduler.Task
}

func (t *turnTimer) cancel() {
	if t.tick != nil {
		t.tick.Cancel()
	}
	if t.timeout != nil {
		t.timeout.Cancel()
	}
}

// timerSet holds at most one running turn timer per game.
type timerSet struct {
	mu     sync.Mutex
	gen    uint64
	timers map[GameID]*turnTimer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[GameID]*turnTimer)}
}

// replace installs t for game and cancels any previous timer.
func (s *timerSet) replace(game GameID, t *turnTimer) {
	s.mu.Lock()
	prev := s.timers[game]
	s.timers[game] = t
	s.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}
}

func (s *timerSet) nextGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

func (s *timerSet) stop(game GameID) bool {
	s.mu.Lock()
	t := s.timers[game]
	delete(s.timers, game)
	s.mu.Unlock()
	if t == nil {
		return false
	}
	t.cancel()
	return true
}

func (s *timerSet) get(game GameID) (*turnTimer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[game]
	return t, ok
}

func (s *timerSet) current(game GameID, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[game]
	return ok && t.gen == gen
}

func (s *timerSet) games() []GameID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GameID, 0, len(s.timers))
	for id := range s.timers {
		out = append(out, id)
	}
	return out
}

func (s *timerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *timerSet) stopAll() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[GameID]*turnTimer)
	s.mu.Unlock()
	for _, t := range timers {
		t.cancel()
	}
}

// startTurnTimer starts a fresh countdown for the player to move in g and
// returns its deadline. Must be called with the game lock held.
func (c *Coordinator) startTurnTimer(g *core.Game) time.Time {
	gen := c.timers.nextGen()
	t := &turnTimer{
		gen:      gen,
		deadline: c.sched.Now().Add(c.config.TurnTimeout),
		symbol:   g.CurrentSymbol,
	}
	id := g.ID

	tick, err := c.sched.Every(c.config.TickInterval, func() { c.onTick(id, gen) })
	if err != nil {
		c.logger.Error("cannot schedule timer ticks", "game", id, "err", err)
	}
	t.tick = tick

	timeout, err := c.sched.After(c.config.TurnTimeout, func() { c.onTurnTimeout(id, gen) })
	if err != nil {
		c.logger.Error("cannot schedule turn timeout", "game", id, "err", err)
	}
	t.timeout = timeout

	c.timers.replace(id, t)
	c.metrics.TurnTimers(c.timers.len())
	return t.deadline
}

func (c *Coordinator) stopTurnTimer(id GameID) {
	if c.timers.stop(id) {
		c.metrics.TurnTimers(c.timers.len())
	}
}

// turnDeadline returns the deadline of the running timer of game.
func (c *Coordinator) turnDeadline(id GameID) (time.Time, bool) {
	t, ok := c.timers.get(id)
	if !ok {
		return time.Time{}, false
	}
	return t.deadline, true
}

func (c *Coordinator) onTick(id GameID, gen uint64) {
	t, ok := c.timers.get(id)
	if !ok || t.gen != gen {
		return
	}

	remaining := t.deadline.Sub(c.sched.Now())
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 0 {
		secs = 0
	}
	c.sessions.Broadcast(id, TimerUpdateEvent{
		RemainingSeconds:    secs,
		CurrentPlayerSymbol: t.symbol,
	})
}

func (c *Coordinator) onTurnTimeout(id GameID, gen uint64) {
	unlock := c.locks.lock(id)
	defer unlock()

	if !c.timers.current(id, gen) {
		return
	}
	if err := c.processTimeoutLocked(context.Background(), id); err != nil {
		c.logger.Error("turn timeout failed", "game", id, "err", err)
	}
}

// sweepStaleTimers stops timers of games nobody is connected to. Disconnect
// grace handling decides the outcome of those games.
func (c *Coordinator) sweepStaleTimers() {
	for _, id := range c.timers.games() {
		unlock := c.locks.lock(id)
		if len(c.sessions.Get(id)) == 0 {
			c.logger.Debug("stopping stale turn timer", "game", id)
			c.stopTurnTimer(id)
		}
		unlock()
	}
}
