// Package metrics exposes Prometheus collectors for the arena.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the arena's collectors.
type Metrics struct {
	gamesCreated  *prometheus.CounterVec
	gamesEnded    *prometheus.CounterVec
	movesAccepted prometheus.Counter
	movesRejected *prometheus.CounterVec
	connections   prometheus.Gauge
	turnTimers    prometheus.Gauge
	queueJoins    *prometheus.CounterVec
	rateLimited   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gamesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arena_games_created_total", Help: "Games created by mode"},
			[]string{"mode"},
		),
		gamesEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arena_games_ended_total", Help: "Games ended by final status and reason"},
			[]string{"status", "reason"},
		),
		movesAccepted: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "arena_moves_accepted_total", Help: "Accepted moves"},
		),
		movesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arena_moves_rejected_total", Help: "Rejected moves by code"},
			[]string{"code"},
		),
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "arena_live_connections", Help: "Admitted live game connections"},
		),
		turnTimers: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "arena_turn_timers", Help: "Running turn timers"},
		),
		queueJoins: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arena_queue_joins_total", Help: "Matchmaking join attempts by result"},
			[]string{"result"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "arena_rate_limited_total", Help: "Inbound messages rejected by rate limits"},
			[]string{"kind"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.gamesCreated,
			m.gamesEnded,
			m.movesAccepted,
			m.movesRejected,
			m.connections,
			m.turnTimers,
			m.queueJoins,
			m.rateLimited,
		)
	}
	return m
}

// GameCreated counts a new game.
func (m *Metrics) GameCreated(mode string) {
	if m == nil {
		return
	}
	m.gamesCreated.WithLabelValues(mode).Inc()
}

// GameEnded counts a finished game.
func (m *Metrics) GameEnded(status, reason string) {
	if m == nil {
		return
	}
	m.gamesEnded.WithLabelValues(status, reason).Inc()
}

// MoveAccepted counts an accepted move.
func (m *Metrics) MoveAccepted() {
	if m == nil {
		return
	}
	m.movesAccepted.Inc()
}

// MoveRejected counts a rejected move.
func (m *Metrics) MoveRejected(code string) {
	if m == nil {
		return
	}
	m.movesRejected.WithLabelValues(code).Inc()
}

// ConnectionOpened tracks an admitted connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed tracks a closed connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// TurnTimers sets the number of running turn timers.
func (m *Metrics) TurnTimers(n int) {
	if m == nil {
		return
	}
	m.turnTimers.Set(float64(n))
}

// QueueJoin counts a matchmaking join attempt.
func (m *Metrics) QueueJoin(result string) {
	if m == nil {
		return
	}
	m.queueJoins.WithLabelValues(result).Inc()
}

// RateLimited counts a message dropped by a rate limit.
func (m *Metrics) RateLimited(kind string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(kind).Inc()
}
