// Package multiplayer runs live games: it owns the connections attached to
// each game, the turn timers, and the authoritative move pipeline.
package multiplayer

import (
	"github.com/google/uuid"

	"github.com/vovakirdan/xo-arena/internal/core"
)

// GameID is an alias to core.GameID for convenience.
type GameID = core.GameID

// PlayerID is an alias to core.PlayerID for convenience.
type PlayerID = core.PlayerID

// SessionID uniquely identifies one live connection. A player who reconnects
// gets a new SessionID for the same game.
type SessionID string

// NewSessionID returns a random session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// EndReason describes why a game ended.
type EndReason int

const (
	EndReasonCompleted  EndReason = iota // A line was completed
	EndReasonDraw                        // Board filled without a line
	EndReasonSurrender                   // A player gave up
	EndReasonTimeout                     // The player to move ran out of time
	EndReasonDisconnect                  // A player did not come back in time
	EndReasonAbandoned                   // Called off without a result
)

// String returns the wire name of the reason.
func (r EndReason) String() string {
	switch r {
	case EndReasonCompleted:
		return "completed"
	case EndReasonDraw:
		return "draw"
	case EndReasonSurrender:
		return "surrender"
	case EndReasonTimeout:
		return "timeout"
	case EndReasonDisconnect:
		return "disconnect"
	case EndReasonAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}
