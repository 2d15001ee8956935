package multiplayer

import (
	"time"

	"github.com/vovakirdan/xo-arena/internal/core"
)

// Inbound message types.
const (
	MsgMove      = "MOVE"
	MsgSurrender = "SURRENDER"
	MsgPing      = "PING"
)

// Outbound message types.
const (
	MsgMoveAccepted = "MOVE_ACCEPTED"
	MsgMoveRejected = "MOVE_REJECTED"
	MsgOpponentMove = "OPPONENT_MOVE"
	MsgGameUpdate   = "GAME_UPDATE"
	MsgTimerUpdate  = "TIMER_UPDATE"
	MsgGameEnded    = "GAME_ENDED"
	MsgPong         = "PONG"
	MsgError        = "ERROR"
)

// SessionEvent is an event sent from the coordinator to a connection.
// The event itself is the JSON payload; MessageType names the envelope.
type SessionEvent interface {
	MessageType() string
	sessionEvent()
}

// BoardState is the wire form of a board: rows of "x", "o" or "".
type BoardState struct {
	State [][]string `json:"state"`
}

func boardState(b *core.Board) BoardState {
	return BoardState{State: b.Rows()}
}

// WinnerInfo identifies the winning player.
type WinnerInfo struct {
	UserID PlayerID `json:"userId"`
}

func winnerInfo(g *core.Game) *WinnerInfo {
	if g.Winner == "" {
		return nil
	}
	return &WinnerInfo{UserID: g.Winner}
}

func symbolPtr(s core.Symbol) *core.Symbol {
	if s == core.SymbolNone {
		return nil
	}
	return &s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// MoveAcceptedEvent confirms the sender's move.
type MoveAcceptedEvent struct {
	MoveID              int64        `json:"moveId"`
	Row                 int          `json:"row"`
	Col                 int          `json:"col"`
	PlayerSymbol        core.Symbol  `json:"playerSymbol"`
	BoardState          BoardState   `json:"boardState"`
	CurrentPlayerSymbol *core.Symbol `json:"currentPlayerSymbol"`
	NextMoveAt          *time.Time   `json:"nextMoveAt"`
}

func (MoveAcceptedEvent) sessionEvent()       {}
func (MoveAcceptedEvent) MessageType() string { return MsgMoveAccepted }

// MoveRejectedEvent tells the sender why a move was refused.
type MoveRejectedEvent struct {
	Reason string `json:"reason"`
	Code   string `json:"code"`
}

func (MoveRejectedEvent) sessionEvent()       {}
func (MoveRejectedEvent) MessageType() string { return MsgMoveRejected }

// OpponentMoveEvent tells the other participant about a move.
type OpponentMoveEvent struct {
	Row                 int          `json:"row"`
	Col                 int          `json:"col"`
	PlayerSymbol        core.Symbol  `json:"playerSymbol"`
	BoardState          BoardState   `json:"boardState"`
	CurrentPlayerSymbol *core.Symbol `json:"currentPlayerSymbol"`
	NextMoveAt          *time.Time   `json:"nextMoveAt"`
}

func (OpponentMoveEvent) sessionEvent()       {}
func (OpponentMoveEvent) MessageType() string { return MsgOpponentMove }

// GameUpdateEvent is the full game state, sent on connect.
type GameUpdateEvent struct {
	GameID              GameID       `json:"gameId"`
	Status              core.Status  `json:"status"`
	Winner              *WinnerInfo  `json:"winner"`
	BoardState          BoardState   `json:"boardState"`
	CurrentPlayerSymbol *core.Symbol `json:"currentPlayerSymbol"`
	NextMoveAt          *time.Time   `json:"nextMoveAt"`
}

func (GameUpdateEvent) sessionEvent()       {}
func (GameUpdateEvent) MessageType() string { return MsgGameUpdate }

// TimerUpdateEvent reports the time left for the player to move.
type TimerUpdateEvent struct {
	RemainingSeconds    int         `json:"remainingSeconds"`
	CurrentPlayerSymbol core.Symbol `json:"currentPlayerSymbol"`
}

func (TimerUpdateEvent) sessionEvent()       {}
func (TimerUpdateEvent) MessageType() string { return MsgTimerUpdate }

// GameEndedEvent is sent to both participants when a game reaches a
// terminal state.
type GameEndedEvent struct {
	GameID     GameID      `json:"gameId"`
	Status     core.Status `json:"status"`
	Winner     *WinnerInfo `json:"winner"`
	BoardState BoardState  `json:"boardState"`
	TotalMoves int         `json:"totalMoves"`
	Reason     string      `json:"reason"`
}

func (GameEndedEvent) sessionEvent()       {}
func (GameEndedEvent) MessageType() string { return MsgGameEnded }

// PongEvent answers a PING.
type PongEvent struct {
	Timestamp int64 `json:"timestamp"`
}

func (PongEvent) sessionEvent()       {}
func (PongEvent) MessageType() string { return MsgPong }

// ErrorEvent reports a protocol-level problem that is not a move rejection.
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (ErrorEvent) sessionEvent()       {}
func (ErrorEvent) MessageType() string { return MsgError }
