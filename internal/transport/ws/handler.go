// Package ws serves the live game protocol over WebSocket. Each connection
// runs a read pump that decodes and rate-limits client frames and a write
// pump that owns every write to the socket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/vovakirdan/xo-arena/internal/auth"
	"github.com/vovakirdan/xo-arena/internal/core"
	"github.com/vovakirdan/xo-arena/internal/metrics"
	"github.com/vovakirdan/xo-arena/internal/multiplayer"
	"github.com/vovakirdan/xo-arena/internal/ratelimit"
	"github.com/vovakirdan/xo-arena/internal/rules"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Frames above this size drop the connection. Smaller frames above
	// Limits.MaxPayload are answered with an error.
	maxFrameSize = 64 << 10

	sessionBufferSize = 64
	rateWindow        = time.Minute
)

// Error codes carried by ERROR events.
const (
	CodeMessageTooLarge = "MESSAGE_TOO_LARGE"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInvalidMessage  = "INVALID_MESSAGE"
	CodeSurrenderFailed = "SURRENDER_FAILED"
)

// Limits bounds what one connection may send.
type Limits struct {
	MaxPayload        int
	MessagesPerMinute int
	MovesPerMinute    int
}

// DefaultLimits returns 1 KiB frames, 60 messages and 10 moves per minute.
func DefaultLimits() Limits {
	return Limits{
		MaxPayload:        1024,
		MessagesPerMinute: 60,
		MovesPerMinute:    10,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades admitted requests on /ws/game/{gameId}.
type Handler struct {
	gate    *auth.Gatekeeper
	coord   *multiplayer.Coordinator
	limiter ratelimit.Limiter
	limits  Limits
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewHandler creates a Handler with DefaultLimits.
func NewHandler(gate *auth.Gatekeeper, coord *multiplayer.Coordinator, limiter ratelimit.Limiter) *Handler {
	return &Handler{
		gate:    gate,
		coord:   coord,
		limiter: limiter,
		limits:  DefaultLimits(),
		logger:  log.Default(),
		now:     time.Now,
	}
}

// SetLogger sets the logger.
func (h *Handler) SetLogger(l *log.Logger) {
	h.logger = l
}

// SetMetrics sets the metrics sink.
func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// SetLimits replaces the per-connection limits.
func (h *Handler) SetLimits(l Limits) {
	h.limits = l
}

// client is one live connection.
type client struct {
	h       *Handler
	conn    *websocket.Conn
	session *multiplayer.ChannelSession
	game    core.GameID
	player  core.PlayerID
}

// ServeHTTP admits the caller, upgrades the connection and starts its pumps.
// A refused handshake gets a plain HTTP error and no upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gameID := core.GameID(mux.Vars(r)["gameId"])

	adm, err := h.gate.Admit(r.Context(), r, gameID)
	if err != nil {
		code := auth.StatusCode(err)
		if code == http.StatusInternalServerError {
			h.logger.Error("admission failed", "game", gameID, "err", err)
		} else {
			h.logger.Debug("connection refused", "game", gameID, "status", code, "err", err)
		}
		http.Error(w, http.StatusText(code), code)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "game", gameID, "err", err)
		return
	}

	c := &client{
		h:       h,
		conn:    conn,
		session: multiplayer.NewChannelSession(multiplayer.NewSessionID(), sessionBufferSize),
		game:    gameID,
		player:  adm.PlayerID,
	}

	if err := h.coord.Connect(r.Context(), gameID, adm.PlayerID, c.session); err != nil {
		h.logger.Warn("cannot attach connection", "game", gameID, "player", adm.PlayerID, "err", err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "game unavailable")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}
	if h.metrics != nil {
		h.metrics.ConnectionOpened()
	}

	go c.writePump()
	go c.readPump()
}

// readPump handles inbound frames until the socket fails or closes.
func (c *client) readPump() {
	defer func() {
		c.h.coord.Disconnect(c.game, c.player, c.session.ID())
		c.session.Close()
		c.conn.Close()
		if c.h.metrics != nil {
			c.h.metrics.ConnectionClosed()
		}
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.h.logger.Warn("connection read error", "game", c.game, "player", c.player, "err", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(data)
	}
}

func (c *client) handle(data []byte) {
	if len(data) > c.h.limits.MaxPayload {
		c.fail(CodeMessageTooLarge, "message too large")
		return
	}
	if !c.allow("messages", c.h.limits.MessagesPerMinute) {
		c.fail(CodeRateLimited, "rate limit exceeded")
		return
	}

	msg, err := decodeInbound(data)
	if err != nil {
		c.h.logger.Debug("bad frame", "game", c.game, "player", c.player, "err", err)
		c.fail(CodeInvalidMessage, errInvalidMessage.Error())
		return
	}

	switch msg.Type {
	case multiplayer.MsgMove:
		if !c.allow("moves", c.h.limits.MovesPerMinute) {
			c.fail(CodeRateLimited, "move rate limit exceeded")
			return
		}
		c.handleMove(msg.Move)
	case multiplayer.MsgSurrender:
		c.handleSurrender()
	case multiplayer.MsgPing:
		ts := msg.Ping.Timestamp
		if ts == 0 {
			ts = c.h.now().UnixMilli()
		}
		c.session.Send(multiplayer.PongEvent{Timestamp: ts})
	}
}

func (c *client) handleMove(p *MovePayload) {
	symbol, ok := core.ParseSymbol(p.PlayerSymbol)
	if !ok {
		c.fail(CodeInvalidMessage, errInvalidMessage.Error())
		return
	}

	_, err := c.h.coord.ProcessMove(context.Background(), c.game, c.player, *p.Row, *p.Col, symbol)
	if err == nil {
		return
	}

	var moveErr *rules.MoveError
	switch {
	case errors.As(err, &moveErr):
		c.session.Send(multiplayer.MoveRejectedEvent{Reason: moveErr.Reason, Code: moveErr.Code()})
	case errors.Is(err, multiplayer.ErrGameNotActive):
		c.session.Send(multiplayer.MoveRejectedEvent{Reason: "game is not active", Code: rules.CodeGameNotActive})
	default:
		c.h.logger.Error("move failed", "game", c.game, "player", c.player, "err", err)
		c.session.Send(multiplayer.MoveRejectedEvent{Reason: "internal error", Code: rules.CodeServerError})
	}
}

func (c *client) handleSurrender() {
	if _, err := c.h.coord.ProcessSurrender(context.Background(), c.game, c.player); err != nil {
		c.h.logger.Warn("surrender failed", "game", c.game, "player", c.player, "err", err)
		c.fail(CodeSurrenderFailed, err.Error())
	}
}

// allow consumes one unit of the player's budget for kind in this game.
// Limiter failures let the message through.
func (c *client) allow(kind string, limit int) bool {
	key := fmt.Sprintf("rate_limit:websocket:%s:%s:%s", c.player, c.game, kind)
	ok, err := c.h.limiter.Allow(context.Background(), key, limit, rateWindow)
	if err != nil {
		c.h.logger.Warn("rate limiter unavailable", "key", key, "err", err)
		return true
	}
	if !ok && c.h.metrics != nil {
		c.h.metrics.RateLimited(kind)
	}
	return ok
}

func (c *client) fail(code, message string) {
	c.session.Send(multiplayer.ErrorEvent{Message: message, Code: code})
}

// writePump sends queued events and keepalive pings. When the session is
// closed it flushes what is still queued before closing the socket.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case evt := <-c.session.Events():
			if err := c.write(evt); err != nil {
				return
			}
		case <-c.session.Done():
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) flush() {
	for {
		select {
		case evt := <-c.session.Events():
			if err := c.write(evt); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) write(evt multiplayer.SessionEvent) error {
	data, err := encodeEvent(evt)
	if err != nil {
		c.h.logger.Error("cannot encode event", "type", evt.MessageType(), "err", err)
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
