package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/vovakirdan/xo-arena/internal/auth"
	"github.com/vovakirdan/xo-arena/internal/core"
	"github.com/vovakirdan/xo-arena/internal/multiplayer"
	"github.com/vovakirdan/xo-arena/internal/ratelimit"
	"github.com/vovakirdan/xo-arena/internal/rules"
	"github.com/vovakirdan/xo-arena/internal/scheduler"
	"github.com/vovakirdan/xo-arena/internal/storage"
)

const testSecret = "test-secret"

type harness struct {
	t       *testing.T
	url     string
	store   *storage.Store
	handler *Handler
	tokens  *auth.Validator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	logger := log.New(io.Discard)
	coord := multiplayer.NewCoordinator(multiplayer.DefaultCoordinatorConfig(), store,
		multiplayer.NewSessionRegistry(), scheduler.NewManual(time.Now()))
	coord.SetLogger(logger)

	validator := auth.NewValidator(testSecret)
	gate := auth.NewGatekeeper(validator, store, store)
	gate.SetLogger(logger)

	h := NewHandler(gate, coord, ratelimit.NewMemoryLimiter())
	h.SetLogger(logger)

	r := mux.NewRouter()
	r.Handle("/ws/game/{gameId}", h)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		coord.Stop()
		srv.Close()
		store.Close()
	})

	return &harness{
		t:       t,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		store:   store,
		handler: h,
		tokens:  validator,
	}
}

func (h *harness) createGame(status core.Status) *core.Game {
	h.t.Helper()
	g := &core.Game{
		BoardSize: 3,
		Mode:      core.ModePvP,
		Player1:   "alice",
		Player2:   "bob",
		Status:    status,
	}
	if err := h.store.CreateGame(context.Background(), g); err != nil {
		h.t.Fatalf("Failed to create game: %v", err)
	}
	return g
}

func (h *harness) dial(game core.GameID, player core.PlayerID) (*websocket.Conn, *http.Response, error) {
	h.t.Helper()
	token, err := h.tokens.Issue(player, string(player), time.Hour)
	if err != nil {
		h.t.Fatalf("Failed to issue token: %v", err)
	}
	return websocket.DefaultDialer.Dial(h.url+"/ws/game/"+string(game)+"?token="+token, nil)
}

func (h *harness) connect(game core.GameID, player core.PlayerID) *websocket.Conn {
	h.t.Helper()
	conn, _, err := h.dial(game, player)
	if err != nil {
		h.t.Fatalf("Failed to connect %s: %v", player, err)
	}
	h.t.Cleanup(func() { conn.Close() })

	if typ, _ := readFrame(h.t, conn); typ != multiplayer.MsgGameUpdate {
		h.t.Fatalf("Expected %s on connect, got %s", multiplayer.MsgGameUpdate, typ)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (string, map[string]interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var env struct {
		Type    string                 `json:"type"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("Failed to decode frame %s: %v", data, err)
	}
	return env.Type, env.Payload
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
}

func TestHandshakeRefused(t *testing.T) {
	h := newHarness(t)
	g := h.createGame(core.StatusWaiting)
	finished := h.createGame(core.StatusFinished)

	tests := []struct {
		name   string
		game   core.GameID
		player core.PlayerID
		token  bool
		want   int
	}{
		{"no token", g.ID, "alice", false, http.StatusUnauthorized},
		{"unknown game", "missing", "alice", true, http.StatusNotFound},
		{"outsider", g.ID, "mallory", true, http.StatusForbidden},
		{"finished game", finished.ID, "alice", true, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				resp *http.Response
				err  error
			)
			if tt.token {
				_, resp, err = h.dial(tt.game, tt.player)
			} else {
				_, resp, err = websocket.DefaultDialer.Dial(h.url+"/ws/game/"+string(tt.game), nil)
			}
			if !errors.Is(err, websocket.ErrBadHandshake) {
				t.Fatalf("Expected bad handshake, got %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestConnectSendsGameUpdate(t *testing.T) {
	h := newHarness(t)
	g := h.createGame(core.StatusWaiting)

	conn, _, err := h.dial(g.ID, "alice")
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	typ, payload := readFrame(t, conn)
	if typ != multiplayer.MsgGameUpdate {
		t.Fatalf("Expected %s, got %s", multiplayer.MsgGameUpdate, typ)
	}
	if payload["gameId"] != string(g.ID) {
		t.Errorf("Expected gameId %s, got %v", g.ID, payload["gameId"])
	}
	if payload["status"] != string(core.StatusWaiting) {
		t.Errorf("Expected status waiting, got %v", payload["status"])
	}
	board, ok := payload["boardState"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected boardState object, got %v", payload["boardState"])
	}
	if rows, _ := board["state"].([]interface{}); len(rows) != 3 {
		t.Errorf("Expected 3 board rows, got %v", board["state"])
	}
}

func TestMoveRelayedToOpponent(t *testing.T) {
	h := newHarness(t)
	g := h.createGame(core.StatusWaiting)
	alice := h.connect(g.ID, "alice")
	bob := h.connect(g.ID, "bob")

	send(t, alice, `{"type":"MOVE","payload":{"row":1,"col":1,"playerSymbol":"x"}}`)

	typ, payload := readFrame(t, alice)
	if typ != multiplayer.MsgMoveAccepted {
		t.Fatalf("Expected %s, got %s (%v)", multiplayer.MsgMoveAccepted, typ, payload)
	}
	if payload["currentPlayerSymbol"] != string(core.SymbolO) {
		t.Errorf("Expected o to move next, got %v", payload["currentPlayerSymbol"])
	}
	if payload["nextMoveAt"] == nil {
		t.Error("Expected a turn deadline after the opening move")
	}

	typ, payload = readFrame(t, bob)
	if typ != multiplayer.MsgOpponentMove {
		t.Fatalf("Expected %s, got %s", multiplayer.MsgOpponentMove, typ)
	}
	if payload["row"] != float64(1) || payload["col"] != float64(1) {
		t.Errorf("Expected move at 1,1, got %v,%v", payload["row"], payload["col"])
	}

	// Alice may not move twice in a row.
	send(t, alice, `{"type":"MOVE","payload":{"row":0,"col":0}}`)
	typ, payload = readFrame(t, alice)
	if typ != multiplayer.MsgMoveRejected {
		t.Fatalf("Expected %s, got %s", multiplayer.MsgMoveRejected, typ)
	}
	if payload["code"] != rules.CodeNotYourTurn {
		t.Errorf("Expected %s, got %v", rules.CodeNotYourTurn, payload["code"])
	}
}

func TestMoveRejectedOnOccupiedCell(t *testing.T) {
	h := newHarness(t)
	g := h.createGame(core.StatusWaiting)
	alice := h.connect(g.ID, "alice")
	bob := h.connect(g.ID, "bob")

	send(t, alice, `{"type":"MOVE","payload":{"row":0,"col":0,"playerSymbol":"x"}}`)
	readFrame(t, alice)
	readFrame(t, bob)

	send(t, bob, `{"type":"MOVE","payload":{"row":0,"col":0,"playerSymbol":"o"}}`)
	typ, payload := readFrame(t, bob)
	if typ != multiplayer.MsgMoveRejected || payload["code"] != rules.CodeOccupied {
		t.Errorf("Expected %s/%s, got %s/%v", multiplayer.MsgMoveRejected, rules.CodeOccupied, typ, payload["code"])
	}
}

func TestSurrenderEndsGame(t *testing.T) {
	h := newHarness(t)
	g := h.createGame(core.StatusWaiting)
	alice := h.connect(g.ID, "alice")
	bob := h.connect(g.ID, "bob")

	send(t, alice, `{"type":"SURRENDER"}`)

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		typ, payload := readFrame(t, conn)
		if typ != multiplayer.MsgGameEnded {
			t.Fatalf("Expected %s for %s, got %s", multiplayer.MsgGameEnded, name, typ)
		}
		winner, _ := payload["winner"].(map[string]interface{})
		if winner["userId"] != "bob" {
			t.Errorf("Expected bob to win, got %v", payload["winner"])
		}

		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, _, err := conn.ReadMessage()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Errorf("Expected normal close for %s, got %v", name, err)
		}
	}

	stored, err := h.store.GameByID(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("Failed to load game: %v", err)
	}
	if stored.Status != core.StatusFinished || stored.Winner != "bob" {
		t.Errorf("Expected finished game won by bob, got %s/%s", stored.Status, stored.Winner)
	}
}

func TestPingPong(t *testing.T) {
	h := newHarness(t)
	g := h.createGame(core.StatusWaiting)
	alice := h.connect(g.ID, "alice")

	send(t, alice, `{"type":"PING","payload":{"timestamp":1700000000123}}`)
	typ, payload := readFrame(t, alice)
	if typ != multiplayer.MsgPong {
		t.Fatalf("Expected %s, got %s", multiplayer.MsgPong, typ)
	}
	if payload["timestamp"] != float64(1700000000123) {
		t.Errorf("Expected echoed timestamp, got %v", payload["timestamp"])
	}
}

func TestProtocolErrors(t *testing.T) {
	h := newHarness(t)
	g := h.createGame(core.StatusWaiting)
	alice := h.connect(g.ID, "alice")

	tests := []struct {
		name  string
		frame string
		code  string
	}{
		{"not json", `{nope`, CodeInvalidMessage},
		{"missing type", `{"payload":{}}`, CodeInvalidMessage},
		{"unknown type", `{"type":"CHAT","payload":{}}`, CodeInvalidMessage},
		{"move without col", `{"type":"MOVE","payload":{"row":1}}`, CodeInvalidMessage},
		{"bad symbol", `{"type":"MOVE","payload":{"row":1,"col":1,"playerSymbol":"z"}}`, CodeInvalidMessage},
		{"too large", `{"type":"PING","payload":{"pad":"` + strings.Repeat("a", 1100) + `"}}`, CodeMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, alice, tt.frame)
			typ, payload := readFrame(t, alice)
			if typ != multiplayer.MsgError {
				t.Fatalf("Expected %s, got %s", multiplayer.MsgError, typ)
			}
			if payload["code"] != tt.code {
				t.Errorf("Expected code %s, got %v", tt.code, payload["code"])
			}
		})
	}

	// The connection survives protocol errors.
	send(t, alice, `{"type":"PING","payload":{}}`)
	if typ, _ := readFrame(t, alice); typ != multiplayer.MsgPong {
		t.Errorf("Expected %s after errors, got %s", multiplayer.MsgPong, typ)
	}
}

func TestMessageRateLimit(t *testing.T) {
	h := newHarness(t)
	h.handler.SetLimits(Limits{MaxPayload: 1024, MessagesPerMinute: 2, MovesPerMinute: 10})
	g := h.createGame(core.StatusWaiting)
	alice := h.connect(g.ID, "alice")

	for i := 0; i < 2; i++ {
		send(t, alice, `{"type":"PING","payload":{}}`)
		if typ, _ := readFrame(t, alice); typ != multiplayer.MsgPong {
			t.Fatalf("Expected %s for ping %d, got %s", multiplayer.MsgPong, i, typ)
		}
	}

	send(t, alice, `{"type":"PING","payload":{}}`)
	typ, payload := readFrame(t, alice)
	if typ != multiplayer.MsgError || payload["code"] != CodeRateLimited {
		t.Errorf("Expected %s/%s, got %s/%v", multiplayer.MsgError, CodeRateLimited, typ, payload["code"])
	}
}

func TestMoveRateLimit(t *testing.T) {
	h := newHarness(t)
	h.handler.SetLimits(Limits{MaxPayload: 1024, MessagesPerMinute: 60, MovesPerMinute: 1})
	g := h.createGame(core.StatusWaiting)
	alice := h.connect(g.ID, "alice")
	h.connect(g.ID, "bob")

	send(t, alice, `{"type":"MOVE","payload":{"row":0,"col":0,"playerSymbol":"x"}}`)
	if typ, _ := readFrame(t, alice); typ != multiplayer.MsgMoveAccepted {
		t.Fatalf("Expected %s, got %s", multiplayer.MsgMoveAccepted, typ)
	}

	send(t, alice, `{"type":"MOVE","payload":{"row":1,"col":1}}`)
	typ, payload := readFrame(t, alice)
	if typ != multiplayer.MsgError || payload["code"] != CodeRateLimited {
		t.Errorf("Expected %s/%s, got %s/%v", multiplayer.MsgError, CodeRateLimited, typ, payload["code"])
	}

	// Pings draw from the message budget only.
	send(t, alice, `{"type":"PING","payload":{}}`)
	if typ, _ := readFrame(t, alice); typ != multiplayer.MsgPong {
		t.Errorf("Expected %s, got %s", multiplayer.MsgPong, typ)
	}
}

func TestReconnectReplacesConnection(t *testing.T) {
	h := newHarness(t)
	g := h.createGame(core.StatusWaiting)
	first := h.connect(g.ID, "alice")
	h.connect(g.ID, "alice")

	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := first.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("Expected the replaced connection to be closed, got %v", err)
	}
}

func TestDecodeInbound(t *testing.T) {
	msg, err := decodeInbound([]byte(`{"type":"MOVE","payload":{"row":2,"col":0,"playerSymbol":"O"}}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if *msg.Move.Row != 2 || *msg.Move.Col != 0 || msg.Move.PlayerSymbol != "O" {
		t.Errorf("Unexpected move payload: %+v", msg.Move)
	}

	if _, err := decodeInbound([]byte(`{"type":"MOVE","payload":{"row":1.5,"col":0}}`)); !errors.Is(err, errInvalidMessage) {
		t.Errorf("Expected invalid message for fractional row, got %v", err)
	}

	msg, err = decodeInbound([]byte(`{"type":"SURRENDER"}`))
	if err != nil || msg.Type != multiplayer.MsgSurrender {
		t.Errorf("Expected surrender without payload, got %+v, %v", msg, err)
	}
}
