package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/xo-arena/internal/config"
	"github.com/vovakirdan/xo-arena/internal/core"
)

type testServer struct {
	t   *testing.T
	srv *Server
	url string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "arena.db")
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Bot.Seed = 1

	s, err := New(cfg, log.New(io.Discard))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hs.Close()
		s.Shutdown()
	})
	return &testServer{t: t, srv: s, url: hs.URL}
}

func (ts *testServer) token(player core.PlayerID) string {
	ts.t.Helper()
	tok, err := ts.srv.Tokens().Issue(player, string(player), time.Hour)
	if err != nil {
		ts.t.Fatalf("Failed to issue token: %v", err)
	}
	return tok
}

// do sends a request as player (no credentials when empty) and decodes a
// JSON object response.
func (ts *testServer) do(method, path string, player core.PlayerID, body interface{}) (int, map[string]interface{}) {
	ts.t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			ts.t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.url+path, rd)
	if err != nil {
		ts.t.Fatal(err)
	}
	if player != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(player))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]interface{}{}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(data, &out); err != nil {
			ts.t.Fatalf("Failed to decode %s: %v", data, err)
		}
	}
	return resp.StatusCode, out
}

func TestNewRequiresSecret(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "arena.db")
	if _, err := New(cfg, log.New(io.Discard)); err == nil {
		t.Error("Expected error without a JWT secret")
	}
}

func TestHealthAndAuth(t *testing.T) {
	ts := newTestServer(t)

	if code, body := ts.do(http.MethodGet, "/healthz", "", nil); code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("Expected healthy, got %d %v", code, body)
	}
	if code, _ := ts.do(http.MethodGet, "/api/matchmaking/queue", "", nil); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", code)
	}
}

func TestBotGameFlow(t *testing.T) {
	ts := newTestServer(t)

	code, game := ts.do(http.MethodPost, "/api/games", "alice", map[string]interface{}{
		"boardSize":     3,
		"botDifficulty": "hard",
	})
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d %v", code, game)
	}
	if game["gameType"] != string(core.ModeVsBot) || game["status"] != string(core.StatusWaiting) {
		t.Errorf("Unexpected game: %v", game)
	}
	id := game["id"].(string)

	code, res := ts.do(http.MethodPost, "/api/games/"+id+"/moves", "alice", map[string]interface{}{
		"row": 0, "col": 0, "playerSymbol": "x",
	})
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d %v", code, res)
	}
	botMove, ok := res["botMove"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected a bot reply, got %v", res)
	}
	if botMove["row"] != float64(1) || botMove["col"] != float64(1) {
		t.Errorf("Expected hard bot to take the centre, got %v,%v", botMove["row"], botMove["col"])
	}
	if res["totalMoves"] != float64(2) {
		t.Errorf("Expected 2 moves, got %v", res["totalMoves"])
	}

	code, res = ts.do(http.MethodPost, "/api/games/"+id+"/moves", "alice", map[string]interface{}{
		"row": 1, "col": 1,
	})
	if code != http.StatusUnprocessableEntity || res["code"] != "MOVE_INVALID_OCCUPIED" {
		t.Errorf("Expected occupied rejection, got %d %v", code, res)
	}

	code, state := ts.do(http.MethodGet, "/api/games/"+id, "alice", nil)
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if moves, _ := state["moves"].([]interface{}); len(moves) != 2 {
		t.Errorf("Expected 2 moves in state, got %v", state["moves"])
	}
	if state["status"] != string(core.StatusInProgress) {
		t.Errorf("Expected in_progress, got %v", state["status"])
	}

	if code, _ := ts.do(http.MethodGet, "/api/games/"+id, "mallory", nil); code != http.StatusForbidden {
		t.Errorf("Expected 403 for outsider, got %d", code)
	}

	code, ended := ts.do(http.MethodPost, "/api/games/"+id+"/surrender", "alice", nil)
	if code != http.StatusOK || ended["status"] != string(core.StatusFinished) {
		t.Errorf("Expected finished after surrender, got %d %v", code, ended)
	}
	if _, ok := ended["winnerId"]; ok {
		t.Errorf("Expected no winner id when the bot wins, got %v", ended["winnerId"])
	}
}

func TestCreateBotGameValidation(t *testing.T) {
	ts := newTestServer(t)

	if code, _ := ts.do(http.MethodPost, "/api/games", "alice", map[string]interface{}{"boardSize": 7}); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for board size 7, got %d", code)
	}
	if code, _ := ts.do(http.MethodPost, "/api/games", "alice", map[string]interface{}{"botDifficulty": "brutal"}); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown difficulty, got %d", code)
	}
	code, game := ts.do(http.MethodPost, "/api/games", "alice", nil)
	if code != http.StatusCreated {
		t.Fatalf("Expected defaults to apply to an empty body, got %d", code)
	}
	if game["boardSize"] != float64(3) || game["botDifficulty"] != string(core.DifficultyMedium) {
		t.Errorf("Expected 3x3 medium, got %v", game)
	}
}

func TestMatchmakingFlow(t *testing.T) {
	ts := newTestServer(t)

	code, joined := ts.do(http.MethodPost, "/api/matchmaking/queue", "alice", map[string]interface{}{"boardSize": 3})
	if code != http.StatusOK || joined["status"] != "queued" {
		t.Fatalf("Expected queued, got %d %v", code, joined)
	}
	if joined["estimatedWaitSeconds"] != float64(30) {
		t.Errorf("Expected 30s estimate for an empty queue, got %v", joined["estimatedWaitSeconds"])
	}

	code, status := ts.do(http.MethodGet, "/api/matchmaking/queue?boardSize=3", "carol", nil)
	if code != http.StatusOK || status["totalCount"] != float64(1) {
		t.Errorf("Expected one queued player, got %d %v", code, status)
	}

	code, matched := ts.do(http.MethodPost, "/api/matchmaking/queue", "bob", map[string]interface{}{"boardSize": 3})
	if code != http.StatusCreated || matched["status"] != "matched" {
		t.Fatalf("Expected matched, got %d %v", code, matched)
	}
	game := matched["game"].(map[string]interface{})
	if game["player1Id"] != "alice" || game["player2Id"] != "bob" {
		t.Errorf("Expected alice vs bob, got %v", game)
	}

	code, active := ts.do(http.MethodGet, "/api/games/active", "alice", nil)
	if code != http.StatusOK || active["id"] != game["id"] {
		t.Errorf("Expected alice's active game %v, got %d %v", game["id"], code, active)
	}

	// PvP moves only travel over the live connection.
	code, _ = ts.do(http.MethodPost, "/api/games/"+game["id"].(string)+"/moves", "alice", map[string]interface{}{
		"row": 0, "col": 0,
	})
	if code != http.StatusConflict {
		t.Errorf("Expected 409 for a PvP move over REST, got %d", code)
	}

	code, again := ts.do(http.MethodPost, "/api/matchmaking/queue", "alice", map[string]interface{}{"boardSize": 3})
	if code != http.StatusOK || again["status"] != "active_game" {
		t.Errorf("Expected active_game, got %d %v", code, again)
	}

	if code, _ := ts.do(http.MethodDelete, "/api/matchmaking/queue", "alice", nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 leaving a queue alice is not in, got %d", code)
	}
	if code, _ := ts.do(http.MethodPost, "/api/matchmaking/queue", "dave", map[string]interface{}{"boardSize": 9}); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for board size 9, got %d", code)
	}
}

func TestLeaveQueue(t *testing.T) {
	ts := newTestServer(t)

	ts.do(http.MethodPost, "/api/matchmaking/queue", "alice", map[string]interface{}{"boardSize": 4})
	if code, _ := ts.do(http.MethodDelete, "/api/matchmaking/queue", "alice", nil); code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", code)
	}
	if _, status := ts.do(http.MethodGet, "/api/matchmaking/queue", "alice", nil); status["totalCount"] != float64(0) {
		t.Errorf("Expected empty queue, got %v", status)
	}
}

func TestDirectChallenge(t *testing.T) {
	ts := newTestServer(t)

	// bob becomes known by making an authenticated request.
	ts.do(http.MethodGet, "/api/matchmaking/queue", "bob", nil)

	if code, _ := ts.do(http.MethodPost, "/api/matchmaking/challenge/ghost", "alice", map[string]interface{}{"boardSize": 3}); code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown target, got %d", code)
	}
	if code, _ := ts.do(http.MethodPost, "/api/matchmaking/challenge/alice", "alice", map[string]interface{}{"boardSize": 3}); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for self challenge, got %d", code)
	}

	code, game := ts.do(http.MethodPost, "/api/matchmaking/challenge/bob", "alice", map[string]interface{}{"boardSize": 5})
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d %v", code, game)
	}
	if game["boardSize"] != float64(5) || game["player2Id"] != "bob" {
		t.Errorf("Unexpected challenge game: %v", game)
	}
	if rows, _ := game["boardState"].([]interface{}); len(rows) != 5 {
		t.Errorf("Expected empty 5x5 board, got %v", game["boardState"])
	}

	if code, _ := ts.do(http.MethodPost, "/api/matchmaking/challenge/bob", "carol", map[string]interface{}{"boardSize": 3}); code != http.StatusConflict {
		t.Errorf("Expected 409 challenging a player already in a game, got %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/api/games", "alice", nil)

	resp, err := http.Get(ts.url + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), `arena_games_created_total{mode="vs_bot"} 1`) {
		t.Errorf("Expected bot game counter in metrics output")
	}
}

func TestAbandonThroughStatus(t *testing.T) {
	ts := newTestServer(t)

	ts.do(http.MethodPost, "/api/matchmaking/queue", "alice", map[string]interface{}{"boardSize": 3})
	_, matched := ts.do(http.MethodPost, "/api/matchmaking/queue", "bob", map[string]interface{}{"boardSize": 3})
	id := matched["game"].(map[string]interface{})["id"].(string)
	path := "/api/games/" + id + "/status"

	if code, _ := ts.do(http.MethodPut, path, "alice", map[string]interface{}{"status": "draw"}); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for status draw, got %d", code)
	}
	if code, _ := ts.do(http.MethodPut, path, "mallory", map[string]interface{}{"status": "abandoned"}); code != http.StatusForbidden {
		t.Errorf("Expected 403 for outsider, got %d", code)
	}

	code, game := ts.do(http.MethodPut, path, "bob", map[string]interface{}{"status": "abandoned"})
	if code != http.StatusOK || game["status"] != string(core.StatusAbandoned) {
		t.Fatalf("Expected abandoned, got %d %v", code, game)
	}
	if _, ok := game["winnerId"]; ok {
		t.Errorf("Expected no winner for an abandoned game, got %v", game["winnerId"])
	}
	if code, _ := ts.do(http.MethodPut, path, "alice", map[string]interface{}{"status": "finished"}); code != http.StatusConflict {
		t.Errorf("Expected 409 ending a game twice, got %d", code)
	}

	if code, _ := ts.do(http.MethodGet, "/api/games/active", "alice", nil); code != http.StatusNotFound {
		t.Errorf("Expected no active game after abandon, got %d", code)
	}
	if _, joined := ts.do(http.MethodPost, "/api/matchmaking/queue", "alice", map[string]interface{}{"boardSize": 3}); joined["status"] != "queued" {
		t.Errorf("Expected alice free to queue again, got %v", joined)
	}
}

func TestConcedeThroughStatus(t *testing.T) {
	ts := newTestServer(t)

	ts.do(http.MethodGet, "/api/matchmaking/queue", "bob", nil)
	_, game := ts.do(http.MethodPost, "/api/matchmaking/challenge/bob", "alice", map[string]interface{}{"boardSize": 3})

	code, ended := ts.do(http.MethodPut, "/api/games/"+game["id"].(string)+"/status", "alice", map[string]interface{}{"status": "finished"})
	if code != http.StatusOK || ended["status"] != string(core.StatusFinished) || ended["winnerId"] != "bob" {
		t.Errorf("Expected bob to win by concession, got %d %v", code, ended)
	}
}

func TestListGames(t *testing.T) {
	ts := newTestServer(t)

	_, first := ts.do(http.MethodPost, "/api/games", "alice", nil)
	ts.do(http.MethodPost, "/api/games/"+first["id"].(string)+"/moves", "alice", map[string]interface{}{
		"row": 0, "col": 0, "playerSymbol": "x",
	})
	ts.do(http.MethodPost, "/api/games/"+first["id"].(string)+"/surrender", "alice", nil)
	ts.do(http.MethodPost, "/api/games", "alice", nil)
	ts.do(http.MethodGet, "/api/matchmaking/queue", "bob", nil)
	ts.do(http.MethodPost, "/api/matchmaking/challenge/bob", "alice", map[string]interface{}{"boardSize": 4})
	ts.do(http.MethodPost, "/api/games", "carol", nil)

	tests := []struct {
		name  string
		query string
		games int
		total int
		pages int
	}{
		{"all", "", 3, 3, 1},
		{"pvp", "?gameType=pvp", 1, 1, 1},
		{"finished", "?status=finished", 1, 1, 1},
		{"waiting or finished", "?status=waiting&status=finished", 3, 3, 1},
		{"bot waiting", "?gameType=vs_bot&status=waiting", 1, 1, 1},
		{"first page", "?size=2", 2, 3, 2},
		{"second page", "?size=2&page=1", 1, 3, 2},
		{"past the end", "?size=2&page=5", 0, 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, page := ts.do(http.MethodGet, "/api/games"+tt.query, "alice", nil)
			if code != http.StatusOK {
				t.Fatalf("Expected 200, got %d %v", code, page)
			}
			games, _ := page["games"].([]interface{})
			if len(games) != tt.games {
				t.Errorf("Expected %d games, got %d", tt.games, len(games))
			}
			if page["totalElements"] != float64(tt.total) {
				t.Errorf("Expected %d total, got %v", tt.total, page["totalElements"])
			}
			if page["totalPages"] != float64(tt.pages) {
				t.Errorf("Expected %d pages, got %v", tt.pages, page["totalPages"])
			}
		})
	}

	_, finished := ts.do(http.MethodGet, "/api/games?status=finished", "alice", nil)
	games := finished["games"].([]interface{})
	if got := games[0].(map[string]interface{}); got["id"] != first["id"] || got["totalMoves"] != float64(2) {
		t.Errorf("Expected the surrendered game with 2 moves, got %v", got)
	}
}

func TestListGamesRejectsBadFilters(t *testing.T) {
	ts := newTestServer(t)

	for _, query := range []string{"?status=lost", "?gameType=chess", "?page=-1", "?size=0", "?size=101", "?page=x"} {
		if code, _ := ts.do(http.MethodGet, "/api/games"+query, "alice", nil); code != http.StatusBadRequest {
			t.Errorf("Expected 400 for %s, got %d", query, code)
		}
	}
}
