package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/vovakirdan/xo-arena/internal/auth"
	"github.com/vovakirdan/xo-arena/internal/config"
	"github.com/vovakirdan/xo-arena/internal/core"
	"github.com/vovakirdan/xo-arena/internal/matchmaking"
	"github.com/vovakirdan/xo-arena/internal/multiplayer"
	"github.com/vovakirdan/xo-arena/internal/rules"
)

const (
	maxRequestBody  = 4 << 10
	defaultPageSize = 20
	maxPageSize     = 100
)

// gameLister is the read side of the store the request layer needs.
type gameLister interface {
	ActivePvPGame(ctx context.Context, player core.PlayerID) (*core.Game, error)
	ListGames(ctx context.Context, f core.GameFilter) ([]core.Game, int, error)
	CountMoves(ctx context.Context, id core.GameID) (int, error)
}

// api serves the REST request layer. Every handler runs behind
// Gatekeeper.Middleware, so the caller is always known.
type api struct {
	coord  *multiplayer.Coordinator
	queue  *matchmaking.Queue
	store  gameLister
	bot    config.BotConfig
	logger *log.Logger
}

type moveResponse struct {
	ID           int64         `json:"id"`
	PlayerID     core.PlayerID `json:"playerId,omitempty"`
	Row          int           `json:"row"`
	Col          int           `json:"col"`
	PlayerSymbol core.Symbol   `json:"playerSymbol"`
	MoveOrder    int           `json:"moveOrder"`
	CreatedAt    time.Time     `json:"createdAt"`
}

type gameResponse struct {
	ID                  core.GameID     `json:"id"`
	GameType            core.Mode       `json:"gameType"`
	BoardSize           int             `json:"boardSize"`
	Status              core.Status     `json:"status"`
	Player1ID           core.PlayerID   `json:"player1Id"`
	Player2ID           core.PlayerID   `json:"player2Id,omitempty"`
	BotDifficulty       core.Difficulty `json:"botDifficulty,omitempty"`
	CurrentPlayerSymbol core.Symbol     `json:"currentPlayerSymbol,omitempty"`
	WinnerID            core.PlayerID   `json:"winnerId,omitempty"`
	BoardState          [][]string      `json:"boardState,omitempty"`
	Moves               []moveResponse  `json:"moves,omitempty"`
	NextMoveAt          *time.Time      `json:"nextMoveAt,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	FinishedAt          *time.Time      `json:"finishedAt,omitempty"`
}

func newGameResponse(g *core.Game, board *core.Board) *gameResponse {
	resp := &gameResponse{
		ID:                  g.ID,
		GameType:            g.Mode,
		BoardSize:           g.BoardSize,
		Status:              g.Status,
		Player1ID:           g.Player1,
		Player2ID:           g.Player2,
		BotDifficulty:       g.BotDifficulty,
		CurrentPlayerSymbol: g.CurrentSymbol,
		WinnerID:            g.Winner,
		CreatedAt:           g.CreatedAt,
	}
	if board != nil {
		resp.BoardState = board.Rows()
	}
	if !g.FinishedAt.IsZero() {
		t := g.FinishedAt
		resp.FinishedAt = &t
	}
	return resp
}

func newMoveResponse(m core.Move) moveResponse {
	return moveResponse{
		ID:           m.ID,
		PlayerID:     m.PlayerID,
		Row:          m.Row,
		Col:          m.Col,
		PlayerSymbol: m.Symbol,
		MoveOrder:    m.Order,
		CreatedAt:    m.CreatedAt,
	}
}

func caller(r *http.Request) core.PlayerID {
	id, _ := auth.IdentityFrom(r.Context())
	return id.PlayerID
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// fail maps a domain error to an HTTP response.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	var moveErr *rules.MoveError
	switch {
	case errors.As(err, &moveErr):
		writeError(w, http.StatusUnprocessableEntity, moveErr.Code(), moveErr.Reason)
	case errors.Is(err, matchmaking.ErrInvalidBoardSize), errors.Is(err, multiplayer.ErrInvalidBoardSize):
		writeError(w, http.StatusBadRequest, "INVALID_BOARD_SIZE", "board size must be 3, 4 or 5")
	case errors.Is(err, multiplayer.ErrInvalidDifficulty):
		writeError(w, http.StatusBadRequest, "INVALID_DIFFICULTY", "difficulty must be easy, medium or hard")
	case errors.Is(err, matchmaking.ErrSelfChallenge):
		writeError(w, http.StatusBadRequest, "SELF_CHALLENGE", "cannot challenge yourself")
	case errors.Is(err, matchmaking.ErrTargetNotFound), errors.Is(err, core.ErrGameNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, multiplayer.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "NOT_PARTICIPANT", "not a participant of this game")
	case errors.Is(err, matchmaking.ErrActiveGameExists),
		errors.Is(err, matchmaking.ErrTargetUnavailable),
		errors.Is(err, matchmaking.ErrOperationInProgress),
		errors.Is(err, multiplayer.ErrGameNotActive),
		errors.Is(err, multiplayer.ErrWrongMode),
		errors.Is(err, multiplayer.ErrNoOpponent),
		errors.Is(err, multiplayer.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	default:
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

type boardSizeRequest struct {
	BoardSize int `json:"boardSize"`
}

type joinResponse struct {
	Status               string        `json:"status"`
	EstimatedWaitSeconds int           `json:"estimatedWaitSeconds,omitempty"`
	Game                 *gameResponse `json:"game,omitempty"`
}

func (a *api) joinQueue(w http.ResponseWriter, r *http.Request) {
	var req boardSizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := a.queue.Enqueue(r.Context(), caller(r), req.BoardSize)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	resp := joinResponse{
		Status:               res.Status.String(),
		EstimatedWaitSeconds: int(res.EstimatedWait / time.Second),
	}
	if res.Game != nil {
		resp.Game = newGameResponse(res.Game, nil)
	}
	status := http.StatusOK
	if res.Status == matchmaking.JoinMatched {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (a *api) leaveQueue(w http.ResponseWriter, r *http.Request) {
	removed, err := a.queue.Dequeue(r.Context(), caller(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "NOT_QUEUED", "player is not in the queue")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) queueStatus(w http.ResponseWriter, r *http.Request) {
	var size *int
	if v := r.URL.Query().Get("boardSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BOARD_SIZE", "boardSize must be a number")
			return
		}
		size = &n
	}
	players, err := a.queue.QueueStatus(r.Context(), size)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if players == nil {
		players = []matchmaking.PlayerStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"players":    players,
		"totalCount": len(players),
	})
}

func (a *api) challenge(w http.ResponseWriter, r *http.Request) {
	var req boardSizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	target := core.PlayerID(mux.Vars(r)["targetId"])
	g, err := a.queue.DirectChallenge(r.Context(), caller(r), target, req.BoardSize)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newGameResponse(g, core.NewBoard(g.BoardSize)))
}

type createGameRequest struct {
	BoardSize  int    `json:"boardSize"`
	Difficulty string `json:"botDifficulty"`
}

func (a *api) createBotGame(w http.ResponseWriter, r *http.Request) {
	req := createGameRequest{BoardSize: core.MinBoardSize}
	if !decodeBody(w, r, &req) {
		return
	}
	difficulty, err := a.bot.ResolveDifficulty(req.Difficulty)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DIFFICULTY", err.Error())
		return
	}
	g, err := a.coord.CreateBotGame(r.Context(), caller(r), req.BoardSize, difficulty)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newGameResponse(g, core.NewBoard(g.BoardSize)))
}

func (a *api) activeGame(w http.ResponseWriter, r *http.Request) {
	g, err := a.store.ActivePvPGame(r.Context(), caller(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no active game")
		return
	}
	writeJSON(w, http.StatusOK, newGameResponse(g, nil))
}

func (a *api) gameState(w http.ResponseWriter, r *http.Request) {
	view, err := a.coord.State(r.Context(), core.GameID(mux.Vars(r)["gameId"]))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !view.Game.IsParticipant(caller(r)) {
		a.fail(w, r, multiplayer.ErrNotParticipant)
		return
	}

	resp := newGameResponse(view.Game, view.Board)
	for _, m := range view.Moves {
		resp.Moves = append(resp.Moves, newMoveResponse(m))
	}
	if !view.NextMoveAt.IsZero() {
		t := view.NextMoveAt
		resp.NextMoveAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

type moveRequest struct {
	Row          *int   `json:"row"`
	Col          *int   `json:"col"`
	PlayerSymbol string `json:"playerSymbol"`
}

type moveResultResponse struct {
	Move       moveResponse  `json:"move"`
	BotMove    *moveResponse `json:"botMove,omitempty"`
	Game       *gameResponse `json:"game"`
	TotalMoves int           `json:"totalMoves"`
}

// makeMove plays a move in a vs_bot game. PvP moves go over the live
// connection only.
func (a *api) makeMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Row == nil || req.Col == nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "row and col are required")
		return
	}
	symbol, ok := core.ParseSymbol(req.PlayerSymbol)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "playerSymbol must be x or o")
		return
	}

	id := core.GameID(mux.Vars(r)["gameId"])
	res, err := a.coord.ProcessBotGameMove(r.Context(), id, caller(r), *req.Row, *req.Col, symbol)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	resp := moveResultResponse{
		Move:       newMoveResponse(res.Move),
		Game:       newGameResponse(res.Game, res.Board),
		TotalMoves: res.TotalMoves,
	}
	if res.BotMove != nil {
		bm := newMoveResponse(*res.BotMove)
		resp.BotMove = &bm
	}
	writeJSON(w, http.StatusCreated, resp)
}

type gameSummary struct {
	*gameResponse
	TotalMoves int `json:"totalMoves"`
}

type gamePage struct {
	Games         []gameSummary `json:"games"`
	TotalElements int           `json:"totalElements"`
	TotalPages    int           `json:"totalPages"`
	Page          int           `json:"page"`
	Size          int           `json:"size"`
}

func queryInt(r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

// listGames pages through the caller's games, newest first, optionally
// narrowed by status (repeatable) and gameType.
func (a *api) listGames(w http.ResponseWriter, r *http.Request) {
	f := core.GameFilter{Player: caller(r)}
	for _, v := range r.URL.Query()["status"] {
		st, ok := core.ParseStatus(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "INVALID_FILTER", fmt.Sprintf("unknown status %q", v))
			return
		}
		f.Statuses = append(f.Statuses, st)
	}
	if v := r.URL.Query().Get("gameType"); v != "" {
		mode, ok := core.ParseMode(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "INVALID_FILTER", fmt.Sprintf("unknown gameType %q", v))
			return
		}
		f.Mode = mode
	}
	page, ok := queryInt(r, "page", 0)
	if !ok || page < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", "page must be a non-negative number")
		return
	}
	size, ok := queryInt(r, "size", defaultPageSize)
	if !ok || size < 1 || size > maxPageSize {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", fmt.Sprintf("size must be between 1 and %d", maxPageSize))
		return
	}
	f.Limit, f.Offset = size, page*size

	games, total, err := a.store.ListGames(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := gamePage{
		Games:         make([]gameSummary, 0, len(games)),
		TotalElements: total,
		TotalPages:    (total + size - 1) / size,
		Page:          page,
		Size:          size,
	}
	for i := range games {
		n, err := a.store.CountMoves(r.Context(), games[i].ID)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		resp.Games = append(resp.Games, gameSummary{gameResponse: newGameResponse(&games[i], nil), TotalMoves: n})
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusRequest struct {
	Status string `json:"status"`
}

// updateStatus ends a game on the caller's behalf: "abandoned" calls the
// game off with no winner, "finished" concedes it to the opponent.
func (a *api) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := core.GameID(mux.Vars(r)["gameId"])

	var (
		g   *core.Game
		err error
	)
	switch st, _ := core.ParseStatus(req.Status); st {
	case core.StatusAbandoned:
		g, err = a.coord.Abandon(r.Context(), id, caller(r))
	case core.StatusFinished:
		g, err = a.coord.ProcessSurrender(r.Context(), id, caller(r))
	default:
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "status must be abandoned or finished")
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGameResponse(g, nil))
}

func (a *api) surrender(w http.ResponseWriter, r *http.Request) {
	g, err := a.coord.ProcessSurrender(r.Context(), core.GameID(mux.Vars(r)["gameId"]), caller(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGameResponse(g, nil))
}
