package multiplayer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/xo-arena/internal/bot"
	"github.com/vovakirdan/xo-arena/internal/core"
	"github.com/vovakirdan/xo-arena/internal/metrics"
	"github.com/vovakirdan/xo-arena/internal/rules"
	"github.com/vovakirdan/xo-arena/internal/scheduler"
)

// CoordinatorConfig holds configuration for the coordinator.
type CoordinatorConfig struct {
	TurnTimeout      time.Duration // Time the player to move has
	TickInterval     time.Duration // How often TIMER_UPDATE is pushed
	ReconnectWindow  time.Duration // Grace before a disconnected player forfeits
	StaleTimerSweep  time.Duration // How often timers of abandoned games are reclaimed
	UnstartedTimeout time.Duration // Unopened PvP games are abandoned after this; zero disables
}

// DefaultCoordinatorConfig returns sensible defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		TurnTimeout:      20 * time.Second,
		TickInterval:     time.Second,
		ReconnectWindow:  20 * time.Second,
		StaleTimerSweep:  60 * time.Second,
		UnstartedTimeout: 10 * time.Minute,
	}
}

// GameStore is the persistence the coordinator needs.
// This keeps the coordinator independent of the storage package.
type GameStore interface {
	GameByID(ctx context.Context, id core.GameID) (*core.Game, error)
	CreateGame(ctx context.Context, g *core.Game) error
	SaveGame(ctx context.Context, g *core.Game) error
	ListMoves(ctx context.Context, id core.GameID) ([]core.Move, error)
	NextMoveOrder(ctx context.Context, id core.GameID) (int, error)
	RecordMove(ctx context.Context, g *core.Game, m *core.Move) error
	CountMoves(ctx context.Context, id core.GameID) (int, error)
	ListGames(ctx context.Context, f core.GameFilter) ([]core.Game, int, error)
}

var (
	ErrNotParticipant    = errors.New("multiplayer: player is not a participant in this game")
	ErrGameNotActive     = errors.New("multiplayer: game is not active")
	ErrNoOpponent        = errors.New("multiplayer: game has no opponent yet")
	ErrWrongMode         = errors.New("multiplayer: operation not allowed for this game mode")
	ErrInvalidTransition = errors.New("multiplayer: invalid status transition")
	ErrInvalidBoardSize  = errors.New("multiplayer: invalid board size")
	ErrInvalidDifficulty = errors.New("multiplayer: invalid bot difficulty")
)

// MoveResult is the outcome of an accepted move.
type MoveResult struct {
	Game       *core.Game
	Move       core.Move
	BotMove    *core.Move // reply of the bot in vs_bot games
	Board      *core.Board
	TotalMoves int
	NextMoveAt time.Time // zero when no turn timer runs
}

// GameView is a snapshot of a game for read paths.
type GameView struct {
	Game       *core.Game
	Board      *core.Board
	Moves      []core.Move
	NextMoveAt time.Time
}

type graceKey struct {
	game   GameID
	player PlayerID
}

// Coordinator is the authoritative engine for live games. All state changes
// of one game run under that game's lock; persisted state is the source of
// truth and is reloaded for every operation.
type Coordinator struct {
	config   CoordinatorConfig
	store    GameStore
	sessions *SessionRegistry
	sched    scheduler.Scheduler
	logger   *log.Logger
	policy   *bot.Policy
	metrics  *metrics.Metrics // Optional, can be nil

	locks  *gameLocks
	timers *timerSet

	graceMu sync.Mutex
	grace   map[graceKey]scheduler.Task

	sweep     scheduler.Task
	unstarted scheduler.Task
}

// NewCoordinator creates a new coordinator.
func NewCoordinator(cfg CoordinatorConfig, store GameStore, sessions *SessionRegistry, sched scheduler.Scheduler) *Coordinator {
	return &Coordinator{
		config:   cfg,
		store:    store,
		sessions: sessions,
		sched:    sched,
		logger:   log.Default(),
		policy:   bot.NewPolicy(0),
		locks:    newGameLocks(),
		timers:   newTimerSet(),
		grace:    make(map[graceKey]scheduler.Task),
	}
}

// SetLogger replaces the default logger.
func (c *Coordinator) SetLogger(l *log.Logger) {
	c.logger = l
}

// SetPolicy replaces the bot policy.
func (c *Coordinator) SetPolicy(p *bot.Policy) {
	c.policy = p
}

// SetMetrics sets the optional metrics sink.
func (c *Coordinator) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// Sessions returns the registry of live connections.
func (c *Coordinator) Sessions() *SessionRegistry {
	return c.sessions
}

// Start schedules the periodic stale timer sweep and, when UnstartedTimeout
// is set, the check for matched games nobody opened.
func (c *Coordinator) Start() error {
	task, err := c.sched.Every(c.config.StaleTimerSweep, c.sweepStaleTimers)
	if err != nil {
		return fmt.Errorf("multiplayer: cannot schedule timer sweep: %w", err)
	}
	c.sweep = task

	if c.config.UnstartedTimeout > 0 {
		task, err := c.sched.Every(c.config.StaleTimerSweep, func() {
			n, err := c.AbandonUnstarted(context.Background())
			if err != nil {
				c.logger.Error("cannot abandon unstarted games", "err", err)
			}
			if n > 0 {
				c.logger.Info("abandoned unstarted games", "count", n)
			}
		})
		if err != nil {
			return fmt.Errorf("multiplayer: cannot schedule unstarted game check: %w", err)
		}
		c.unstarted = task
	}
	return nil
}

// Stop cancels all timers and closes every live connection.
func (c *Coordinator) Stop() {
	if c.sweep != nil {
		c.sweep.Cancel()
	}
	if c.unstarted != nil {
		c.unstarted.Cancel()
	}
	c.timers.stopAll()

	c.graceMu.Lock()
	for k, t := range c.grace {
		t.Cancel()
		delete(c.grace, k)
	}
	c.graceMu.Unlock()

	for _, id := range c.sessions.Games() {
		for _, h := range c.sessions.RemoveAll(id) {
			h.Close()
		}
	}
}

// CreateBotGame starts a vs_bot game for player. The human moves first.
func (c *Coordinator) CreateBotGame(ctx context.Context, player PlayerID, size int, difficulty core.Difficulty) (*core.Game, error) {
	if !core.ValidBoardSize(size) {
		return nil, ErrInvalidBoardSize
	}
	if _, ok := core.ParseDifficulty(string(difficulty)); !ok {
		return nil, ErrInvalidDifficulty
	}

	now := c.sched.Now()
	g := &core.Game{
		BoardSize:     size,
		Mode:          core.ModeVsBot,
		Player1:       player,
		BotDifficulty: difficulty,
		Status:        core.StatusWaiting,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.store.CreateGame(ctx, g); err != nil {
		return nil, err
	}

	c.metrics.GameCreated(string(core.ModeVsBot))
	c.logger.Info("bot game created", "game", g.ID, "player", player, "size", size, "difficulty", difficulty)
	return g, nil
}

// State returns the current view of a game.
func (c *Coordinator) State(ctx context.Context, id GameID) (*GameView, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	g, err := c.store.GameByID(ctx, id)
	if err != nil {
		return nil, err
	}
	moves, board, err := c.loadBoard(ctx, g)
	if err != nil {
		return nil, err
	}
	if m, err := c.catchUpBot(ctx, g, board, len(moves)); err != nil {
		return nil, err
	} else if m != nil {
		moves = append(moves, *m)
	}
	view := &GameView{Game: g, Board: board, Moves: moves}
	if d, ok := c.turnDeadline(id); ok {
		view.NextMoveAt = d
	}
	return view, nil
}

// Connect attaches handle as player's live connection to a game and sends
// the current state. An earlier connection of the same player is closed.
func (c *Coordinator) Connect(ctx context.Context, id GameID, player PlayerID, handle SessionHandle) error {
	unlock := c.locks.lock(id)
	defer unlock()

	g, err := c.store.GameByID(ctx, id)
	if err != nil {
		return err
	}
	if !g.IsParticipant(player) {
		return ErrNotParticipant
	}
	if !g.Status.IsActive() {
		return ErrGameNotActive
	}
	_, board, err := c.loadBoard(ctx, g)
	if err != nil {
		return err
	}

	if prev := c.sessions.Add(id, player, handle); prev != nil && prev.ID() != handle.ID() {
		prev.Close()
	}
	c.cancelGrace(graceKey{id, player})

	var next time.Time
	if g.Status == core.StatusInProgress && g.Mode == core.ModePvP {
		if g.CurrentSymbol == core.SymbolNone {
			c.logger.Error("game in progress without a current symbol", "game", id)
		} else if d, ok := c.turnDeadline(id); ok {
			next = d
		} else {
			next = c.startTurnTimer(g)
		}
	}

	handle.Send(GameUpdateEvent{
		GameID:              g.ID,
		Status:              g.Status,
		Winner:              winnerInfo(g),
		BoardState:          boardState(board),
		CurrentPlayerSymbol: symbolPtr(g.CurrentSymbol),
		NextMoveAt:          timePtr(next),
	})

	c.logger.Info("player connected", "game", id, "player", player, "session", handle.ID())
	return nil
}

// Disconnect detaches a closed connection. If it was still the player's
// current connection, the player has ReconnectWindow to come back.
func (c *Coordinator) Disconnect(id GameID, player PlayerID, session SessionID) {
	if !c.sessions.RemoveIf(id, player, session) {
		return
	}
	c.logger.Info("player disconnected", "game", id, "player", player, "session", session)

	task, err := c.sched.After(c.config.ReconnectWindow, func() {
		if err := c.ProcessDisconnectGraceExpiry(context.Background(), id, player); err != nil {
			c.logger.Error("disconnect forfeit failed", "game", id, "player", player, "err", err)
		}
	})
	if err != nil {
		c.logger.Error("cannot schedule reconnect window", "game", id, "player", player, "err", err)
		return
	}

	key := graceKey{id, player}
	c.graceMu.Lock()
	prev := c.grace[key]
	c.grace[key] = task
	c.graceMu.Unlock()
	if prev != nil {
		prev.Cancel()
	}
}

func (c *Coordinator) cancelGrace(key graceKey) {
	c.graceMu.Lock()
	t := c.grace[key]
	delete(c.grace, key)
	c.graceMu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

func (c *Coordinator) cancelGameGrace(id GameID) {
	c.graceMu.Lock()
	var tasks []scheduler.Task
	for k, t := range c.grace {
		if k.game == id {
			tasks = append(tasks, t)
			delete(c.grace, k)
		}
	}
	c.graceMu.Unlock()
	for _, t := range tasks {
		t.Cancel()
	}
}

// ProcessMove validates and applies a move from a live connection.
// A zero symbol means the player's own symbol, or x for the opening move.
func (c *Coordinator) ProcessMove(ctx context.Context, id GameID, player PlayerID, row, col int, symbol core.Symbol) (*MoveResult, error) {
	unlock := c.locks.lock(id)
	defer unlock()
	return c.observeMove(c.processMoveLocked(ctx, id, player, row, col, symbol))
}

// ProcessBotGameMove applies a move submitted over the request layer. Only
// vs_bot games accept moves this way; PvP moves go through the live
// connection.
func (c *Coordinator) ProcessBotGameMove(ctx context.Context, id GameID, player PlayerID, row, col int, symbol core.Symbol) (*MoveResult, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	g, err := c.store.GameByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Mode != core.ModeVsBot {
		return nil, ErrWrongMode
	}
	return c.observeMove(c.processMoveLocked(ctx, id, player, row, col, symbol))
}

func (c *Coordinator) observeMove(res *MoveResult, err error) (*MoveResult, error) {
	var me *rules.MoveError
	if errors.As(err, &me) {
		c.metrics.MoveRejected(me.Code())
	}
	return res, err
}

func (c *Coordinator) processMoveLocked(ctx context.Context, id GameID, player PlayerID, row, col int, symbol core.Symbol) (*MoveResult, error) {
	g, err := c.store.GameByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !g.IsParticipant(player) {
		return nil, ErrNotParticipant
	}

	own := g.SymbolOf(player)
	if symbol == core.SymbolNone {
		symbol = own
		if symbol == core.SymbolNone {
			symbol = core.SymbolX
		}
	}

	moves, board, err := c.loadBoard(ctx, g)
	if err != nil {
		return nil, err
	}
	if m, err := c.catchUpBot(ctx, g, board, len(moves)); err != nil {
		return nil, err
	} else if m != nil {
		moves = append(moves, *m)
	}

	if err := rules.ValidateMove(g, board, row, col, symbol); err != nil {
		if errors.Is(err, rules.ErrNoCurrentSymbol) {
			c.logger.Error("game in progress without a current symbol", "game", id)
		}
		return nil, err
	}
	if own != core.SymbolNone && own != symbol {
		return nil, rules.NewMoveError(rules.ViolationNotYourTurn, "it is not your turn")
	}
	if g.Mode == core.ModePvP {
		if d, ok := c.turnDeadline(id); ok && c.sched.Now().After(d) {
			return nil, rules.NewMoveError(rules.ViolationTimeout, "turn time expired")
		}
	}

	now := c.sched.Now()
	if g.Player1Symbol == core.SymbolNone {
		g.AssignSymbols(player, symbol)
	}
	if g.Status == core.StatusWaiting {
		g.Status = core.StatusInProgress
	}

	order, err := c.store.NextMoveOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	m := core.Move{
		GameID:    id,
		PlayerID:  player,
		Row:       row,
		Col:       col,
		Symbol:    symbol,
		Order:     order,
		CreatedAt: now,
	}
	board.Set(row, col, symbol)
	reason, ended := applyResult(g, board, symbol, player, now)

	if err := c.store.RecordMove(ctx, g, &m); err != nil {
		return nil, fmt.Errorf("multiplayer: cannot record move: %w", err)
	}
	c.metrics.MoveAccepted()
	c.logger.Debug("move accepted", "game", id, "player", player, "row", row, "col", col, "symbol", symbol)

	res := &MoveResult{Game: g, Move: m, Board: board, TotalMoves: len(moves) + 1}

	switch {
	case ended:
		c.stopTurnTimer(id)
		c.notifyMove(g, &m, board, time.Time{})
		c.announceEnd(g, board, res.TotalMoves, reason)

	case g.Mode == core.ModeVsBot:
		c.notifyMove(g, &m, board, time.Time{})
		botMove, reason, ended, err := c.playBot(ctx, g, board)
		if err != nil {
			return nil, err
		}
		res.BotMove = botMove
		res.TotalMoves++
		c.sessions.SendTo(id, g.Player1, OpponentMoveEvent{
			Row:                 botMove.Row,
			Col:                 botMove.Col,
			PlayerSymbol:        botMove.Symbol,
			BoardState:          boardState(board),
			CurrentPlayerSymbol: symbolPtr(g.CurrentSymbol),
		})
		if ended {
			c.announceEnd(g, board, res.TotalMoves, reason)
		}

	default:
		res.NextMoveAt = c.startTurnTimer(g)
		c.notifyMove(g, &m, board, res.NextMoveAt)
	}
	return res, nil
}

// playBot places the bot's reply on board and persists it.
func (c *Coordinator) playBot(ctx context.Context, g *core.Game, board *core.Board) (*core.Move, EndReason, bool, error) {
	symbol := g.CurrentSymbol
	cell, err := c.policy.Choose(board, symbol, g.BotDifficulty)
	if err != nil {
		return nil, 0, false, fmt.Errorf("multiplayer: bot cannot move: %w", err)
	}
	order, err := c.store.NextMoveOrder(ctx, g.ID)
	if err != nil {
		return nil, 0, false, err
	}

	now := c.sched.Now()
	m := &core.Move{
		GameID:    g.ID,
		Row:       cell.Row,
		Col:       cell.Col,
		Symbol:    symbol,
		Order:     order,
		CreatedAt: now,
	}
	board.Set(cell.Row, cell.Col, symbol)
	reason, ended := applyResult(g, board, symbol, "", now)

	if err := c.store.RecordMove(ctx, g, m); err != nil {
		return nil, 0, false, fmt.Errorf("multiplayer: cannot record bot move: %w", err)
	}
	c.metrics.MoveAccepted()
	c.logger.Debug("bot moved", "game", g.ID, "row", cell.Row, "col", cell.Col, "symbol", symbol)
	return m, reason, ended, nil
}

// catchUpBot plays the bot's turn when a vs_bot game was left waiting on it,
// which happens when recording the bot reply failed after the human move was
// stored. total is the number of moves already on board. Must be called with
// the game lock held.
func (c *Coordinator) catchUpBot(ctx context.Context, g *core.Game, board *core.Board, total int) (*core.Move, error) {
	if g.Mode != core.ModeVsBot || g.Status != core.StatusInProgress {
		return nil, nil
	}
	if g.CurrentSymbol == core.SymbolNone || g.CurrentSymbol == g.SymbolOf(g.Player1) {
		return nil, nil
	}

	c.logger.Warn("replaying missed bot turn", "game", g.ID, "symbol", g.CurrentSymbol)
	m, reason, ended, err := c.playBot(ctx, g, board)
	if err != nil {
		return nil, err
	}
	c.sessions.SendTo(g.ID, g.Player1, OpponentMoveEvent{
		Row:                 m.Row,
		Col:                 m.Col,
		PlayerSymbol:        m.Symbol,
		BoardState:          boardState(board),
		CurrentPlayerSymbol: symbolPtr(g.CurrentSymbol),
	})
	if ended {
		c.announceEnd(g, board, total+1, reason)
	}
	return m, nil
}

// applyResult updates g after mover placed symbol on board.
func applyResult(g *core.Game, board *core.Board, symbol core.Symbol, mover PlayerID, now time.Time) (EndReason, bool) {
	g.LastMoveAt = now
	switch rules.Evaluate(board, symbol) {
	case rules.Win:
		g.Status = core.StatusFinished
		g.Winner = mover
		g.CurrentSymbol = core.SymbolNone
		g.FinishedAt = now
		return EndReasonCompleted, true
	case rules.Draw:
		g.Status = core.StatusDraw
		g.CurrentSymbol = core.SymbolNone
		g.FinishedAt = now
		return EndReasonDraw, true
	default:
		g.CurrentSymbol = symbol.Opposite()
		return 0, false
	}
}

func (c *Coordinator) notifyMove(g *core.Game, m *core.Move, board *core.Board, next time.Time) {
	state := boardState(board)
	current := symbolPtr(g.CurrentSymbol)

	c.sessions.SendTo(g.ID, m.PlayerID, MoveAcceptedEvent{
		MoveID:              m.ID,
		Row:                 m.Row,
		Col:                 m.Col,
		PlayerSymbol:        m.Symbol,
		BoardState:          state,
		CurrentPlayerSymbol: current,
		NextMoveAt:          timePtr(next),
	})
	c.sessions.SendToOthers(g.ID, m.PlayerID, OpponentMoveEvent{
		Row:                 m.Row,
		Col:                 m.Col,
		PlayerSymbol:        m.Symbol,
		BoardState:          state,
		CurrentPlayerSymbol: current,
		NextMoveAt:          timePtr(next),
	})
}

// ProcessSurrender ends the game with the opponent of player as winner. In a
// vs_bot game the bot wins.
func (c *Coordinator) ProcessSurrender(ctx context.Context, id GameID, player PlayerID) (*core.Game, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	g, err := c.store.GameByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !g.IsParticipant(player) {
		return nil, ErrNotParticipant
	}
	if !g.Status.IsActive() {
		return nil, ErrGameNotActive
	}
	winner := g.Opponent(player)
	if g.Mode == core.ModePvP && winner == "" {
		return nil, ErrNoOpponent
	}

	c.logger.Info("player surrendered", "game", id, "player", player)
	if err := c.finish(ctx, g, core.StatusFinished, winner, EndReasonSurrender); err != nil {
		return nil, err
	}
	return g, nil
}

// Abandon calls off an active game on behalf of player. Nobody wins.
func (c *Coordinator) Abandon(ctx context.Context, id GameID, player PlayerID) (*core.Game, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	g, err := c.store.GameByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !g.IsParticipant(player) {
		return nil, ErrNotParticipant
	}
	if !g.Status.IsActive() {
		return nil, ErrGameNotActive
	}

	c.logger.Info("game abandoned", "game", id, "player", player)
	if err := c.finish(ctx, g, core.StatusAbandoned, "", EndReasonAbandoned); err != nil {
		return nil, err
	}
	return g, nil
}

// AbandonUnstarted abandons PvP games still waiting for their first move
// after UnstartedTimeout, so matched players who never showed up are free to
// queue again. It returns the number of games abandoned.
func (c *Coordinator) AbandonUnstarted(ctx context.Context) (int, error) {
	if c.config.UnstartedTimeout <= 0 {
		return 0, nil
	}
	games, _, err := c.store.ListGames(ctx, core.GameFilter{
		Statuses:      []core.Status{core.StatusWaiting},
		Mode:          core.ModePvP,
		CreatedBefore: c.sched.Now().Add(-c.config.UnstartedTimeout),
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, stale := range games {
		done, err := c.abandonIfWaiting(ctx, stale.ID)
		if err != nil {
			return n, err
		}
		if done {
			n++
		}
	}
	return n, nil
}

func (c *Coordinator) abandonIfWaiting(ctx context.Context, id GameID) (bool, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	g, err := c.store.GameByID(ctx, id)
	if err != nil {
		return false, err
	}
	// The first move may have landed since the listing.
	if g.Status != core.StatusWaiting {
		return false, nil
	}
	c.logger.Info("game never started", "game", id, "created", g.CreatedAt)
	if err := c.finish(ctx, g, core.StatusAbandoned, "", EndReasonAbandoned); err != nil {
		return false, err
	}
	return true, nil
}

// ProcessTimeout forfeits the player to move. It does nothing unless the
// game is still in progress.
func (c *Coordinator) ProcessTimeout(ctx context.Context, id GameID) error {
	unlock := c.locks.lock(id)
	defer unlock()
	return c.processTimeoutLocked(ctx, id)
}

func (c *Coordinator) processTimeoutLocked(ctx context.Context, id GameID) error {
	g, err := c.store.GameByID(ctx, id)
	if err != nil {
		return err
	}
	if g.Status != core.StatusInProgress {
		c.stopTurnTimer(id)
		return nil
	}
	if g.CurrentSymbol == core.SymbolNone {
		c.logger.Error("game in progress without a current symbol", "game", id)
		c.stopTurnTimer(id)
		return rules.ErrNoCurrentSymbol
	}

	loser := g.PlayerWithSymbol(g.CurrentSymbol)
	c.logger.Info("turn timed out", "game", id, "player", loser, "symbol", g.CurrentSymbol)
	return c.finish(ctx, g, core.StatusFinished, g.Opponent(loser), EndReasonTimeout)
}

// ProcessDisconnectGraceExpiry forfeits player if they have not reconnected
// and the game is still in progress.
func (c *Coordinator) ProcessDisconnectGraceExpiry(ctx context.Context, id GameID, player PlayerID) error {
	unlock := c.locks.lock(id)
	defer unlock()

	c.graceMu.Lock()
	delete(c.grace, graceKey{id, player})
	c.graceMu.Unlock()

	if _, ok := c.sessions.Handle(id, player); ok {
		return nil
	}
	g, err := c.store.GameByID(ctx, id)
	if err != nil {
		return err
	}
	if g.Status != core.StatusInProgress {
		return nil
	}

	c.logger.Info("player did not reconnect", "game", id, "player", player)
	return c.finish(ctx, g, core.StatusFinished, g.Opponent(player), EndReasonDisconnect)
}

// finish moves g to a terminal status, persists it and notifies both
// participants. Must be called with the game lock held.
func (c *Coordinator) finish(ctx context.Context, g *core.Game, status core.Status, winner PlayerID, reason EndReason) error {
	if !g.Status.CanTransition(status) {
		c.logger.Error("refusing status transition", "game", g.ID, "from", g.Status, "to", status)
		return ErrInvalidTransition
	}
	moves, board, err := c.loadBoard(ctx, g)
	if err != nil {
		return err
	}

	now := c.sched.Now()
	g.Status = status
	g.Winner = winner
	g.CurrentSymbol = core.SymbolNone
	g.FinishedAt = now
	if err := c.store.SaveGame(ctx, g); err != nil {
		return err
	}

	c.stopTurnTimer(g.ID)
	c.announceEnd(g, board, len(moves), reason)
	return nil
}

// announceEnd sends GAME_ENDED to every connection of g and closes them.
func (c *Coordinator) announceEnd(g *core.Game, board *core.Board, total int, reason EndReason) {
	c.sessions.Broadcast(g.ID, GameEndedEvent{
		GameID:     g.ID,
		Status:     g.Status,
		Winner:     winnerInfo(g),
		BoardState: boardState(board),
		TotalMoves: total,
		Reason:     reason.String(),
	})
	for _, h := range c.sessions.RemoveAll(g.ID) {
		h.Close()
	}
	c.cancelGameGrace(g.ID)

	c.metrics.GameEnded(string(g.Status), reason.String())
	c.logger.Info("game ended", "game", g.ID, "status", g.Status, "winner", g.Winner, "reason", reason, "moves", total)
}

func (c *Coordinator) loadBoard(ctx context.Context, g *core.Game) ([]core.Move, *core.Board, error) {
	moves, err := c.store.ListMoves(ctx, g.ID)
	if err != nil {
		return nil, nil, err
	}
	board, err := core.BoardFromMoves(g.BoardSize, moves)
	if err != nil {
		return nil, nil, fmt.Errorf("multiplayer: corrupt move history for game %s: %w", g.ID, err)
	}
	return moves, board, nil
}
