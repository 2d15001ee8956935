// Package matchmaking pairs waiting players into PvP games and handles
// direct challenges.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/xo-arena/internal/core"
	"github.com/vovakirdan/xo-arena/internal/metrics"
)

var (
	ErrInvalidBoardSize    = errors.New("matchmaking: invalid board size")
	ErrSelfChallenge       = errors.New("matchmaking: cannot challenge yourself")
	ErrActiveGameExists    = errors.New("matchmaking: player already has an active game")
	ErrTargetNotFound      = errors.New("matchmaking: challenged player not found")
	ErrTargetUnavailable   = errors.New("matchmaking: challenged player is not available")
	ErrOperationInProgress = errors.New("matchmaking: another operation is in progress, retry")
)

// Games is the game persistence the queue needs.
type Games interface {
	// ActivePvPGame returns the waiting or in-progress PvP game of player, or
	// nil when there is none.
	ActivePvPGame(ctx context.Context, player core.PlayerID) (*core.Game, error)
	CreateGame(ctx context.Context, g *core.Game) error
	PlayerExists(ctx context.Context, player core.PlayerID) (bool, error)
}

// Config holds queue timing.
type Config struct {
	LockTTL      time.Duration // Per-player lock
	BoardLockTTL time.Duration // Per-board-size pairing lock
	EntryTTL     time.Duration // How long a player may wait before being dropped
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LockTTL:      5 * time.Second,
		BoardLockTTL: 10 * time.Second,
		EntryTTL:     300 * time.Second,
	}
}

// JoinStatus is the outcome of Enqueue.
type JoinStatus int

const (
	JoinQueued JoinStatus = iota
	JoinAlreadyQueued
	JoinActiveGame
	JoinMatched
)

func (s JoinStatus) String() string {
	switch s {
	case JoinQueued:
		return "queued"
	case JoinAlreadyQueued:
		return "already_queued"
	case JoinActiveGame:
		return "active_game"
	case JoinMatched:
		return "matched"
	default:
		return "unknown"
	}
}

// JoinResult describes what Enqueue did.
type JoinResult struct {
	Status        JoinStatus
	EstimatedWait time.Duration // set for JoinQueued
	Game          *core.Game    // set for JoinMatched and JoinActiveGame
}

// Player states reported by QueueStatus.
const (
	StateWaiting = "waiting"
	StateMatched = "matched"
	StatePlaying = "playing"
)

// PlayerStatus is one row of QueueStatus.
type PlayerStatus struct {
	PlayerID   core.PlayerID `json:"playerId"`
	BoardSize  int           `json:"boardSize"`
	EnqueuedAt time.Time     `json:"enqueuedAt"`
	Status     string        `json:"status"`
}

// Queue is the matchmaking queue.
type Queue struct {
	cfg     Config
	store   QueueStore
	locks   Locker
	games   Games
	logger  *log.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewQueue creates a queue.
func NewQueue(cfg Config, store QueueStore, locks Locker, games Games) *Queue {
	return &Queue{
		cfg:    cfg,
		store:  store,
		locks:  locks,
		games:  games,
		logger: log.Default(),
		now:    time.Now,
	}
}

// SetLogger replaces the default logger.
func (q *Queue) SetLogger(l *log.Logger) {
	q.logger = l
}

// SetMetrics sets the optional metrics sink.
func (q *Queue) SetMetrics(m *metrics.Metrics) {
	q.metrics = m
}

// release frees a lock even when the caller's context is already done.
func (q *Queue) release(key, token string) {
	if err := q.locks.Release(context.Background(), key, token); err != nil {
		q.logger.Error("cannot release lock", "key", key, "err", err)
	}
}

// Enqueue puts player in the waiting list of size and tries to pair them.
func (q *Queue) Enqueue(ctx context.Context, player core.PlayerID, size int) (*JoinResult, error) {
	res, err := q.enqueue(ctx, player, size)
	if err == nil {
		q.metrics.QueueJoin(res.Status.String())
	}
	return res, err
}

func (q *Queue) enqueue(ctx context.Context, player core.PlayerID, size int) (*JoinResult, error) {
	if !core.ValidBoardSize(size) {
		return nil, ErrInvalidBoardSize
	}

	key := userLockKey(string(player))
	token, held, err := q.locks.Acquire(ctx, key, q.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !held {
		return &JoinResult{Status: JoinAlreadyQueued}, nil
	}
	defer q.release(key, token)

	if _, queued, err := q.store.BoardSizeOf(ctx, player); err != nil {
		return nil, err
	} else if queued {
		return &JoinResult{Status: JoinAlreadyQueued}, nil
	}

	active, err := q.games.ActivePvPGame(ctx, player)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return &JoinResult{Status: JoinActiveGame, Game: active}, nil
	}

	if err := q.store.Add(ctx, Entry{PlayerID: player, BoardSize: size, EnqueuedAt: q.now()}); err != nil {
		return nil, err
	}
	q.logger.Info("player queued", "player", player, "size", size)

	game, err := q.pair(ctx, size, player)
	if err != nil {
		// The entry is complete; a later scan retries the pairing.
		q.logger.Error("pairing failed", "player", player, "size", size, "err", err)
	}
	if game != nil {
		return &JoinResult{Status: JoinMatched, Game: game}, nil
	}

	n, err := q.store.Len(ctx, size)
	if err != nil {
		n = 1
	}
	return &JoinResult{Status: JoinQueued, EstimatedWait: estimateWait(n - 1)}, nil
}

// estimateWait guesses the wait from the number of other waiting players.
func estimateWait(others int) time.Duration {
	if others <= 0 {
		return 30 * time.Second
	}
	return time.Duration(max(5, others*5)) * time.Second
}

// MatchPending pairs whoever can be paired in every board size and returns
// the number of games created.
func (q *Queue) MatchPending(ctx context.Context) (int, error) {
	created := 0
	for _, size := range core.BoardSizes {
		for {
			game, err := q.pair(ctx, size, "")
			if err != nil {
				return created, err
			}
			if game == nil {
				break
			}
			created++
		}
	}
	return created, nil
}

// pair matches two waiting players of size under the board lock. When
// prefer is set, only pairings involving prefer are considered and the caller
// already holds prefer's user lock. Every other candidate is locked before it
// is checked, so a player cannot be challenged while pairing moves them from
// the queue into a game. A busy board lock is not an error: the holder is
// already pairing this list.
func (q *Queue) pair(ctx context.Context, size int, prefer core.PlayerID) (*core.Game, error) {
	key := boardLockKey(size)
	token, held, err := q.locks.Acquire(ctx, key, q.cfg.BoardLockTTL)
	if err != nil || !held {
		return nil, err
	}
	defer q.release(key, token)

	entries, err := q.store.Entries(ctx, size)
	if err != nil {
		return nil, err
	}

	var first *Entry
	if prefer != "" {
		for i := range entries {
			if entries[i].PlayerID == prefer {
				first = &entries[i]
				break
			}
		}
		if first == nil {
			return nil, nil
		}
	}

	var userLocks [][2]string
	defer func() {
		for _, l := range userLocks {
			q.release(l[0], l[1])
		}
	}()

	for i := range entries {
		e := entries[i]
		if e.PlayerID == prefer {
			continue
		}

		ukey := userLockKey(string(e.PlayerID))
		utoken, ok, err := q.locks.Acquire(ctx, ukey, q.cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Joining, leaving or being challenged right now.
			continue
		}

		active, err := q.games.ActivePvPGame(ctx, e.PlayerID)
		if err != nil {
			q.release(ukey, utoken)
			return nil, err
		}
		if active != nil {
			q.release(ukey, utoken)
			continue
		}
		userLocks = append(userLocks, [2]string{ukey, utoken})

		if first == nil {
			first = &entries[i]
			continue
		}
		return q.createMatch(ctx, *first, e)
	}
	return nil, nil
}

// createMatch removes both entries and creates the game. If any step fails
// the entries that were removed are put back.
func (q *Queue) createMatch(ctx context.Context, a, b Entry) (*core.Game, error) {
	if b.EnqueuedAt.Before(a.EnqueuedAt) {
		a, b = b, a
	}

	removedB, err := q.store.Remove(ctx, b.PlayerID)
	if err != nil || !removedB {
		return nil, err
	}
	removedA, err := q.store.Remove(ctx, a.PlayerID)
	if err != nil || !removedA {
		q.restore(b)
		return nil, err
	}

	now := q.now()
	g := &core.Game{
		BoardSize: a.BoardSize,
		Mode:      core.ModePvP,
		Player1:   a.PlayerID,
		Player2:   b.PlayerID,
		Status:    core.StatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.games.CreateGame(ctx, g); err != nil {
		q.restore(a)
		q.restore(b)
		return nil, fmt.Errorf("matchmaking: cannot create game: %w", err)
	}

	q.metrics.GameCreated(string(core.ModePvP))
	q.logger.Info("players matched", "game", g.ID, "player1", a.PlayerID, "player2", b.PlayerID, "size", a.BoardSize)
	return g, nil
}

func (q *Queue) restore(e Entry) {
	if err := q.store.Add(context.Background(), e); err != nil {
		q.logger.Error("cannot restore queue entry", "player", e.PlayerID, "err", err)
	}
}

// Dequeue takes player out of the queue and reports whether they were in it.
func (q *Queue) Dequeue(ctx context.Context, player core.PlayerID) (bool, error) {
	key := userLockKey(string(player))
	token, held, err := q.locks.Acquire(ctx, key, q.cfg.LockTTL)
	if err != nil {
		return false, err
	}
	if !held {
		return false, ErrOperationInProgress
	}
	defer q.release(key, token)

	removed, err := q.store.Remove(ctx, player)
	if err != nil {
		return false, err
	}
	if removed {
		q.logger.Info("player left queue", "player", player)
	}
	return removed, nil
}

// DirectChallenge creates a PvP game between challenger and target. Both
// user locks are held while availability is checked and the game created;
// pairing takes the same locks, so neither player can be matched meanwhile.
func (q *Queue) DirectChallenge(ctx context.Context, challenger, target core.PlayerID, size int) (*core.Game, error) {
	if challenger == target {
		return nil, ErrSelfChallenge
	}
	if !core.ValidBoardSize(size) {
		return nil, ErrInvalidBoardSize
	}

	ckey := userLockKey(string(challenger))
	ctoken, held, err := q.locks.Acquire(ctx, ckey, q.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, ErrOperationInProgress
	}
	defer q.release(ckey, ctoken)

	if active, err := q.games.ActivePvPGame(ctx, challenger); err != nil {
		return nil, err
	} else if active != nil {
		return nil, ErrActiveGameExists
	}

	exists, err := q.games.PlayerExists(ctx, target)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrTargetNotFound
	}

	tkey := userLockKey(string(target))
	ttoken, held, err := q.locks.Acquire(ctx, tkey, q.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, ErrTargetUnavailable
	}
	defer q.release(tkey, ttoken)

	if active, err := q.games.ActivePvPGame(ctx, target); err != nil {
		return nil, err
	} else if active != nil {
		return nil, ErrTargetUnavailable
	}
	if _, queued, err := q.store.BoardSizeOf(ctx, target); err != nil {
		return nil, err
	} else if queued {
		return nil, ErrTargetUnavailable
	}

	// The challenger stops waiting for a random opponent.
	entry, wasQueued, err := q.entryOf(ctx, challenger)
	if err != nil {
		return nil, err
	}
	if wasQueued {
		removed, err := q.store.Remove(ctx, challenger)
		if err != nil {
			return nil, err
		}
		if !removed {
			return nil, ErrOperationInProgress
		}
	}

	now := q.now()
	g := &core.Game{
		BoardSize: size,
		Mode:      core.ModePvP,
		Player1:   challenger,
		Player2:   target,
		Status:    core.StatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.games.CreateGame(ctx, g); err != nil {
		if wasQueued {
			q.restore(entry)
		}
		return nil, fmt.Errorf("matchmaking: cannot create game: %w", err)
	}

	q.metrics.GameCreated(string(core.ModePvP))
	q.logger.Info("challenge accepted", "game", g.ID, "challenger", challenger, "target", target, "size", size)
	return g, nil
}

func (q *Queue) entryOf(ctx context.Context, player core.PlayerID) (Entry, bool, error) {
	size, queued, err := q.store.BoardSizeOf(ctx, player)
	if err != nil || !queued {
		return Entry{}, false, err
	}
	entries, err := q.store.Entries(ctx, size)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.PlayerID == player {
			return e, true, nil
		}
	}
	return Entry{PlayerID: player, BoardSize: size, EnqueuedAt: q.now()}, true, nil
}

// QueueStatus lists queued players, optionally for one board size only.
func (q *Queue) QueueStatus(ctx context.Context, size *int) ([]PlayerStatus, error) {
	sizes := core.BoardSizes
	if size != nil {
		if !core.ValidBoardSize(*size) {
			return nil, ErrInvalidBoardSize
		}
		sizes = []int{*size}
	}

	var out []PlayerStatus
	for _, s := range sizes {
		entries, err := q.store.Entries(ctx, s)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			status := StateWaiting
			active, err := q.games.ActivePvPGame(ctx, e.PlayerID)
			if err != nil {
				return nil, err
			}
			if active != nil {
				status = StateMatched
				if active.Status == core.StatusInProgress {
					status = StatePlaying
				}
			}
			out = append(out, PlayerStatus{
				PlayerID:   e.PlayerID,
				BoardSize:  e.BoardSize,
				EnqueuedAt: e.EnqueuedAt,
				Status:     status,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BoardSize != out[j].BoardSize {
			return out[i].BoardSize < out[j].BoardSize
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

// ExpireStale drops players who waited longer than EntryTTL.
func (q *Queue) ExpireStale(ctx context.Context) (int, error) {
	expired, err := q.store.Expire(ctx, q.now().Add(-q.cfg.EntryTTL))
	for _, e := range expired {
		q.logger.Info("queue entry expired", "player", e.PlayerID, "size", e.BoardSize)
	}
	return len(expired), err
}
