package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/xo-arena/internal/core"
)

const gameColumns = `id, board_size, mode, player1, player2, bot_difficulty, status,
	current_symbol, player1_symbol, winner, last_move_at, created_at, updated_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*core.Game, error) {
	var (
		g                                   core.Game
		player2, difficulty, current, first sql.NullString
		winner                              sql.NullString
		lastMove, created, updated, done    sql.NullInt64
	)
	if err := row.Scan(
		&g.ID,
		&g.BoardSize,
		&g.Mode,
		&g.Player1,
		&player2,
		&difficulty,
		&g.Status,
		&current,
		&first,
		&winner,
		&lastMove,
		&created,
		&updated,
		&done,
	); err != nil {
		return nil, err
	}

	g.Player2 = core.PlayerID(player2.String)
	g.BotDifficulty = core.Difficulty(difficulty.String)
	g.CurrentSymbol = core.Symbol(current.String)
	g.Player1Symbol = core.Symbol(first.String)
	g.Winner = core.PlayerID(winner.String)
	g.LastMoveAt = fromMillis(lastMove)
	g.CreatedAt = fromMillis(created)
	g.UpdatedAt = fromMillis(updated)
	g.FinishedAt = fromMillis(done)
	return &g, nil
}

// CreateGame inserts a new game. An empty ID is replaced by a fresh UUID.
func (s *Store) CreateGame(ctx context.Context, g *core.Game) error {
	if g.ID == "" {
		g.ID = core.GameID(uuid.NewString())
	}
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO games (`+gameColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(g.ID),
		g.BoardSize,
		string(g.Mode),
		string(g.Player1),
		nullString(string(g.Player2)),
		nullString(string(g.BotDifficulty)),
		string(g.Status),
		nullString(string(g.CurrentSymbol)),
		nullString(string(g.Player1Symbol)),
		nullString(string(g.Winner)),
		toMillis(g.LastMoveAt),
		toMillis(g.CreatedAt),
		toMillis(g.UpdatedAt),
		toMillis(g.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: cannot create game: %w", err)
	}
	return nil
}

// GameByID loads a game with its participants.
func (s *Store) GameByID(ctx context.Context, id core.GameID) (*core.Game, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+gameColumns+` FROM games WHERE id = ?`), string(id))

	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("storage: game %s: %w", id, core.ErrGameNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query game: %w", err)
	}
	return g, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) updateGame(ctx context.Context, ex execer, g *core.Game) error {
	g.UpdatedAt = time.Now().UTC()
	res, err := ex.ExecContext(ctx, s.rebind(
		`UPDATE games SET
			player2 = ?, status = ?, current_symbol = ?, player1_symbol = ?, winner = ?,
			last_move_at = ?, updated_at = ?, finished_at = ?
		 WHERE id = ?`),
		nullString(string(g.Player2)),
		string(g.Status),
		nullString(string(g.CurrentSymbol)),
		nullString(string(g.Player1Symbol)),
		nullString(string(g.Winner)),
		toMillis(g.LastMoveAt),
		toMillis(g.UpdatedAt),
		toMillis(g.FinishedAt),
		string(g.ID),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrGameNotFound
	}
	return nil
}

// SaveGame writes the mutable fields of a game.
func (s *Store) SaveGame(ctx context.Context, g *core.Game) error {
	if err := s.updateGame(ctx, s.db, g); err != nil {
		return fmt.Errorf("storage: cannot save game: %w", err)
	}
	return nil
}

// RecordMove inserts a move and updates its game in one transaction.
// The move's ID and CreatedAt are filled in on success.
func (s *Store) RecordMove(ctx context.Context, g *core.Game, m *core.Move) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: cannot begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	err = tx.QueryRowContext(ctx, s.rebind(
		`INSERT INTO moves (game_id, player_id, row_idx, col_idx, symbol, move_order, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`),
		string(m.GameID),
		nullString(string(m.PlayerID)),
		m.Row,
		m.Col,
		string(m.Symbol),
		m.Order,
		m.CreatedAt.UnixMilli(),
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("storage: cannot save move: %w", err)
	}

	if err := s.updateGame(ctx, tx, g); err != nil {
		return fmt.Errorf("storage: cannot save game: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: cannot commit move: %w", err)
	}
	return nil
}

// ListMoves returns a game's moves ordered by sequence number.
func (s *Store) ListMoves(ctx context.Context, id core.GameID) ([]core.Move, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, game_id, player_id, row_idx, col_idx, symbol, move_order, created_at
		 FROM moves
		 WHERE game_id = ?
		 ORDER BY move_order ASC`),
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query moves: %w", err)
	}
	defer rows.Close()

	var moves []core.Move
	for rows.Next() {
		var m core.Move
		var player sql.NullString
		var created sql.NullInt64
		if err := rows.Scan(&m.ID, &m.GameID, &player, &m.Row, &m.Col, &m.Symbol, &m.Order, &created); err != nil {
			return nil, fmt.Errorf("storage: cannot scan row: %w", err)
		}
		m.PlayerID = core.PlayerID(player.String)
		m.CreatedAt = fromMillis(created)
		moves = append(moves, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: row iteration error: %w", err)
	}
	return moves, nil
}

// NextMoveOrder returns the sequence number for the next move of a game.
func (s *Store) NextMoveOrder(ctx context.Context, id core.GameID) (int, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT MAX(move_order) FROM moves WHERE game_id = ?`), string(id)).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("storage: cannot query move order: %w", err)
	}
	return int(last.Int64) + 1, nil
}

// CountMoves returns the number of moves made in a game.
func (s *Store) CountMoves(ctx context.Context, id core.GameID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM moves WHERE game_id = ?`), string(id)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: cannot count moves: %w", err)
	}
	return n, nil
}

// ActivePvPGame returns the player's waiting or in-progress PvP game,
// or nil if there is none.
func (s *Store) ActivePvPGame(ctx context.Context, player core.PlayerID) (*core.Game, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+gameColumns+` FROM games
		 WHERE mode = ? AND status IN (?, ?) AND (player1 = ? OR player2 = ?)
		 ORDER BY created_at DESC
		 LIMIT 1`),
		string(core.ModePvP),
		string(core.StatusWaiting),
		string(core.StatusInProgress),
		string(player),
		string(player),
	)

	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query active game: %w", err)
	}
	return g, nil
}

// ListGames returns the games matching f, newest first, together with the
// number of matches before Limit and Offset apply.
func (s *Store) ListGames(ctx context.Context, f core.GameFilter) ([]core.Game, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Player != "" {
		where = append(where, "(player1 = ? OR player2 = ?)")
		args = append(args, string(f.Player), string(f.Player))
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, string(f.Mode))
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, f.CreatedBefore.UnixMilli())
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM games`+cond), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: cannot count games: %w", err)
	}

	query := `SELECT ` + gameColumns + ` FROM games` + cond + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, max(f.Offset, 0))
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: cannot query games: %w", err)
	}
	defer rows.Close()

	var games []core.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: cannot scan row: %w", err)
		}
		games = append(games, *g)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: row iteration error: %w", err)
	}
	return games, total, nil
}
