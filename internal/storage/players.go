package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/vovakirdan/xo-arena/internal/core"
)

// TouchPlayer records that a player has authenticated, creating the row on
// first sight.
func (s *Store) TouchPlayer(ctx context.Context, id core.PlayerID, username string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO players (id, username, first_seen, last_seen)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET username = excluded.username, last_seen = excluded.last_seen`),
		string(id), nullString(username), now, now,
	)
	if err != nil {
		return fmt.Errorf("storage: cannot record player: %w", err)
	}
	return nil
}

// PlayerExists reports whether a player has ever authenticated.
func (s *Store) PlayerExists(ctx context.Context, id core.PlayerID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM players WHERE id = ?`), string(id)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage: cannot query player: %w", err)
	}
	return n > 0, nil
}
