package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vovakirdan/xo-arena/internal/core"
)

// Entry is a player waiting to be matched on one board size.
type Entry struct {
	PlayerID   core.PlayerID
	BoardSize  int
	EnqueuedAt time.Time
}

// QueueStore holds the waiting lists. A player is in at most one list.
type QueueStore interface {
	Add(ctx context.Context, e Entry) error
	// Remove takes player out of whichever list holds them.
	Remove(ctx context.Context, player core.PlayerID) (bool, error)
	BoardSizeOf(ctx context.Context, player core.PlayerID) (int, bool, error)
	// Entries returns the list of size, oldest first.
	Entries(ctx context.Context, size int) ([]Entry, error)
	Len(ctx context.Context, size int) (int, error)
	// Expire removes and returns entries enqueued before cutoff.
	Expire(ctx context.Context, cutoff time.Time) ([]Entry, error)
}

// MemoryStore is an in-process QueueStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[core.PlayerID]Entry
}

// NewMemoryStore creates an empty in-process queue.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[core.PlayerID]Entry)}
}

func (s *MemoryStore) Add(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.PlayerID] = e
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, player core.PlayerID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[player]; !ok {
		return false, nil
	}
	delete(s.entries, player)
	return true, nil
}

func (s *MemoryStore) BoardSizeOf(_ context.Context, player core.PlayerID) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[player]
	return e.BoardSize, ok, nil
}

func (s *MemoryStore) Entries(_ context.Context, size int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.BoardSize == size {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *MemoryStore) Len(_ context.Context, size int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.BoardSize == size {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Expire(_ context.Context, cutoff time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for id, e := range s.entries {
		if e.EnqueuedAt.Before(cutoff) {
			out = append(out, e)
			delete(s.entries, id)
		}
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].EnqueuedAt.Equal(entries[j].EnqueuedAt) {
			return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})
}

// RedisStore keeps one sorted set per board size, scored by join time in
// milliseconds, plus a per-player key naming the board size.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a queue on client. ttl bounds how long the
// per-player key survives.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func queueKey(size int) string {
	return fmt.Sprintf("matchmaking:queue:%d", size)
}

func userKey(player core.PlayerID) string {
	return "matchmaking:user:" + string(player)
}

func (s *RedisStore) Add(ctx context.Context, e Entry) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, queueKey(e.BoardSize), redis.Z{
			Score:  float64(e.EnqueuedAt.UnixMilli()),
			Member: string(e.PlayerID),
		})
		pipe.Set(ctx, userKey(e.PlayerID), e.BoardSize, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("matchmaking: cannot enqueue %s: %w", e.PlayerID, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, player core.PlayerID) (bool, error) {
	var removed []*redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, size := range core.BoardSizes {
			removed = append(removed, pipe.ZRem(ctx, queueKey(size), string(player)))
		}
		pipe.Del(ctx, userKey(player))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("matchmaking: cannot dequeue %s: %w", player, err)
	}
	for _, cmd := range removed {
		if cmd.Val() > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *RedisStore) BoardSizeOf(ctx context.Context, player core.PlayerID) (int, bool, error) {
	v, err := s.client.Get(ctx, userKey(player)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("matchmaking: cannot look up %s: %w", player, err)
	}
	size, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("matchmaking: bad board size for %s: %w", player, err)
	}
	return size, true, nil
}

func (s *RedisStore) Entries(ctx context.Context, size int) ([]Entry, error) {
	zs, err := s.client.ZRangeWithScores(ctx, queueKey(size), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("matchmaking: cannot read queue %d: %w", size, err)
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		out = append(out, Entry{
			PlayerID:   core.PlayerID(fmt.Sprint(z.Member)),
			BoardSize:  size,
			EnqueuedAt: time.UnixMilli(int64(z.Score)),
		})
	}
	return out, nil
}

func (s *RedisStore) Len(ctx context.Context, size int) (int, error) {
	n, err := s.client.ZCard(ctx, queueKey(size)).Result()
	if err != nil {
		return 0, fmt.Errorf("matchmaking: cannot count queue %d: %w", size, err)
	}
	return int(n), nil
}

func (s *RedisStore) Expire(ctx context.Context, cutoff time.Time) ([]Entry, error) {
	upper := strconv.FormatInt(cutoff.UnixMilli()-1, 10)
	var out []Entry
	for _, size := range core.BoardSizes {
		zs, err := s.client.ZRangeByScoreWithScores(ctx, queueKey(size), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
		if err != nil {
			return out, fmt.Errorf("matchmaking: cannot scan queue %d: %w", size, err)
		}
		for _, z := range zs {
			player := core.PlayerID(fmt.Sprint(z.Member))
			if _, err := s.Remove(ctx, player); err != nil {
				return out, err
			}
			out = append(out, Entry{PlayerID: player, BoardSize: size, EnqueuedAt: time.UnixMilli(int64(z.Score))})
		}
	}
	return out, nil
}

var (
	_ QueueStore = (*MemoryStore)(nil)
	_ QueueStore = (*RedisStore)(nil)
	_ Locker     = (*MemoryLocker)(nil)
	_ Locker     = (*RedisLocker)(nil)
)
