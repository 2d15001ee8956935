package multiplayer

import "sync"

// gameLocks serializes work on a single game. Entries are reference counted
// and dropped once nobody holds or waits for them.
type gameLocks struct {
	mu    sync.Mutex
	locks map[GameID]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newGameLocks() *gameLocks {
	return &gameLocks{locks: make(map[GameID]*refLock)}
}

// lock acquires the lock of id and returns the function releasing it.
func (l *gameLocks) lock(id GameID) func() {
	l.mu.Lock()
	rl := l.locks[id]
	if rl == nil {
		rl = &refLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
