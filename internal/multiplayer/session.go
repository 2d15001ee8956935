package multiplayer

import "sync"

// SessionHandle is the transport-neutral interface for communicating with a
// connected player. It lets the coordinator push events without depending on
// the websocket layer.
type SessionHandle interface {
	// ID returns the unique session identifier.
	ID() SessionID

	// Send queues an event for the session.
	// Must be non-blocking; implementations should use buffered channels.
	Send(evt SessionEvent)

	// Close ends the session. Safe to call multiple times.
	Close()

	// Done returns a channel that closes when the session ends.
	Done() <-chan struct{}
}

// ChannelSession is the outbound side of one live connection. The
// coordinator and registry Send into it from any goroutine; the connection's
// write pump is the only reader of Events. A slow client never blocks a
// broadcast: once the buffer is full the stalest event gives way to the new
// one, which keeps the latest GAME_STATE or GAME_ENDED deliverable.
type ChannelSession struct {
	id       SessionID
	events   chan SessionEvent
	done     chan struct{}
	doneOnce sync.Once
}

// NewChannelSession returns a session whose pump may fall behind by up to
// bufferSize events. Non-positive sizes fall back to 64.
func NewChannelSession(id SessionID, bufferSize int) *ChannelSession {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &ChannelSession{
		id:     id,
		events: make(chan SessionEvent, bufferSize),
		done:   make(chan struct{}),
	}
}

func (s *ChannelSession) ID() SessionID {
	return s.id
}

// Send hands evt to the write pump. After Close it is a no-op.
func (s *ChannelSession) Send(evt SessionEvent) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.events <- evt:
		return
	default:
	}
	// Full: evict the stalest event and retry once.
	select {
	case <-s.events:
	default:
	}
	select {
	case s.events <- evt:
	default:
	}
}

// Events is drained by the write pump, which encodes each event as one
// websocket text frame.
func (s *ChannelSession) Events() <-chan SessionEvent {
	return s.events
}

// Done closes when the game ends or the registry drops the connection. The
// pump then writes whatever is still queued, sends a close frame and exits.
func (s *ChannelSession) Done() <-chan struct{} {
	return s.done
}

// Close stops further sends. Events already queued stay readable so the pump
// can flush them. Safe to call more than once.
func (s *ChannelSession) Close() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

// gameSessions holds the connections of one game. A bucket marked dead has
// been unlinked from the registry and must not receive new handles.
type gameSessions struct {
	mu      sync.RWMutex
	players map[PlayerID]SessionHandle
	dead    bool
}

// SessionRegistry maps a game to the live connection of each participant.
// Locking is per game; the registry lock only guards the bucket map.
type SessionRegistry struct {
	mu    sync.RWMutex
	games map[GameID]*gameSessions
}

// NewSessionRegistry creates a new session registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		games: make(map[GameID]*gameSessions),
	}
}

func (r *SessionRegistry) bucket(game GameID, create bool) *gameSessions {
	r.mu.RLock()
	b := r.games[game]
	r.mu.RUnlock()
	if b != nil || !create {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b = r.games[game]; b == nil {
		b = &gameSessions{players: make(map[PlayerID]SessionHandle)}
		r.games[game] = b
	}
	return b
}

func (r *SessionRegistry) unlink(game GameID, b *gameSessions) {
	r.mu.Lock()
	if r.games[game] == b {
		delete(r.games, game)
	}
	r.mu.Unlock()
}

// Add attaches handle as the connection of player in game and returns the
// handle it replaced, if any.
func (r *SessionRegistry) Add(game GameID, player PlayerID, handle SessionHandle) SessionHandle {
	for {
		b := r.bucket(game, true)
		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			r.unlink(game, b)
			continue
		}
		prev := b.players[player]
		b.players[player] = handle
		b.mu.Unlock()
		return prev
	}
}

// Remove detaches the connection of player in game.
func (r *SessionRegistry) Remove(game GameID, player PlayerID) {
	r.remove(game, player, "")
}

// RemoveIf detaches the connection of player only if it is still the session
// identified by id. It reports whether anything was removed.
func (r *SessionRegistry) RemoveIf(game GameID, player PlayerID, id SessionID) bool {
	return r.remove(game, player, id)
}

func (r *SessionRegistry) remove(game GameID, player PlayerID, id SessionID) bool {
	b := r.bucket(game, false)
	if b == nil {
		return false
	}

	b.mu.Lock()
	h, ok := b.players[player]
	if !ok || (id != "" && h.ID() != id) {
		b.mu.Unlock()
		return false
	}
	delete(b.players, player)
	empty := len(b.players) == 0
	if empty {
		b.dead = true
	}
	b.mu.Unlock()

	if empty {
		r.unlink(game, b)
	}
	return true
}

// RemoveAll detaches every connection of game and returns them.
func (r *SessionRegistry) RemoveAll(game GameID) map[PlayerID]SessionHandle {
	b := r.bucket(game, false)
	if b == nil {
		return nil
	}

	b.mu.Lock()
	handles := b.players
	b.players = make(map[PlayerID]SessionHandle)
	b.dead = true
	b.mu.Unlock()

	r.unlink(game, b)
	return handles
}

// Get returns a snapshot of the connections of game.
func (r *SessionRegistry) Get(game GameID) map[PlayerID]SessionHandle {
	b := r.bucket(game, false)
	if b == nil {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[PlayerID]SessionHandle, len(b.players))
	for p, h := range b.players {
		out[p] = h
	}
	return out
}

// Handle returns the connection of player in game.
func (r *SessionRegistry) Handle(game GameID, player PlayerID) (SessionHandle, bool) {
	b := r.bucket(game, false)
	if b == nil {
		return nil, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.players[player]
	return h, ok
}

// Games returns the games that have at least one connection.
func (r *SessionRegistry) Games() []GameID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]GameID, 0, len(r.games))
	for id := range r.games {
		out = append(out, id)
	}
	return out
}

// Count returns the number of registered connections.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	buckets := make([]*gameSessions, 0, len(r.games))
	for _, b := range r.games {
		buckets = append(buckets, b)
	}
	r.mu.RUnlock()

	n := 0
	for _, b := range buckets {
		b.mu.RLock()
		n += len(b.players)
		b.mu.RUnlock()
	}
	return n
}

// SendTo delivers evt to player's connection in game. It reports whether the
// player was connected.
func (r *SessionRegistry) SendTo(game GameID, player PlayerID, evt SessionEvent) bool {
	h, ok := r.Handle(game, player)
	if !ok {
		return false
	}
	h.Send(evt)
	return true
}

// SendToOthers delivers evt to every connection of game except player's.
func (r *SessionRegistry) SendToOthers(game GameID, player PlayerID, evt SessionEvent) {
	for p, h := range r.Get(game) {
		if p != player {
			h.Send(evt)
		}
	}
}

// Broadcast delivers evt to every connection of game.
func (r *SessionRegistry) Broadcast(game GameID, evt SessionEvent) {
	for _, h := range r.Get(game) {
		h.Send(evt)
	}
}
