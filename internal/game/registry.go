package game

import (
	"log/slog"
	"sync"
)

// Conn is the write side of one game connection. The transport layer
// provides an implementation whose WriteJSON is safe for concurrent
// callers.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

type regEntry struct {
	conn     Conn
	playerID string
}

// Binding is a user connection that has been resolved to its player
// persona.
type Binding struct {
	UserID   string
	PlayerID string
}

// Registry tracks live authenticated connections, at most one per
// user. All map access happens under the mutex; network writes happen
// on snapshots taken under it, never while holding it.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*regEntry
	log   *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{conns: make(map[string]*regEntry), log: log}
}

// Connect registers a connection for the user. A second connection for
// the same user replaces the first: the stale one is closed and its
// player binding is dropped.
func (r *Registry) Connect(userID string, conn Conn) {
	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = &regEntry{conn: conn}
	r.mu.Unlock()

	if prev != nil {
		r.log.Info("replacing stale connection", "user_id", userID)
		_ = prev.conn.Close()
	}
	r.broadcastPopulation()
}

// Disconnect removes the user's connection unconditionally. It is
// idempotent.
func (r *Registry) Disconnect(userID string) {
	r.mu.Lock()
	_, ok := r.conns[userID]
	delete(r.conns, userID)
	r.mu.Unlock()

	if ok {
		r.broadcastPopulation()
	}
}

// Release removes the mapping only if conn is still the registered
// connection for the user. The read loop of a replaced connection calls
// this after Connect has already installed the successor, and must not
// tear the successor down.
func (r *Registry) Release(userID string, conn Conn) {
	r.mu.Lock()
	entry, ok := r.conns[userID]
	if ok && entry.conn == conn {
		delete(r.conns, userID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		r.broadcastPopulation()
	}
}

// BindPlayer records the player persona acting through the user's
// connection. The first successful bind wins; later attempts with a
// different player are rejected. Returns false when the user has no
// live connection or the binding conflicts.
func (r *Registry) BindPlayer(userID, playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[userID]
	if !ok {
		return false
	}
	if entry.playerID != "" && entry.playerID != playerID {
		return false
	}
	entry.playerID = playerID
	return true
}

// SendTo delivers a message to one user. Messages for absent users are
// dropped silently: disconnection between lookup and delivery is an
// ordinary race, not an error.
func (r *Registry) SendTo(userID string, msg any) {
	r.mu.Lock()
	entry, ok := r.conns[userID]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := entry.conn.WriteJSON(msg); err != nil {
		r.log.Warn("send failed", "user_id", userID, "error", err)
	}
}

// Broadcast delivers a message to every connection except excludeUser.
func (r *Registry) Broadcast(msg any, excludeUser string) {
	r.mu.Lock()
	targets := make([]*regEntry, 0, len(r.conns))
	for userID, entry := range r.conns {
		if userID == excludeUser {
			continue
		}
		targets = append(targets, entry)
	}
	r.mu.Unlock()

	for _, entry := range targets {
		if err := entry.conn.WriteJSON(msg); err != nil {
			r.log.Warn("broadcast write failed", "error", err)
		}
	}
}

// Bindings snapshots every connection that has resolved its player.
func (r *Registry) Bindings() []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Binding, 0, len(r.conns))
	for userID, entry := range r.conns {
		if entry.playerID == "" {
			continue
		}
		out = append(out, Binding{UserID: userID, PlayerID: entry.playerID})
	}
	return out
}

// Count returns the connected population.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) broadcastPopulation() {
	r.Broadcast(GlobalState{ConnectedPlayers: r.Count()}, "")
}
