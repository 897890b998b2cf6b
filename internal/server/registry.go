package server

import (
	"sync"

	"github.com/foxhuntgame/foxhunt/internal/game"
)

// identity is what a bound connection is known as for the rest of its
// life: resolved once at join or resync, then attached to every event
// the connection sends.
type identity struct {
	SessionID string
	PlayerID  string
	Username  string
	Team      game.Team
}

// Registry maps live connection IDs to player identity. It is in-memory
// only: a restart wipes it and clients recover through resync or rejoin.
// Events from unbound connections are answered with a stale_connection
// error rather than guessed at.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]identity
	players map[string]string // playerID → connID, latest bind wins
}

func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[string]identity),
		players: make(map[string]string),
	}
}

// Bind records the connection's identity, displacing any earlier
// connection bound to the same player.
func (r *Registry) Bind(connID string, id identity) {
	r.mu.Lock()
	r.conns[connID] = id
	r.players[id.PlayerID] = connID
	r.mu.Unlock()
}

func (r *Registry) Lookup(connID string) (identity, bool) {
	r.mu.RLock()
	id, ok := r.conns[connID]
	r.mu.RUnlock()
	return id, ok
}

// Unbind removes the connection's binding and reports what it was. The
// player index is cleared only if it still points at this connection,
// so a reconnect that re-bound the player first keeps its claim.
func (r *Registry) Unbind(connID string) (identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.conns[connID]
	if !ok {
		return identity{}, false
	}
	delete(r.conns, connID)
	if r.players[id.PlayerID] == connID {
		delete(r.players, id.PlayerID)
	}
	return id, true
}

// ConnByPlayer returns the connection currently bound to a player.
func (r *Registry) ConnByPlayer(playerID string) (string, bool) {
	r.mu.RLock()
	connID, ok := r.players[playerID]
	r.mu.RUnlock()
	return connID, ok
}
