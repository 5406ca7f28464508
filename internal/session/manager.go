// Package session maps volatile transport connections to logical
// players. It is the only component that touches the network; the
// match state machine sees player IDs and narrow connectivity
// signals, never a connection. That separation is what makes
// reconnection safe.
package session

import (
	"sync"
	"time"

	"github.com/pellab/broadside/internal/obslog"
	"github.com/pellab/broadside/pkg/wire"
	"go.uber.org/zap"
)

// Conn is one live transport connection. Send must not block: the
// gateway backs it with a buffered channel and drops on overflow.
type Conn interface {
	Send(ev wire.Event)
	Close(reason string)
}

// MatchHooks is the narrow signal surface the session manager drives
// on the match registry.
type MatchHooks interface {
	CurrentMatch(playerID string) (string, bool)
	Players(matchID string) ([2]string, bool)
	PlayerDisconnected(matchID, playerID string, graceDeadline time.Time)
	PlayerReconnected(matchID, playerID string)
	ForfeitTimeout(matchID, playerID string)
	Snapshot(matchID, viewerID string) (*wire.StateSnapshot, bool)
}

type binding struct {
	conn     Conn
	lastSeen time.Time
}

// Manager owns the connection↔player bindings and the reconnection
// grace clocks. Hook calls never happen while the manager lock is
// held; the match layer may broadcast back into the manager.
type Manager struct {
	mu       sync.Mutex
	byPlayer map[string]*binding
	pending  map[string]uint64 // playerID → armed grace generation
	gen      uint64

	grace time.Duration
	hooks MatchHooks
}

func NewManager(grace time.Duration) *Manager {
	return &Manager{
		byPlayer: make(map[string]*binding),
		pending:  make(map[string]uint64),
		grace:    grace,
	}
}

// SetHooks wires the match registry; done post-construction because
// the registry broadcasts through this manager.
func (s *Manager) SetHooks(h MatchHooks) { s.hooks = h }

// Register binds a connection to a player. A previous connection for
// the same player is superseded; a pending grace clock is cancelled
// and, if the player sat in a live match, the match is told about the
// reconnect and the connection receives a full state snapshot.
func (s *Manager) Register(playerID string, c Conn) {
	s.mu.Lock()
	var stale Conn
	if old, ok := s.byPlayer[playerID]; ok {
		stale = old.conn
	}
	_, wasPending := s.pending[playerID]
	delete(s.pending, playerID) // invalidates any armed grace timer
	s.byPlayer[playerID] = &binding{conn: c, lastSeen: time.Now()}
	s.mu.Unlock()

	if stale != nil {
		stale.Close("superseded by a new connection")
	}

	matchID, live := s.hooks.CurrentMatch(playerID)
	if !live {
		return
	}
	if wasPending {
		s.hooks.PlayerReconnected(matchID, playerID)
	}
	if snap, ok := s.hooks.Snapshot(matchID, playerID); ok {
		c.Send(wire.Wrap(snap))
	}
	obslog.L().Info("session_bind",
		zap.String("player_id", playerID),
		zap.String("match_id", matchID),
		zap.Bool("rebind", wasPending),
	)
}

// Drop handles a transport-level disconnect. The match phase is left
// alone; a grace clock starts and only its uninterrupted expiry turns
// into a forfeit.
func (s *Manager) Drop(playerID string, c Conn) {
	s.mu.Lock()
	b, ok := s.byPlayer[playerID]
	if !ok || b.conn != c {
		// already superseded by a newer connection
		s.mu.Unlock()
		return
	}
	delete(s.byPlayer, playerID)
	s.mu.Unlock()

	matchID, live := s.hooks.CurrentMatch(playerID)
	if !live {
		return
	}

	s.mu.Lock()
	if _, rebound := s.byPlayer[playerID]; rebound {
		// A newer connection registered while the match lookup ran;
		// the player never left, so no grace clock starts.
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.pending[playerID] = gen
	s.mu.Unlock()

	deadline := time.Now().Add(s.grace)
	s.hooks.PlayerDisconnected(matchID, playerID, deadline)
	time.AfterFunc(s.grace, func() { s.graceExpired(playerID, matchID, gen) })
	obslog.L().Info("session_drop",
		zap.String("player_id", playerID),
		zap.String("match_id", matchID),
		zap.Time("grace_deadline", deadline),
	)
}

func (s *Manager) graceExpired(playerID, matchID string, gen uint64) {
	s.mu.Lock()
	current, ok := s.pending[playerID]
	if !ok || current != gen {
		s.mu.Unlock()
		obslog.L().Debug("grace_timer_discard",
			zap.String("player_id", playerID),
			zap.Uint64("armed_gen", gen),
		)
		return
	}
	delete(s.pending, playerID)
	s.mu.Unlock()

	s.hooks.ForfeitTimeout(matchID, playerID)
	obslog.L().Info("grace_expired",
		zap.String("player_id", playerID),
		zap.String("match_id", matchID),
	)
}

// Touch refreshes the player's lastSeen stamp.
func (s *Manager) Touch(playerID string) {
	s.mu.Lock()
	if b, ok := s.byPlayer[playerID]; ok {
		b.lastSeen = time.Now()
	}
	s.mu.Unlock()
}

// Connected reports the number of bound connections.
func (s *Manager) Connected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPlayer)
}

// Broadcast delivers an event to both players of a match. Events for
// a currently-disconnected player are dropped; the snapshot sent on
// rebind supersedes them.
func (s *Manager) Broadcast(matchID string, ev wire.Event) {
	players, ok := s.hooks.Players(matchID)
	if !ok {
		return
	}
	for _, p := range players {
		s.SendTo(matchID, p, ev)
	}
}

// SendTo delivers an event to one player of a match.
func (s *Manager) SendTo(_ string, playerID string, ev wire.Event) {
	s.mu.Lock()
	b, ok := s.byPlayer[playerID]
	s.mu.Unlock()
	if ok {
		b.conn.Send(ev)
	}
}
