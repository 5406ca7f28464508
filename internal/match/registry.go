package match

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pellab/broadside/internal/obslog"
	"github.com/pellab/broadside/internal/replay"
	"github.com/pellab/broadside/pkg/wire"
	"go.uber.org/zap"
)

// Registry is the process-wide table of live matches. Terminal
// matches stay resident for a short retention window to serve late
// reconnection queries, then get reaped.
type Registry struct {
	mu      sync.RWMutex
	matches map[string]*Match
	current map[string]string // playerID → live matchID

	cfg       Config
	sink      EventSink
	rec       *replay.Recorder
	results   ResultSink // may be nil
	retention time.Duration
	maxLive   int
}

func NewRegistry(cfg Config, sink EventSink, rec *replay.Recorder, results ResultSink, retention time.Duration, maxLive int) *Registry {
	return &Registry{
		matches:   make(map[string]*Match),
		current:   make(map[string]string),
		cfg:       cfg,
		sink:      sink,
		rec:       rec,
		results:   results,
		retention: retention,
		maxLive:   maxLive,
	}
}

func newMatchID() string { return "m-" + uuid.NewString()[:8] }

// Create pairs two players into a new match. A player with a live
// match cannot enter another one.
func (r *Registry) Create(player1, player2 string) (*Match, error) {
	r.mu.Lock()
	if r.maxLive > 0 && len(r.current)/2 >= r.maxLive {
		r.mu.Unlock()
		return nil, ErrCapacity
	}
	if _, busy := r.current[player1]; busy {
		r.mu.Unlock()
		return nil, ErrPlayerBusy
	}
	if _, busy := r.current[player2]; busy {
		r.mu.Unlock()
		return nil, ErrPlayerBusy
	}
	id := newMatchID()
	m := newMatch(id, player1, player2, r.cfg, r.sink, r.rec,
		func(sum Summary) { r.finalize(sum) },
		func() { r.removeNow(id, player1, player2) },
	)
	r.matches[id] = m
	r.current[player1] = id
	r.current[player2] = id
	r.mu.Unlock()

	m.start()
	return m, nil
}

// Get looks a match up by ID, retained terminal ones included.
func (r *Registry) Get(matchID string) (*Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[matchID]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return m, nil
}

// ByPlayer returns the player's live match, if any.
func (r *Registry) ByPlayer(playerID string) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.current[playerID]
	if !ok {
		return nil, false
	}
	m, ok := r.matches[id]
	return m, ok
}

// Players reports the two participants of a resident match.
// Membership is immutable, so no match lock is taken.
func (r *Registry) Players(matchID string) ([2]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[matchID]
	if !ok {
		return [2]string{}, false
	}
	return m.players, true
}

// CurrentMatch reports the player's live match ID, if any.
func (r *Registry) CurrentMatch(playerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.current[playerID]
	return id, ok
}

// Len counts resident matches, retained terminal ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}

// finalize runs on every terminal transition: the players become free
// to requeue, the summary goes to the persistence collaborator, and
// eviction is scheduled after the retention window.
func (r *Registry) finalize(sum Summary) {
	r.mu.Lock()
	delete(r.current, sum.Players[0])
	delete(r.current, sum.Players[1])
	r.mu.Unlock()

	r.emitResults(sum)

	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		delete(r.matches, sum.MatchID)
		r.mu.Unlock()
		obslog.L().Debug("match_evict", zap.String("match_id", sum.MatchID))
	})
}

// emitResults pushes the summary to the result/achievement
// collaborators. Failures here never touch gameplay state.
func (r *Registry) emitResults(sum Summary) {
	if r.results == nil || sum.Reason == wire.ReasonInternal {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.results.RecordMatchResult(ctx, sum.Players[0], sum.Players[1], sum.Winner); err != nil {
		obslog.L().Error("match_result_persist_error",
			zap.String("match_id", sum.MatchID),
			zap.Error(err),
		)
	}
	for _, p := range sum.Players {
		if err := r.results.SaveAchievementProgress(ctx, p, "matches_played", 1); err != nil {
			obslog.L().Error("achievement_persist_error",
				zap.String("player_id", p),
				zap.Error(err),
			)
		}
	}
	if sum.Winner != "" {
		if err := r.results.SaveAchievementProgress(ctx, sum.Winner, "wins", 1); err != nil {
			obslog.L().Error("achievement_persist_error",
				zap.String("player_id", sum.Winner),
				zap.Error(err),
			)
		}
	}
}

// removeNow evicts a cancelled match immediately; nothing was played,
// so there is no retention window to honour.
func (r *Registry) removeNow(matchID, player1, player2 string) {
	r.mu.Lock()
	delete(r.matches, matchID)
	if r.current[player1] == matchID {
		delete(r.current, player1)
	}
	if r.current[player2] == matchID {
		delete(r.current, player2)
	}
	r.mu.Unlock()
}

// The methods below are the narrow connectivity signal surface the
// session manager drives. Lookups release the registry lock before
// touching the match.

func (r *Registry) PlayerDisconnected(matchID, playerID string, graceDeadline time.Time) {
	if m, err := r.Get(matchID); err == nil {
		m.PlayerDisconnected(playerID, graceDeadline)
	}
}

func (r *Registry) PlayerReconnected(matchID, playerID string) {
	if m, err := r.Get(matchID); err == nil {
		m.PlayerReconnected(playerID)
	}
}

func (r *Registry) ForfeitTimeout(matchID, playerID string) {
	if m, err := r.Get(matchID); err == nil {
		m.ForfeitTimeout(playerID)
	}
}

func (r *Registry) Snapshot(matchID, viewerID string) (*wire.StateSnapshot, bool) {
	m, err := r.Get(matchID)
	if err != nil {
		return nil, false
	}
	snap, err := m.Snapshot(viewerID)
	if err != nil {
		return nil, false
	}
	return snap, true
}
