// Package replay keeps an append-only event log per match and hands
// the sealed aggregate to the persistence collaborator. Recording
// never fails the caller's operation: a persistence outage must not
// break live gameplay.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/pellab/broadside/internal/board"
	"github.com/pellab/broadside/internal/obslog"
	"go.uber.org/zap"
)

// EventKind tags one log entry. Each kind carries its own explicit
// struct; exactly one of the payload pointers is set.
type EventKind string

const (
	KindPlacement EventKind = "placement"
	KindMove      EventKind = "move"
	KindChat      EventKind = "chat"
	KindPhase     EventKind = "phase"
)

type PlacementEvent struct {
	PlayerID string           `json:"player_id"`
	Fleet    []board.ShipSpec `json:"fleet"`
}

type MoveEvent struct {
	By        string `json:"by"`
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	Outcome   string `json:"outcome,omitempty"` // hit | miss
	SunkShip  string `json:"sunk_ship,omitempty"`
	Forfeited bool   `json:"forfeited,omitempty"` // synthetic turn-timeout entry
}

type ChatEvent struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type PhaseEvent struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Event is one timestamped, write-once log entry.
type Event struct {
	Seq       uint64          `json:"seq"`
	At        time.Time       `json:"at"`
	Kind      EventKind       `json:"kind"`
	Placement *PlacementEvent `json:"placement,omitempty"`
	Move      *MoveEvent      `json:"move,omitempty"`
	Chat      *ChatEvent      `json:"chat,omitempty"`
	Phase     *PhaseEvent     `json:"phase,omitempty"`
}

// Record is the sealed aggregate for one completed match.
type Record struct {
	MatchID    string    `json:"match_id"`
	Players    [2]string `json:"players"`
	Winner     string    `json:"winner,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Abandoned  bool      `json:"abandoned,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	RecordedAt time.Time `json:"recorded_at"`
	Events     []Event   `json:"events"`
}

// Saver persists a sealed record. Implemented by the store package.
type Saver interface {
	SaveReplay(ctx context.Context, rec *Record) error
}

type log struct {
	players   [2]string
	startedAt time.Time
	events    []Event
	sealed    bool
}

// Recorder owns the open logs for all live matches.
type Recorder struct {
	mu    sync.Mutex
	logs  map[string]*log
	saver Saver // nil saver: sealed records are dropped after logging
}

func NewRecorder(saver Saver) *Recorder {
	return &Recorder{logs: make(map[string]*log), saver: saver}
}

// Open starts a log for a new match.
func (r *Recorder) Open(matchID string, players [2]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.logs[matchID]; ok {
		return
	}
	r.logs[matchID] = &log{players: players, startedAt: time.Now()}
}

// Record appends one event. Failures (unknown or sealed match) are
// logged and swallowed; the caller's operation proceeds.
func (r *Recorder) Record(matchID string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[matchID]
	if !ok || l.sealed {
		obslog.L().Warn("replay_record_dropped",
			zap.String("match_id", matchID),
			zap.String("kind", string(ev.Kind)),
			zap.Bool("known", ok),
		)
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	l.events = append(l.events, ev)
}

// Seal finalizes the log and hands it to the persistence collaborator.
// Idempotent: duplicate calls are no-ops. The save itself runs in the
// background; failures are logged, never propagated.
func (r *Recorder) Seal(matchID, winner, reason string, abandoned bool) {
	r.mu.Lock()
	l, ok := r.logs[matchID]
	if !ok || l.sealed {
		r.mu.Unlock()
		return
	}
	l.sealed = true
	rec := &Record{
		MatchID:    matchID,
		Players:    l.players,
		Winner:     winner,
		Reason:     reason,
		Abandoned:  abandoned,
		StartedAt:  l.startedAt,
		EndedAt:    time.Now(),
		RecordedAt: time.Now(),
		Events:     append([]Event(nil), l.events...),
	}
	delete(r.logs, matchID)
	saver := r.saver
	r.mu.Unlock()

	if saver == nil {
		obslog.L().Warn("replay_seal_unpersisted", zap.String("match_id", matchID))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := saver.SaveReplay(ctx, rec); err != nil {
			obslog.L().Error("replay_save_error",
				zap.String("match_id", matchID),
				zap.Int("events", len(rec.Events)),
				zap.Error(err),
			)
			return
		}
		obslog.L().Info("replay_saved",
			zap.String("match_id", matchID),
			zap.Int("events", len(rec.Events)),
			zap.String("reason", reason),
		)
	}()
}

// Discard drops an open log without persisting: administrative cancel
// before any moves were played.
func (r *Recorder) Discard(matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.logs, matchID)
}

// Len reports the number of open (unsealed) logs.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs)
}
