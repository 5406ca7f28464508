package match

import (
	"context"
	"errors"
	"time"

	"github.com/pellab/broadside/internal/ruleset"
	"github.com/pellab/broadside/pkg/wire"
)

// Phase is the match's state-machine stage.
type Phase string

const (
	PhaseAwaitingPlacement Phase = "AWAITING_PLACEMENT"
	PhaseBattling          Phase = "BATTLING"
	PhaseFinished          Phase = "FINISHED"
	PhaseAbandoned         Phase = "ABANDONED"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool { return p == PhaseFinished || p == PhaseAbandoned }

var (
	ErrNotYourTurn    = errors.New("not your turn")
	ErrWrongPhase     = errors.New("wrong phase for this intent")
	ErrNotParticipant = errors.New("player not in match")
	ErrEmptyChat      = errors.New("empty chat message")
	ErrMatchNotFound  = errors.New("match not found")
	ErrPlayerBusy     = errors.New("player already in a live match")
	ErrCapacity       = errors.New("match capacity reached")
)

// EventSink delivers outbound events. Delivery is the session
// manager's job; the state machine only names logical players.
type EventSink interface {
	Broadcast(matchID string, ev wire.Event)
	SendTo(matchID, playerID string, ev wire.Event)
}

// ResultSink receives the terminal match summary. Failures are
// logged and never affect gameplay state.
type ResultSink interface {
	RecordMatchResult(ctx context.Context, player1, player2, winner string) error
	SaveAchievementProgress(ctx context.Context, playerID, achievementID string, delta int) error
}

// Config carries the knobs each new match starts with.
type Config struct {
	Rules       *ruleset.Ruleset
	TurnTimeout time.Duration
	FirstTurn   string // "random" | "first"
}

// Summary describes a terminated match for the registry and the
// persistence collaborators.
type Summary struct {
	MatchID  string
	Players  [2]string
	Winner   string
	Reason   string
	Moves    uint64
	Duration time.Duration
}
