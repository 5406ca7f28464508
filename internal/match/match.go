package match

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/pellab/broadside/internal/board"
	"github.com/pellab/broadside/internal/obslog"
	"github.com/pellab/broadside/internal/replay"
	"github.com/pellab/broadside/internal/rules"
	"github.com/pellab/broadside/pkg/wire"
	"go.uber.org/zap"
)

const maxChatLen = 500

// Match owns one live game: both boards, the turn marker, the
// per-turn deadline and the phase. All intents for a match are
// processed serially under mu; cross-match work is fully parallel.
type Match struct {
	mu sync.Mutex

	id        string
	players   [2]string
	connected [2]bool
	boards    [2]*board.Board
	phase     Phase
	turn      int // index into players
	firstTurn int
	deadline  time.Time
	seq       uint64

	createdAt   time.Time
	battleStart time.Time
	winner      string
	reason      string

	cfg  Config
	sink EventSink
	rec  *replay.Recorder

	turnTimer *time.Timer

	onTerminal func(Summary)
	onCancel   func()
}

func newMatch(id, player1, player2 string, cfg Config, sink EventSink, rec *replay.Recorder, onTerminal func(Summary), onCancel func()) *Match {
	m := &Match{
		id:         id,
		players:    [2]string{player1, player2},
		connected:  [2]bool{true, true},
		phase:      PhaseAwaitingPlacement,
		createdAt:  time.Now(),
		cfg:        cfg,
		sink:       sink,
		rec:        rec,
		onTerminal: onTerminal,
		onCancel:   onCancel,
	}
	size := cfg.Rules.BoardSize
	m.boards[0] = board.New(size)
	m.boards[1] = board.New(size)
	m.firstTurn = pickFirstTurn(cfg.FirstTurn)
	m.turn = m.firstTurn
	return m
}

// pickFirstTurn grants the opening turn to the first-paired player or
// a random one, per configuration.
func pickFirstTurn(mode string) int {
	if mode == "first" {
		return 0
	}
	if n, err := rand.Int(rand.Reader, big.NewInt(2)); err == nil {
		return int(n.Int64())
	}
	return 0
}

// start announces the pairing to both players and opens the replay
// log. Called once by the registry after insertion.
func (m *Match) start() {
	m.rec.Open(m.id, m.players)
	for i, p := range m.players {
		m.sink.SendTo(m.id, p, wire.Wrap(wire.MatchStarted{
			MatchID:   m.id,
			Opponent:  m.players[1-i],
			FirstTurn: m.players[m.firstTurn],
		}))
	}
	obslog.L().Info("match_create",
		zap.String("match_id", m.id),
		zap.String("player1", m.players[0]),
		zap.String("player2", m.players[1]),
		zap.String("first_turn", m.players[m.firstTurn]),
	)
}

func (m *Match) ID() string { return m.id }

func (m *Match) Players() [2]string { return m.players }

func (m *Match) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Match) Seq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// TurnPlayer returns the current turn holder, or "" outside battling.
func (m *Match) TurnPlayer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseBattling {
		return ""
	}
	return m.players[m.turn]
}

func (m *Match) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline
}

func (m *Match) Winner() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.winner
}

func (m *Match) playerIndex(playerID string) int {
	for i, p := range m.players {
		if p == playerID {
			return i
		}
	}
	return -1
}

// SubmitFleet accepts one player's full fleet placement. Each board
// accepts exactly one fleet; once both are in, battle begins.
func (m *Match) SubmitFleet(playerID string, specs []board.ShipSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.playerIndex(playerID)
	if idx < 0 {
		return ErrNotParticipant
	}
	if m.phase != PhaseAwaitingPlacement {
		return fmt.Errorf("%w: %s", ErrWrongPhase, m.phase)
	}
	if err := m.boards[idx].PlaceFleet(specs, m.cfg.Rules.Lengths(), m.cfg.Rules.NoTouch); err != nil {
		return err
	}

	m.rec.Record(m.id, replay.Event{
		Seq:       m.seq,
		Kind:      replay.KindPlacement,
		Placement: &replay.PlacementEvent{PlayerID: playerID, Fleet: specs},
	})
	m.sink.SendTo(m.id, playerID, wire.Wrap(wire.FleetAccepted{MatchID: m.id}))
	obslog.L().Info("fleet_place",
		zap.String("match_id", m.id),
		zap.String("player_id", playerID),
		zap.Int("ships", len(specs)),
	)

	if m.boards[0].Placed() && m.boards[1].Placed() {
		m.beginBattle()
	}
	return nil
}

func (m *Match) beginBattle() {
	prev := m.phase
	m.phase = PhaseBattling
	m.battleStart = time.Now()
	m.turn = m.firstTurn
	m.resetDeadline()
	m.rec.Record(m.id, replay.Event{
		Seq:   m.seq,
		Kind:  replay.KindPhase,
		Phase: &replay.PhaseEvent{From: string(prev), To: string(PhaseBattling)},
	})
	m.sink.Broadcast(m.id, wire.Wrap(wire.TurnStart{
		Turn:     m.players[m.turn],
		Deadline: m.deadline,
		Seq:      m.seq,
	}))
	obslog.L().Info("battle_start",
		zap.String("match_id", m.id),
		zap.String("turn", m.players[m.turn]),
	)
}

// resetDeadline rearms the turn timer for the current sequence
// number. A timer that fires after the sequence has advanced is a
// resolved race and gets discarded.
func (m *Match) resetDeadline() {
	m.deadline = time.Now().Add(m.cfg.TurnTimeout)
	if m.turnTimer != nil {
		m.turnTimer.Stop()
	}
	armedFor := m.seq
	m.turnTimer = time.AfterFunc(m.cfg.TurnTimeout, func() { m.turnExpired(armedFor) })
}

func (m *Match) stopTimerLocked() {
	if m.turnTimer != nil {
		m.turnTimer.Stop()
		m.turnTimer = nil
	}
}

func (m *Match) variants() rules.Variants {
	return rules.Variants{
		ExtraTurnOnHit:       m.cfg.Rules.ExtraTurnOnHit,
		RevealAdjacentOnSink: m.cfg.Rules.RevealAdjacentOnSink,
	}
}

// SubmitAttack applies the turn holder's attack to the opponent's
// board. Out-of-turn and out-of-phase submissions are rejected, not
// queued; board-level rejections leave turn and deadline untouched.
func (m *Match) SubmitAttack(playerID string, target board.Coordinate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.playerIndex(playerID)
	if idx < 0 {
		return ErrNotParticipant
	}
	if m.phase != PhaseBattling {
		return fmt.Errorf("%w: %s", ErrWrongPhase, m.phase)
	}
	if idx != m.turn {
		return ErrNotYourTurn
	}

	defender := 1 - idx
	res, err := rules.ResolveAttack(m.boards[defender], target, m.variants())
	if err != nil {
		return err
	}

	m.seq++
	outcome := "miss"
	if res.Hit {
		outcome = "hit"
	}
	sunk := ""
	if res.SunkShip != nil {
		sunk = res.SunkShip.Name()
	}
	m.rec.Record(m.id, replay.Event{
		Seq:  m.seq,
		Kind: replay.KindMove,
		Move: &replay.MoveEvent{By: playerID, Row: target.Row, Col: target.Col, Outcome: outcome, SunkShip: sunk},
	})

	winnerIdx, werr := rules.Winner(m.boards)
	if werr != nil {
		m.failInvariant(werr)
		return nil
	}

	ev := wire.AttackResult{
		By:           playerID,
		Target:       wire.Coord{Row: target.Row, Col: target.Col},
		Outcome:      outcome,
		SunkShip:     sunk,
		BoardCleared: res.BoardCleared,
		Seq:          m.seq,
	}
	for _, c := range res.Revealed {
		ev.Revealed = append(ev.Revealed, wire.Coord{Row: c.Row, Col: c.Col})
	}

	if winnerIdx >= 0 {
		m.stopTimerLocked()
		m.deadline = time.Time{}
		m.sink.Broadcast(m.id, wire.Wrap(ev))
		m.finishLocked(m.players[winnerIdx], wire.ReasonNormal)
		return nil
	}

	m.turn = rules.NextAttacker(m.turn, res.Hit, m.variants())
	m.resetDeadline()
	ev.NextTurn = m.players[m.turn]
	ev.Deadline = m.deadline
	m.sink.Broadcast(m.id, wire.Wrap(ev))
	obslog.L().Debug("attack_apply",
		zap.String("match_id", m.id),
		zap.String("by", playerID),
		zap.String("outcome", outcome),
		zap.Uint64("seq", m.seq),
	)
	return nil
}

// turnExpired is the armed timer's callback: the turn holder forfeits
// the turn as a synthetic no-op move and the marker advances.
func (m *Match) turnExpired(armedFor uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseBattling || m.seq != armedFor {
		obslog.L().Debug("stale_timer_discard",
			zap.String("match_id", m.id),
			zap.Uint64("armed_for", armedFor),
			zap.Uint64("seq", m.seq),
		)
		return
	}

	forfeiter := m.players[m.turn]
	m.seq++
	m.rec.Record(m.id, replay.Event{
		Seq:  m.seq,
		Kind: replay.KindMove,
		Move: &replay.MoveEvent{By: forfeiter, Forfeited: true},
	})
	m.turn = 1 - m.turn
	m.resetDeadline()
	m.sink.Broadcast(m.id, wire.Wrap(wire.TurnTimeout{
		ForfeitedBy: forfeiter,
		NextTurn:    m.players[m.turn],
		Deadline:    m.deadline,
		Seq:         m.seq,
	}))
	obslog.L().Info("turn_timeout",
		zap.String("match_id", m.id),
		zap.String("forfeited_by", forfeiter),
		zap.Uint64("seq", m.seq),
	)
}

// Chat relays a message between the participants and records it.
func (m *Match) Chat(playerID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.playerIndex(playerID) < 0 {
		return ErrNotParticipant
	}
	if m.phase.Terminal() {
		return fmt.Errorf("%w: %s", ErrWrongPhase, m.phase)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyChat
	}
	if len(text) > maxChatLen {
		text = text[:maxChatLen]
	}
	m.rec.Record(m.id, replay.Event{
		Seq:  m.seq,
		Kind: replay.KindChat,
		Chat: &replay.ChatEvent{Sender: playerID, Text: text},
	})
	m.sink.Broadcast(m.id, wire.Wrap(wire.ChatMessage{Sender: playerID, Text: text}))
	return nil
}

// PlayerDisconnected records a transport drop. Phase is untouched;
// the session manager owns the grace clock and reports its deadline.
func (m *Match) PlayerDisconnected(playerID string, graceDeadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.playerIndex(playerID)
	if idx < 0 || m.phase.Terminal() {
		return
	}
	m.connected[idx] = false
	m.sink.Broadcast(m.id, wire.Wrap(wire.PlayerDisconnected{PlayerID: playerID, Deadline: graceDeadline}))
	obslog.L().Info("player_disconnect",
		zap.String("match_id", m.id),
		zap.String("player_id", playerID),
	)
}

// PlayerReconnected records a rebind inside the grace window.
func (m *Match) PlayerReconnected(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.playerIndex(playerID)
	if idx < 0 || m.phase.Terminal() {
		return
	}
	m.connected[idx] = true
	m.sink.Broadcast(m.id, wire.Wrap(wire.PlayerReconnected{PlayerID: playerID}))
	obslog.L().Info("player_reconnect",
		zap.String("match_id", m.id),
		zap.String("player_id", playerID),
	)
}

// ForfeitTimeout fires when the grace window elapsed without a
// reconnect. A battling match is abandoned in the remaining player's
// favour; a match still placing fleets is cancelled outright.
func (m *Match) ForfeitTimeout(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.playerIndex(playerID)
	if idx < 0 {
		return
	}
	switch m.phase {
	case PhaseBattling:
		m.abandonLocked(m.players[1-idx])
	case PhaseAwaitingPlacement:
		m.cancelLocked("grace window expired during placement")
	}
}

// Leave handles an explicit leave intent. Leaving a battle forfeits
// it; leaving during placement cancels the match without a replay so
// neither player stays bound to a game that cannot start.
func (m *Match) Leave(playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.playerIndex(playerID)
	if idx < 0 {
		return ErrNotParticipant
	}
	switch m.phase {
	case PhaseBattling:
		m.stopTimerLocked()
		m.finishLocked(m.players[1-idx], wire.ReasonForfeit)
	case PhaseAwaitingPlacement:
		m.cancelLocked("player left during placement")
	}
	return nil
}

// Cancel tears the match down administratively. Only valid before
// battle; no replay is written.
func (m *Match) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseAwaitingPlacement {
		m.cancelLocked("administrative cancel")
	}
}

func (m *Match) abandonLocked(winnerID string) {
	prev := m.phase
	m.stopTimerLocked()
	m.phase = PhaseAbandoned
	m.winner = winnerID
	m.reason = wire.ReasonAbandoned
	m.rec.Record(m.id, replay.Event{
		Seq:   m.seq,
		Kind:  replay.KindPhase,
		Phase: &replay.PhaseEvent{From: string(prev), To: string(PhaseAbandoned), Winner: winnerID, Reason: wire.ReasonAbandoned},
	})
	m.rec.Seal(m.id, winnerID, wire.ReasonAbandoned, true)
	m.sink.Broadcast(m.id, wire.Wrap(wire.MatchFinished{Winner: winnerID, Reason: wire.ReasonAbandoned}))
	obslog.L().Info("match_abandon",
		zap.String("match_id", m.id),
		zap.String("winner", winnerID),
	)
	m.emitTerminal()
}

func (m *Match) finishLocked(winnerID, reason string) {
	prev := m.phase
	m.stopTimerLocked()
	m.phase = PhaseFinished
	m.winner = winnerID
	m.reason = reason
	m.rec.Record(m.id, replay.Event{
		Seq:   m.seq,
		Kind:  replay.KindPhase,
		Phase: &replay.PhaseEvent{From: string(prev), To: string(PhaseFinished), Winner: winnerID, Reason: reason},
	})
	m.rec.Seal(m.id, winnerID, reason, false)
	m.sink.Broadcast(m.id, wire.Wrap(wire.MatchFinished{Winner: winnerID, Reason: reason}))
	obslog.L().Info("match_finish",
		zap.String("match_id", m.id),
		zap.String("winner", winnerID),
		zap.String("reason", reason),
		zap.Uint64("moves", m.seq),
	)
	m.emitTerminal()
}

// failInvariant force-terminates this match only; the rest of the
// process continues unaffected. Both players see an internal error.
func (m *Match) failInvariant(err error) {
	prev := m.phase
	m.stopTimerLocked()
	m.phase = PhaseAbandoned
	m.reason = wire.ReasonInternal
	obslog.L().Error("invariant_violation",
		zap.String("match_id", m.id),
		zap.Uint64("seq", m.seq),
		zap.Error(err),
	)
	m.rec.Record(m.id, replay.Event{
		Seq:   m.seq,
		Kind:  replay.KindPhase,
		Phase: &replay.PhaseEvent{From: string(prev), To: string(PhaseAbandoned), Reason: wire.ReasonInternal},
	})
	m.rec.Seal(m.id, "", wire.ReasonInternal, true)
	m.sink.Broadcast(m.id, wire.Wrap(wire.Error{Code: wire.CodeInternal, Message: "match terminated due to an internal error"}))
	m.sink.Broadcast(m.id, wire.Wrap(wire.MatchFinished{Reason: wire.ReasonInternal}))
	m.emitTerminal()
}

func (m *Match) cancelLocked(why string) {
	m.stopTimerLocked()
	m.phase = PhaseAbandoned
	m.reason = wire.ReasonAbandoned
	m.rec.Discard(m.id)
	m.sink.Broadcast(m.id, wire.Wrap(wire.MatchFinished{Reason: wire.ReasonAbandoned}))
	obslog.L().Info("match_cancel",
		zap.String("match_id", m.id),
		zap.String("why", why),
	)
	if m.onCancel != nil {
		go m.onCancel()
	}
}

// emitTerminal hands the summary to the registry off the match lock.
func (m *Match) emitTerminal() {
	if m.onTerminal == nil {
		return
	}
	duration := time.Since(m.createdAt)
	if !m.battleStart.IsZero() {
		duration = time.Since(m.battleStart)
	}
	sum := Summary{
		MatchID:  m.id,
		Players:  m.players,
		Winner:   m.winner,
		Reason:   m.reason,
		Moves:    m.seq,
		Duration: duration,
	}
	go m.onTerminal(sum)
}

// Snapshot renders the full current state for one viewer: own grid
// with ships, opponent grid with shots only.
func (m *Match) Snapshot(viewerID string) (*wire.StateSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.playerIndex(viewerID)
	if idx < 0 {
		return nil, ErrNotParticipant
	}
	opp := 1 - idx
	snap := &wire.StateSnapshot{
		MatchID:  m.id,
		Phase:    string(m.phase),
		You:      m.players[idx],
		Opponent: m.players[opp],
		Seq:      m.seq,
		Winner:   m.winner,
	}
	if m.phase == PhaseBattling {
		snap.Turn = m.players[m.turn]
		snap.Deadline = m.deadline
	}
	if m.boards[idx].Placed() {
		snap.OwnGrid = m.boards[idx].Rows(false)
		snap.OwnFleet = fleetStatus(m.boards[idx])
	}
	if m.boards[opp].Placed() {
		snap.OpponentGrid = m.boards[opp].Rows(true)
		snap.OpponentFleet = sunkOnly(fleetStatus(m.boards[opp]))
	}
	return snap, nil
}

func fleetStatus(b *board.Board) []wire.ShipStatus {
	out := make([]wire.ShipStatus, 0, len(b.Ships()))
	for _, s := range b.Ships() {
		out = append(out, wire.ShipStatus{Name: s.Name(), Length: s.Length(), Sunk: s.Sunk()})
	}
	return out
}

// sunkOnly hides unsunk opponent ship names from the viewer.
func sunkOnly(in []wire.ShipStatus) []wire.ShipStatus {
	out := make([]wire.ShipStatus, 0, len(in))
	for _, s := range in {
		if s.Sunk {
			out = append(out, s)
			continue
		}
		out = append(out, wire.ShipStatus{Length: s.Length})
	}
	return out
}
