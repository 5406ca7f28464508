package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pellab/broadside/internal/board"
	"github.com/pellab/broadside/internal/replay"
	"github.com/pellab/broadside/internal/ruleset"
	"github.com/pellab/broadside/pkg/wire"
)

// sinkRecorder captures emitted events in place of a live session
// manager.
type sinkRecorder struct {
	mu     sync.Mutex
	bcast  []wire.Event
	direct map[string][]wire.Event
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{direct: make(map[string][]wire.Event)}
}

func (s *sinkRecorder) Broadcast(_ string, ev wire.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bcast = append(s.bcast, ev)
}

func (s *sinkRecorder) SendTo(_ string, playerID string, ev wire.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.direct[playerID] = append(s.direct[playerID], ev)
}

func (s *sinkRecorder) broadcasts(t wire.EventType) []wire.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Event
	for _, ev := range s.bcast {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (s *sinkRecorder) directTo(playerID string, t wire.EventType) []wire.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Event
	for _, ev := range s.direct[playerID] {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// resultRecorder captures persistence calls.
type resultRecorder struct {
	mu           sync.Mutex
	results      [][3]string
	achievements map[string]int
}

func newResultRecorder() *resultRecorder {
	return &resultRecorder{achievements: make(map[string]int)}
}

func (r *resultRecorder) RecordMatchResult(_ context.Context, p1, p2, winner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, [3]string{p1, p2, winner})
	return nil
}

func (r *resultRecorder) SaveAchievementProgress(_ context.Context, playerID, achievementID string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.achievements[playerID+"/"+achievementID] += delta
	return nil
}

func testRules() *ruleset.Ruleset {
	return &ruleset.Ruleset{
		BoardSize: 10,
		Fleet: []ruleset.ShipClass{
			{Name: "carrier", Length: 5},
			{Name: "battleship", Length: 4},
			{Name: "cruiser", Length: 3},
			{Name: "submarine", Length: 3},
			{Name: "destroyer", Length: 2},
		},
	}
}

func testConfig(timeout time.Duration) Config {
	return Config{Rules: testRules(), TurnTimeout: timeout, FirstTurn: "first"}
}

// testFleet lays the five ships on even rows starting at column 0.
func testFleet() []board.ShipSpec {
	return []board.ShipSpec{
		{Name: "carrier", Bow: board.Coordinate{Row: 0, Col: 0}, Length: 5, Horizontal: true},
		{Name: "battleship", Bow: board.Coordinate{Row: 2, Col: 0}, Length: 4, Horizontal: true},
		{Name: "cruiser", Bow: board.Coordinate{Row: 4, Col: 0}, Length: 3, Horizontal: true},
		{Name: "submarine", Bow: board.Coordinate{Row: 6, Col: 0}, Length: 3, Horizontal: true},
		{Name: "destroyer", Bow: board.Coordinate{Row: 8, Col: 0}, Length: 2, Horizontal: true},
	}
}

func shipCells() []board.Coordinate {
	var out []board.Coordinate
	for _, s := range testFleet() {
		out = append(out, s.Cells()...)
	}
	return out
}

// missCells yields open-water targets on the test layout.
func missCells(n int) []board.Coordinate {
	var out []board.Coordinate
	for row := 1; row < 10 && len(out) < n; row += 2 {
		for col := 0; col < 10 && len(out) < n; col++ {
			out = append(out, board.Coordinate{Row: row, Col: col})
		}
	}
	return out
}

func newTestRegistry(timeout, retention time.Duration, results ResultSink) (*Registry, *sinkRecorder) {
	sink := newSinkRecorder()
	rec := replay.NewRecorder(nil)
	reg := NewRegistry(testConfig(timeout), sink, rec, results, retention, 0)
	return reg, sink
}

func battlingMatch(t *testing.T, reg *Registry) *Match {
	t.Helper()
	m, err := reg.Create("alice", "bob")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.SubmitFleet("alice", testFleet()); err != nil {
		t.Fatalf("alice SubmitFleet: %v", err)
	}
	if err := m.SubmitFleet("bob", testFleet()); err != nil {
		t.Fatalf("bob SubmitFleet: %v", err)
	}
	if m.Phase() != PhaseBattling {
		t.Fatalf("phase = %s, want battling", m.Phase())
	}
	return m
}

func waitFor(t *testing.T, what string, ok func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ok() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestMatchLifecycleToWin(t *testing.T) {
	results := newResultRecorder()
	reg, sink := newTestRegistry(time.Minute, time.Minute, results)
	m := battlingMatch(t, reg)

	if got := sink.directTo("alice", wire.EventMatchStarted); len(got) != 1 {
		t.Fatalf("alice match_started events = %d, want 1", len(got))
	}
	if ms := sink.directTo("bob", wire.EventMatchStarted)[0].Data.(wire.MatchStarted); ms.Opponent != "alice" {
		t.Fatalf("bob's opponent = %q, want alice", ms.Opponent)
	}
	if len(sink.broadcasts(wire.EventTurnStart)) != 1 {
		t.Fatal("battle begin did not announce the opening turn")
	}
	if m.TurnPlayer() != "alice" {
		t.Fatalf("opening turn = %q, want alice", m.TurnPlayer())
	}

	// Alice sweeps bob's fleet; bob fires into open water in between.
	targets := shipCells()
	misses := missCells(len(targets))
	for i, c := range targets {
		if err := m.SubmitAttack("alice", c); err != nil {
			t.Fatalf("alice attack %v: %v", c, err)
		}
		if i < len(targets)-1 {
			if err := m.SubmitAttack("bob", misses[i]); err != nil {
				t.Fatalf("bob attack %v: %v", misses[i], err)
			}
		}
	}

	if m.Phase() != PhaseFinished {
		t.Fatalf("phase = %s, want finished", m.Phase())
	}
	if m.Winner() != "alice" {
		t.Fatalf("winner = %q, want alice", m.Winner())
	}

	attacks := sink.broadcasts(wire.EventAttackResult)
	last := attacks[len(attacks)-1].Data.(wire.AttackResult)
	if !last.BoardCleared || last.SunkShip == "" {
		t.Fatalf("final attack result %+v", last)
	}
	fins := sink.broadcasts(wire.EventMatchFinished)
	if len(fins) != 1 {
		t.Fatalf("match_finished events = %d, want 1", len(fins))
	}
	if fin := fins[0].Data.(wire.MatchFinished); fin.Winner != "alice" || fin.Reason != wire.ReasonNormal {
		t.Fatalf("match_finished %+v", fin)
	}

	// Terminal summary reaches the persistence collaborator.
	waitFor(t, "result persistence", func() bool {
		results.mu.Lock()
		defer results.mu.Unlock()
		return len(results.results) == 1
	})
	results.mu.Lock()
	defer results.mu.Unlock()
	if results.results[0] != [3]string{"alice", "bob", "alice"} {
		t.Fatalf("recorded result %v", results.results[0])
	}
	if results.achievements["alice/wins"] != 1 || results.achievements["alice/matches_played"] != 1 || results.achievements["bob/matches_played"] != 1 {
		t.Fatalf("achievements %v", results.achievements)
	}
	if results.achievements["bob/wins"] != 0 {
		t.Fatalf("loser got a win: %v", results.achievements)
	}
}

func TestAttackRejectedOutsideBattle(t *testing.T) {
	reg, _ := newTestRegistry(time.Minute, time.Minute, nil)
	m, err := reg.Create("alice", "bob")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = m.SubmitAttack("alice", board.Coordinate{Row: 0, Col: 0})
	if !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("attack during placement err = %v, want ErrWrongPhase", err)
	}
}

func TestAttackOutOfTurn(t *testing.T) {
	reg, _ := newTestRegistry(time.Minute, time.Minute, nil)
	m := battlingMatch(t, reg)

	if err := m.SubmitAttack("bob", board.Coordinate{Row: 9, Col: 9}); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("out-of-turn err = %v, want ErrNotYourTurn", err)
	}
	if err := m.SubmitAttack("mallory", board.Coordinate{Row: 9, Col: 9}); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider err = %v, want ErrNotParticipant", err)
	}
	if m.TurnPlayer() != "alice" {
		t.Fatal("rejected attacks must not move the turn")
	}
}

func TestRepeatTargetKeepsTurnAndSeq(t *testing.T) {
	reg, _ := newTestRegistry(time.Minute, time.Minute, nil)
	m := battlingMatch(t, reg)

	if err := m.SubmitAttack("alice", board.Coordinate{Row: 9, Col: 9}); err != nil {
		t.Fatalf("alice attack: %v", err)
	}
	if err := m.SubmitAttack("bob", board.Coordinate{Row: 9, Col: 9}); err != nil {
		t.Fatalf("bob attack: %v", err)
	}
	seq := m.Seq()
	err := m.SubmitAttack("alice", board.Coordinate{Row: 9, Col: 9})
	if !errors.Is(err, board.ErrAlreadyTargeted) {
		t.Fatalf("repeat err = %v, want ErrAlreadyTargeted", err)
	}
	if m.Seq() != seq {
		t.Fatalf("seq moved from %d to %d on a rejected attack", seq, m.Seq())
	}
	if m.TurnPlayer() != "alice" {
		t.Fatal("rejected attack must not move the turn")
	}
}

func TestFleetRejectionsLeaveBoardOpen(t *testing.T) {
	reg, _ := newTestRegistry(time.Minute, time.Minute, nil)
	m, err := reg.Create("alice", "bob")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	bad := testFleet()
	bad[0].Bow = board.Coordinate{Row: 0, Col: 7}
	if err := m.SubmitFleet("alice", bad); !errors.Is(err, board.ErrInvalidPlacement) {
		t.Fatalf("bad fleet err = %v, want ErrInvalidPlacement", err)
	}

	// A rejected fleet does not consume the one placement.
	if err := m.SubmitFleet("alice", testFleet()); err != nil {
		t.Fatalf("corrected fleet: %v", err)
	}
	if err := m.SubmitFleet("alice", testFleet()); !errors.Is(err, board.ErrAlreadyPlaced) {
		t.Fatalf("second fleet err = %v, want ErrAlreadyPlaced", err)
	}
	if m.Phase() != PhaseAwaitingPlacement {
		t.Fatalf("phase = %s before both fleets are in", m.Phase())
	}
}

func TestTurnTimeoutForfeitsTurn(t *testing.T) {
	reg, sink := newTestRegistry(30*time.Millisecond, time.Minute, nil)
	m := battlingMatch(t, reg)
	seq := m.Seq()

	waitFor(t, "turn timeout", func() bool { return m.Seq() > seq })

	tos := sink.broadcasts(wire.EventTurnTimeout)
	if len(tos) == 0 {
		t.Fatal("no turn_timeout broadcast")
	}
	to := tos[0].Data.(wire.TurnTimeout)
	if to.ForfeitedBy != "alice" || to.NextTurn != "bob" {
		t.Fatalf("turn_timeout %+v", to)
	}
	if m.Phase() != PhaseBattling {
		t.Fatalf("phase = %s, timeout must not end the match", m.Phase())
	}
}

func TestStaleTimerDiscarded(t *testing.T) {
	reg, sink := newTestRegistry(time.Minute, time.Minute, nil)
	m := battlingMatch(t, reg)

	if err := m.SubmitAttack("alice", board.Coordinate{Row: 9, Col: 9}); err != nil {
		t.Fatalf("attack: %v", err)
	}
	turn := m.TurnPlayer()
	seq := m.Seq()

	// A timer armed for an already-resolved turn must change nothing.
	m.turnExpired(seq - 1)

	if m.Seq() != seq || m.TurnPlayer() != turn {
		t.Fatalf("stale timer advanced state: seq %d→%d turn %q→%q", seq, m.Seq(), turn, m.TurnPlayer())
	}
	if len(sink.broadcasts(wire.EventTurnTimeout)) != 0 {
		t.Fatal("stale timer broadcast a timeout")
	}
}

func TestDisconnectReconnectKeepsPhase(t *testing.T) {
	reg, sink := newTestRegistry(time.Minute, time.Minute, nil)
	m := battlingMatch(t, reg)
	seq := m.Seq()

	m.PlayerDisconnected("bob", time.Now().Add(30*time.Second))
	if m.Phase() != PhaseBattling || m.Seq() != seq {
		t.Fatal("disconnect changed match state")
	}
	if evs := sink.broadcasts(wire.EventPlayerDisconnected); len(evs) != 1 {
		t.Fatalf("player_disconnected events = %d", len(evs))
	}

	m.PlayerReconnected("bob")
	if evs := sink.broadcasts(wire.EventPlayerReconnected); len(evs) != 1 {
		t.Fatalf("player_reconnected events = %d", len(evs))
	}
	if m.Phase() != PhaseBattling {
		t.Fatalf("phase = %s after reconnect", m.Phase())
	}
}

func TestForfeitTimeoutDuringBattle(t *testing.T) {
	reg, sink := newTestRegistry(time.Minute, time.Minute, nil)
	m := battlingMatch(t, reg)

	m.ForfeitTimeout("bob")

	if m.Phase() != PhaseAbandoned {
		t.Fatalf("phase = %s, want abandoned", m.Phase())
	}
	if m.Winner() != "alice" {
		t.Fatalf("winner = %q, want alice", m.Winner())
	}
	fin := sink.broadcasts(wire.EventMatchFinished)[0].Data.(wire.MatchFinished)
	if fin.Reason != wire.ReasonAbandoned {
		t.Fatalf("reason = %q, want abandoned", fin.Reason)
	}
}

func TestForfeitTimeoutDuringPlacementCancels(t *testing.T) {
	reg, _ := newTestRegistry(time.Minute, time.Minute, nil)
	m, err := reg.Create("alice", "bob")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m.ForfeitTimeout("bob")

	if m.Phase() != PhaseAbandoned {
		t.Fatalf("phase = %s, want abandoned", m.Phase())
	}
	if m.Winner() != "" {
		t.Fatalf("winner = %q, cancel has no winner", m.Winner())
	}
	// Cancelled matches are evicted immediately.
	waitFor(t, "eviction", func() bool {
		_, err := reg.Get(m.ID())
		return errors.Is(err, ErrMatchNotFound)
	})
}

func TestLeaveDuringBattleForfeits(t *testing.T) {
	reg, sink := newTestRegistry(time.Minute, time.Minute, nil)
	m := battlingMatch(t, reg)

	if err := m.Leave("alice"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if m.Phase() != PhaseFinished || m.Winner() != "bob" {
		t.Fatalf("phase %s winner %q after leave", m.Phase(), m.Winner())
	}
	fin := sink.broadcasts(wire.EventMatchFinished)[0].Data.(wire.MatchFinished)
	if fin.Reason != wire.ReasonForfeit {
		t.Fatalf("reason = %q, want forfeit", fin.Reason)
	}
}

func TestLeaveDuringPlacementCancelsAndFreesPlayers(t *testing.T) {
	reg, sink := newTestRegistry(time.Minute, time.Minute, nil)
	m, err := reg.Create("alice", "bob")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.SubmitFleet("alice", testFleet()); err != nil {
		t.Fatalf("alice SubmitFleet: %v", err)
	}

	// One leaver is enough: the opponent must not stay bound to a
	// match that can never start.
	if err := m.Leave("bob"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if m.Phase() != PhaseAbandoned {
		t.Fatalf("phase = %s, want abandoned", m.Phase())
	}
	if m.Winner() != "" {
		t.Fatalf("winner = %q, cancel has no winner", m.Winner())
	}
	fin := sink.broadcasts(wire.EventMatchFinished)[0].Data.(wire.MatchFinished)
	if fin.Reason != wire.ReasonAbandoned {
		t.Fatalf("reason = %q, want abandoned", fin.Reason)
	}
	waitFor(t, "eviction", func() bool {
		_, err := reg.Get(m.ID())
		return errors.Is(err, ErrMatchNotFound)
	})
	if _, err := reg.Create("alice", "carol"); err != nil {
		t.Fatalf("requeue after placement cancel: %v", err)
	}
}

func TestChat(t *testing.T) {
	reg, sink := newTestRegistry(time.Minute, time.Minute, nil)
	m := battlingMatch(t, reg)
	seq := m.Seq()

	if err := m.Chat("alice", "  good luck  "); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	msg := sink.broadcasts(wire.EventChatMessage)[0].Data.(wire.ChatMessage)
	if msg.Sender != "alice" || msg.Text != "good luck" {
		t.Fatalf("chat %+v", msg)
	}
	if m.Seq() != seq {
		t.Fatal("chat must not advance the move sequence")
	}

	if err := m.Chat("alice", "   "); !errors.Is(err, ErrEmptyChat) {
		t.Fatalf("blank chat err = %v, want ErrEmptyChat", err)
	}
	if err := m.Chat("mallory", "hi"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider chat err = %v, want ErrNotParticipant", err)
	}

	m.ForfeitTimeout("bob")
	if err := m.Chat("alice", "gg"); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("terminal chat err = %v, want ErrWrongPhase", err)
	}
}

func TestSnapshotViews(t *testing.T) {
	reg, _ := newTestRegistry(time.Minute, time.Minute, nil)
	m := battlingMatch(t, reg)

	if err := m.SubmitAttack("alice", board.Coordinate{Row: 8, Col: 0}); err != nil {
		t.Fatalf("attack: %v", err)
	}
	if err := m.SubmitAttack("bob", board.Coordinate{Row: 9, Col: 9}); err != nil {
		t.Fatalf("attack: %v", err)
	}

	snap, err := m.Snapshot("alice")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.You != "alice" || snap.Opponent != "bob" || snap.Phase != string(PhaseBattling) {
		t.Fatalf("snapshot header %+v", snap)
	}
	if snap.Turn != "alice" {
		t.Fatalf("snapshot turn = %q", snap.Turn)
	}
	// Own grid shows ships and bob's miss; opponent grid shows only
	// alice's hit.
	if snap.OwnGrid[0][0] != 'S' || snap.OwnGrid[9][9] != 'o' {
		t.Fatalf("own grid rows %q / %q", snap.OwnGrid[0], snap.OwnGrid[9])
	}
	if snap.OpponentGrid[8][0] != 'X' || snap.OpponentGrid[8][1] != '.' {
		t.Fatalf("opponent grid row %q", snap.OpponentGrid[8])
	}
	// Unsunk opponent ships stay anonymous.
	for _, s := range snap.OpponentFleet {
		if !s.Sunk && s.Name != "" {
			t.Fatalf("unsunk opponent ship leaked name %q", s.Name)
		}
	}
	if _, err := m.Snapshot("mallory"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider snapshot err = %v", err)
	}
}

func TestRegistryRejectsBusyPlayers(t *testing.T) {
	reg, _ := newTestRegistry(time.Minute, time.Minute, nil)
	if _, err := reg.Create("alice", "bob"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.Create("alice", "carol"); !errors.Is(err, ErrPlayerBusy) {
		t.Fatalf("busy err = %v, want ErrPlayerBusy", err)
	}
	if _, err := reg.Create("carol", "bob"); !errors.Is(err, ErrPlayerBusy) {
		t.Fatalf("busy err = %v, want ErrPlayerBusy", err)
	}
	if _, err := reg.Create("carol", "dave"); err != nil {
		t.Fatalf("fresh pair: %v", err)
	}
}

func TestRegistryCapacity(t *testing.T) {
	sink := newSinkRecorder()
	reg := NewRegistry(testConfig(time.Minute), sink, replay.NewRecorder(nil), nil, time.Minute, 1)
	if _, err := reg.Create("alice", "bob"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := reg.Create("carol", "dave"); !errors.Is(err, ErrCapacity) {
		t.Fatalf("capacity err = %v, want ErrCapacity", err)
	}
}

func TestRegistryRetentionEviction(t *testing.T) {
	reg, _ := newTestRegistry(time.Minute, 30*time.Millisecond, nil)
	m := battlingMatch(t, reg)

	m.ForfeitTimeout("bob")

	// Terminal matches stay queryable briefly, then disappear and
	// free both players.
	if got, err := reg.Get(m.ID()); err != nil || got.Phase() != PhaseAbandoned {
		t.Fatalf("terminal match not retained: %v", err)
	}
	waitFor(t, "retention eviction", func() bool {
		_, err := reg.Get(m.ID())
		return errors.Is(err, ErrMatchNotFound)
	})
	waitFor(t, "player release", func() bool {
		_, busy := reg.CurrentMatch("alice")
		return !busy
	})
	if _, err := reg.Create("alice", "bob"); err != nil {
		t.Fatalf("rematch after eviction: %v", err)
	}
}

func TestRegistryLookups(t *testing.T) {
	reg, _ := newTestRegistry(time.Minute, time.Minute, nil)
	m, err := reg.Create("alice", "bob")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := reg.Get(m.ID())
	if err != nil || got != m {
		t.Fatalf("Get: %v", err)
	}
	if _, err := reg.Get("m-missing"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("missing err = %v", err)
	}
	if byp, ok := reg.ByPlayer("bob"); !ok || byp != m {
		t.Fatal("ByPlayer failed for participant")
	}
	if _, ok := reg.ByPlayer("mallory"); ok {
		t.Fatal("ByPlayer matched an outsider")
	}
	players, ok := reg.Players(m.ID())
	if !ok || players != [2]string{"alice", "bob"} {
		t.Fatalf("Players = %v, %v", players, ok)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len = %d", reg.Len())
	}
}
