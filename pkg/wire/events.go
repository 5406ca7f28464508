package wire

import "time"

// EventType discriminates outbound server frames.
type EventType string

const (
	EventQueued             EventType = "queued"
	EventMatchStarted       EventType = "match_started"
	EventFleetAccepted      EventType = "fleet_accepted"
	EventTurnStart          EventType = "turn_start"
	EventAttackResult       EventType = "attack_result"
	EventTurnTimeout        EventType = "turn_timeout"
	EventPlayerDisconnected EventType = "player_disconnected"
	EventPlayerReconnected  EventType = "player_reconnected"
	EventMatchFinished      EventType = "match_finished"
	EventChatMessage        EventType = "chat_message"
	EventState              EventType = "state"
	EventError              EventType = "error"
)

// Finish reasons carried by MatchFinished.
const (
	ReasonNormal    = "normal"
	ReasonForfeit   = "forfeit"
	ReasonAbandoned = "abandoned"
	ReasonInternal  = "internal"
)

// Payload is an outbound event body; each kind is an explicit tagged
// struct rather than a loose map.
type Payload interface {
	EventType() EventType
}

// Event is the outbound frame envelope.
type Event struct {
	Type EventType `json:"type"`
	Data Payload   `json:"data,omitempty"`
}

// Wrap packs a payload into its typed envelope.
func Wrap(p Payload) Event { return Event{Type: p.EventType(), Data: p} }

type Queued struct {
	Waiting int64 `json:"waiting"`
}

func (Queued) EventType() EventType { return EventQueued }

type MatchStarted struct {
	MatchID   string `json:"match_id"`
	Opponent  string `json:"opponent"`
	FirstTurn string `json:"first_turn"`
}

func (MatchStarted) EventType() EventType { return EventMatchStarted }

type FleetAccepted struct {
	MatchID string `json:"match_id"`
}

func (FleetAccepted) EventType() EventType { return EventFleetAccepted }

// TurnStart announces entry into the battling phase once both fleets
// are placed.
type TurnStart struct {
	Turn     string    `json:"turn"`
	Deadline time.Time `json:"deadline"`
	Seq      uint64    `json:"seq"`
}

func (TurnStart) EventType() EventType { return EventTurnStart }

type AttackResult struct {
	By           string    `json:"by"`
	Target       Coord     `json:"target"`
	Outcome      string    `json:"outcome"` // hit | miss
	SunkShip     string    `json:"sunk_ship,omitempty"`
	Revealed     []Coord   `json:"revealed,omitempty"`
	BoardCleared bool      `json:"board_cleared,omitempty"`
	NextTurn     string    `json:"next_turn"`
	Deadline     time.Time `json:"deadline"`
	Seq          uint64    `json:"seq"`
}

func (AttackResult) EventType() EventType { return EventAttackResult }

type TurnTimeout struct {
	ForfeitedBy string    `json:"forfeited_by"`
	NextTurn    string    `json:"next_turn"`
	Deadline    time.Time `json:"deadline"`
	Seq         uint64    `json:"seq"`
}

func (TurnTimeout) EventType() EventType { return EventTurnTimeout }

type PlayerDisconnected struct {
	PlayerID string    `json:"player_id"`
	Deadline time.Time `json:"deadline"` // reconnection grace deadline
}

func (PlayerDisconnected) EventType() EventType { return EventPlayerDisconnected }

type PlayerReconnected struct {
	PlayerID string `json:"player_id"`
}

func (PlayerReconnected) EventType() EventType { return EventPlayerReconnected }

type MatchFinished struct {
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason"` // normal | forfeit | abandoned | internal
}

func (MatchFinished) EventType() EventType { return EventMatchFinished }

type ChatMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

func (ChatMessage) EventType() EventType { return EventChatMessage }

// ShipStatus summarises one fleet entry for a snapshot viewer.
type ShipStatus struct {
	Name   string `json:"name"`
	Length int    `json:"length"`
	Sunk   bool   `json:"sunk"`
}

// StateSnapshot is the full per-viewer match state sent on reconnect.
// Own grid rows show ships; the opponent grid only shows shots.
// Cell runes: '.' untouched, 'S' own ship, 'X' hit, 'o' miss.
type StateSnapshot struct {
	MatchID       string       `json:"match_id"`
	Phase         string       `json:"phase"`
	You           string       `json:"you"`
	Opponent      string       `json:"opponent"`
	Turn          string       `json:"turn,omitempty"`
	Deadline      time.Time    `json:"deadline,omitempty"`
	Seq           uint64       `json:"seq"`
	OwnGrid       []string     `json:"own_grid,omitempty"`
	OpponentGrid  []string     `json:"opponent_grid,omitempty"`
	OwnFleet      []ShipStatus `json:"own_fleet,omitempty"`
	OpponentFleet []ShipStatus `json:"opponent_fleet,omitempty"`
	Winner        string       `json:"winner,omitempty"`
}

func (StateSnapshot) EventType() EventType { return EventState }
