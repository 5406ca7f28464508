package wire

// IntentType discriminates inbound client frames.
type IntentType string

const (
	IntentJoinQueue    IntentType = "join_queue"
	IntentSubmitFleet  IntentType = "submit_fleet"
	IntentSubmitAttack IntentType = "submit_attack"
	IntentSendChat     IntentType = "send_chat"
	IntentLeaveMatch   IntentType = "leave_match"
)

// Coord is a grid coordinate. Row and Col are zero-based.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// ShipSpec describes one requested ship placement. The bow is the
// topmost (vertical) or leftmost (horizontal) cell.
type ShipSpec struct {
	Name       string `json:"name,omitempty"`
	Bow        Coord  `json:"bow"`
	Length     int    `json:"length"`
	Horizontal bool   `json:"horizontal"`
}

// Intent is the inbound frame envelope. Fields beyond Type are
// populated per intent kind.
type Intent struct {
	Type    IntentType `json:"type"`
	MatchID string     `json:"match_id,omitempty"`
	Fleet   []ShipSpec `json:"fleet,omitempty"`
	Target  *Coord     `json:"target,omitempty"`
	Text    string     `json:"text,omitempty"`
}
