package wire

// ErrorCode identifies a player-visible failure category.
type ErrorCode string

const (
	CodeBadRequest       ErrorCode = "bad_request"
	CodeInvalidPlacement ErrorCode = "invalid_placement"
	CodeAlreadyPlaced    ErrorCode = "already_placed"
	CodeOutOfBounds      ErrorCode = "out_of_bounds"
	CodeAlreadyTargeted  ErrorCode = "already_targeted"
	CodeNotYourTurn      ErrorCode = "not_your_turn"
	CodeWrongPhase       ErrorCode = "wrong_phase"
	CodeMatchNotFound    ErrorCode = "match_not_found"
	CodeNotParticipant   ErrorCode = "not_participant"
	CodeAlreadyQueued    ErrorCode = "already_queued"
	CodePlayerBusy       ErrorCode = "player_busy"
	CodeInternal         ErrorCode = "internal"
)

// Error is reported back to the originating player only; it never
// affects the opponent's view or committed match state.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

func (e Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return string(e.Code)
	}
	return "match service error"
}

func (Error) EventType() EventType { return EventError }
