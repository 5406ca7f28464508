// Package rules is the stateless resolution layer between the match
// state machine and the board model: attack outcomes, house-rule
// variants and termination detection.
package rules

import (
	"errors"
	"fmt"

	"github.com/pellab/broadside/internal/board"
)

// ErrInvariantViolation marks a state that is impossible by
// construction (e.g. both boards cleared). The match observing it is
// force-terminated; see the match package.
var ErrInvariantViolation = errors.New("invariant violation")

// Variants are the configurable house rules. Both default to off.
type Variants struct {
	ExtraTurnOnHit       bool
	RevealAdjacentOnSink bool
}

// Result is the outcome of one resolved attack.
type Result struct {
	board.AttackOutcome
	// Revealed lists empty cells uncovered by the
	// reveal-adjacent-on-sink variant.
	Revealed []board.Coordinate
}

// ResolveAttack applies the attack to the defender's board and layers
// the configured variants on top of the base outcome.
func ResolveAttack(b *board.Board, c board.Coordinate, v Variants) (Result, error) {
	out, err := b.ApplyAttack(c)
	if err != nil {
		return Result{}, err
	}
	res := Result{AttackOutcome: out}
	if v.RevealAdjacentOnSink && out.SunkShip != nil {
		res.Revealed = revealAround(b, out.SunkShip)
	}
	return res, nil
}

func revealAround(b *board.Board, s *board.Ship) []board.Coordinate {
	var revealed []board.Coordinate
	for _, c := range s.Cells() {
		for dr := -1; dr <= 1; dr++ {
			for dc := -1; dc <= 1; dc++ {
				n := board.Coordinate{Row: c.Row + dr, Col: c.Col + dc}
				if b.MarkMiss(n) {
					revealed = append(revealed, n)
				}
			}
		}
	}
	return revealed
}

// NextAttacker returns which player index attacks after an outcome.
// Pure function of the previous outcome so turn rules stay testable
// in isolation.
func NextAttacker(current int, hit bool, v Variants) int {
	if v.ExtraTurnOnHit && hit {
		return current
	}
	return 1 - current
}

// Winner returns the index of the winning player, or -1 when the
// match is still undecided. Both boards cleared is impossible in a
// legal game and reports ErrInvariantViolation.
func Winner(boards [2]*board.Board) (int, error) {
	aCleared := boards[0].Cleared()
	bCleared := boards[1].Cleared()
	switch {
	case aCleared && bCleared:
		return -1, fmt.Errorf("%w: both boards cleared", ErrInvariantViolation)
	case aCleared:
		// player 0's board cleared → player 1 wins
		return 1, nil
	case bCleared:
		return 0, nil
	default:
		return -1, nil
	}
}
