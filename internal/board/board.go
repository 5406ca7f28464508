package board

import (
	"fmt"
	"sort"
)

// Board is one player's grid plus fleet state. Pure data and
// validation; no transport or persistence awareness.
type Board struct {
	size      int
	grid      [][]CellState
	ships     []*Ship
	shipAt    map[Coordinate]*Ship
	placed    bool
	remaining int // unsunk ship cells
}

func New(size int) *Board {
	grid := make([][]CellState, size)
	for i := range grid {
		grid[i] = make([]CellState, size)
	}
	return &Board{
		size:   size,
		grid:   grid,
		shipAt: make(map[Coordinate]*Ship),
	}
}

func (b *Board) Size() int      { return b.size }
func (b *Board) Placed() bool   { return b.placed }
func (b *Board) Ships() []*Ship { return b.ships }

// Cleared reports whether every ship cell has been hit.
func (b *Board) Cleared() bool { return b.placed && b.remaining == 0 }

func (b *Board) inBounds(c Coordinate) bool {
	return c.Row >= 0 && c.Row < b.size && c.Col >= 0 && c.Col < b.size
}

// Cell returns the state at c; out-of-range coordinates read as empty.
func (b *Board) Cell(c Coordinate) CellState {
	if !b.inBounds(c) {
		return CellEmpty
	}
	return b.grid[c.Row][c.Col]
}

// PlaceFleet accepts the full set of ship placements for this board.
// manifest is the required multiset of ship lengths; noTouch forbids
// ships occupying adjacent (including diagonal) cells. Succeeds
// exactly once per board.
func (b *Board) PlaceFleet(specs []ShipSpec, manifest []int, noTouch bool) error {
	if b.placed {
		return ErrAlreadyPlaced
	}
	if err := matchManifest(specs, manifest); err != nil {
		return err
	}

	occupied := make(map[Coordinate]int) // cell → spec index
	for i, spec := range specs {
		for _, c := range spec.Cells() {
			if !b.inBounds(c) {
				return fmt.Errorf("%w: ship %d leaves the grid at (%d,%d)", ErrInvalidPlacement, i, c.Row, c.Col)
			}
			if j, taken := occupied[c]; taken {
				return fmt.Errorf("%w: ships %d and %d overlap at (%d,%d)", ErrInvalidPlacement, j, i, c.Row, c.Col)
			}
			occupied[c] = i
		}
	}
	if noTouch {
		for c, i := range occupied {
			for dr := -1; dr <= 1; dr++ {
				for dc := -1; dc <= 1; dc++ {
					n := Coordinate{Row: c.Row + dr, Col: c.Col + dc}
					if j, taken := occupied[n]; taken && j != i {
						return fmt.Errorf("%w: ships %d and %d touch at (%d,%d)", ErrInvalidPlacement, i, j, n.Row, n.Col)
					}
				}
			}
		}
	}

	for _, spec := range specs {
		cells := spec.Cells()
		ship := &Ship{
			name:  spec.Name,
			cells: cells,
			hits:  make([]bool, len(cells)),
		}
		b.ships = append(b.ships, ship)
		for _, c := range cells {
			b.grid[c.Row][c.Col] = CellShip
			b.shipAt[c] = ship
		}
		b.remaining += len(cells)
	}
	b.placed = true
	return nil
}

func matchManifest(specs []ShipSpec, manifest []int) error {
	if len(specs) != len(manifest) {
		return fmt.Errorf("%w: fleet has %d ships, manifest requires %d", ErrInvalidPlacement, len(specs), len(manifest))
	}
	got := make([]int, 0, len(specs))
	for _, s := range specs {
		if s.Length < 1 {
			return fmt.Errorf("%w: ship length %d", ErrInvalidPlacement, s.Length)
		}
		got = append(got, s.Length)
	}
	want := append([]int(nil), manifest...)
	sort.Ints(got)
	sort.Ints(want)
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("%w: fleet lengths %v do not match manifest %v", ErrInvalidPlacement, got, want)
		}
	}
	return nil
}

// AttackOutcome reports a resolved attack on this board.
type AttackOutcome struct {
	Hit          bool
	SunkShip     *Ship // non-nil when this attack sank a ship
	BoardCleared bool
}

// ApplyAttack resolves an attack coordinate. A cell can be attacked
// at most once; repeats fail with ErrAlreadyTargeted rather than
// re-reporting a hit.
func (b *Board) ApplyAttack(c Coordinate) (AttackOutcome, error) {
	if !b.inBounds(c) {
		return AttackOutcome{}, fmt.Errorf("%w: (%d,%d)", ErrOutOfBounds, c.Row, c.Col)
	}
	switch b.grid[c.Row][c.Col] {
	case CellHit, CellMiss:
		return AttackOutcome{}, fmt.Errorf("%w: (%d,%d)", ErrAlreadyTargeted, c.Row, c.Col)
	case CellShip:
		b.grid[c.Row][c.Col] = CellHit
		ship := b.shipAt[c]
		ship.hit(c)
		b.remaining--
		out := AttackOutcome{Hit: true}
		if ship.Sunk() {
			out.SunkShip = ship
		}
		out.BoardCleared = b.remaining == 0
		return out, nil
	default:
		b.grid[c.Row][c.Col] = CellMiss
		return AttackOutcome{}, nil
	}
}

// MarkMiss reveals an untouched empty cell as a miss. Used by the
// rules layer for the reveal-adjacent-on-sink variant; ship, hit and
// miss cells are left alone.
func (b *Board) MarkMiss(c Coordinate) bool {
	if !b.inBounds(c) || b.grid[c.Row][c.Col] != CellEmpty {
		return false
	}
	b.grid[c.Row][c.Col] = CellMiss
	return true
}

// Rows renders the grid for a snapshot, one string per row.
// hideShips renders the opponent's view (shots only).
func (b *Board) Rows(hideShips bool) []string {
	rows := make([]string, b.size)
	line := make([]byte, b.size)
	for r := 0; r < b.size; r++ {
		for c := 0; c < b.size; c++ {
			line[c] = b.grid[r][c].Rune(hideShips)
		}
		rows[r] = string(line)
	}
	return rows
}
