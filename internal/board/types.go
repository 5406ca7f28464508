package board

import "errors"

var (
	ErrInvalidPlacement = errors.New("invalid placement")
	ErrAlreadyPlaced    = errors.New("fleet already placed")
	ErrOutOfBounds      = errors.New("coordinate out of bounds")
	ErrAlreadyTargeted  = errors.New("cell already targeted")
)

// Coordinate is a zero-based grid position. Immutable value type.
type Coordinate struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// CellState is the visible state of one grid cell.
type CellState uint8

const (
	CellEmpty CellState = iota
	CellShip
	CellHit
	CellMiss
)

// Rune returns the snapshot encoding of a cell. hideShips renders
// untouched ship cells as empty, for the opponent's view.
func (c CellState) Rune(hideShips bool) byte {
	switch c {
	case CellShip:
		if hideShips {
			return '.'
		}
		return 'S'
	case CellHit:
		return 'X'
	case CellMiss:
		return 'o'
	default:
		return '.'
	}
}

// ShipSpec is a requested placement: bow cell, length and orientation.
// The bow is the topmost (vertical) or leftmost (horizontal) cell.
type ShipSpec struct {
	Name       string     `json:"name,omitempty"`
	Bow        Coordinate `json:"bow"`
	Length     int        `json:"length"`
	Horizontal bool       `json:"horizontal"`
}

// Cells expands the placement into the run of coordinates it covers.
func (s ShipSpec) Cells() []Coordinate {
	out := make([]Coordinate, 0, s.Length)
	for i := 0; i < s.Length; i++ {
		c := s.Bow
		if s.Horizontal {
			c.Col += i
		} else {
			c.Row += i
		}
		out = append(out, c)
	}
	return out
}

// Ship is a placed fleet unit. Its cells never change after the
// fleet placement is finalized; only the hit flags do.
type Ship struct {
	name  string
	cells []Coordinate
	hits  []bool
}

func (s *Ship) Name() string        { return s.name }
func (s *Ship) Length() int         { return len(s.cells) }
func (s *Ship) Cells() []Coordinate { return s.cells }

// Sunk reports whether every cell of the ship has been hit.
func (s *Ship) Sunk() bool {
	for _, h := range s.hits {
		if !h {
			return false
		}
	}
	return true
}

func (s *Ship) hit(c Coordinate) {
	for i, sc := range s.cells {
		if sc == c {
			s.hits[i] = true
			return
		}
	}
}
