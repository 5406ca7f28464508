package rank

import "testing"

func TestTitle(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{-50, "Deckhand"},
		{0, "Deckhand"},
		{99, "Deckhand"},
		{100, "Ensign"},
		{299, "Ensign"},
		{300, "Lieutenant"},
		{600, "Commander"},
		{1200, "Captain"},
		{2500, "Commodore"},
		{5000, "Admiral"},
		{9999, "Admiral"},
		{10000, "Fleet Admiral"},
		{1 << 20, "Fleet Admiral"},
	}
	for _, c := range cases {
		if got := Title(c.score); got != c.want {
			t.Errorf("Title(%d) = %q, want %q", c.score, got, c.want)
		}
	}
}
