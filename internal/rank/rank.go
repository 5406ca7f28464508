// Package rank maps a player's score to a display title. Read-only
// lookup consumed by the presentation layer; not part of the match
// engine.
package rank

type tier struct {
	min   int
	title string
}

// Highest threshold first.
var tiers = []tier{
	{min: 10000, title: "Fleet Admiral"},
	{min: 5000, title: "Admiral"},
	{min: 2500, title: "Commodore"},
	{min: 1200, title: "Captain"},
	{min: 600, title: "Commander"},
	{min: 300, title: "Lieutenant"},
	{min: 100, title: "Ensign"},
	{min: 0, title: "Deckhand"},
}

// Title returns the rank title for a score. Negative scores clamp to
// the lowest tier.
func Title(score int) string {
	for _, t := range tiers {
		if score >= t.min {
			return t.title
		}
	}
	return tiers[len(tiers)-1].title
}
