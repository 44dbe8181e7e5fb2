package rewards

import "github.com/mcoot/lemonslots/internal/model"

// Table maps each symbol to the points a matching triple pays
type Table map[model.Symbol]int64

// Default returns the standard payouts
func Default() Table {
	return Table{
		model.SymbolCherry: 10,
		model.SymbolLemon:  20,
		model.SymbolBank:   50,
		model.SymbolUFO:    100,
		model.SymbolSeven:  500,
	}
}

// Evaluate reports whether all reels match and what they pay.
// Partial matches pay nothing.
func (t Table) Evaluate(reels model.Reels) (won bool, reward int64) {
	first := reels[0]
	for _, sym := range reels[1:] {
		if sym != first {
			return false, 0
		}
	}
	return true, t[first]
}
