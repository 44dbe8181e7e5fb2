package model

import (
	"fmt"
	"strings"
)

// Symbol is one face of a reel
type Symbol string

const (
	SymbolCherry Symbol = "cherry"
	SymbolLemon  Symbol = "lemon"
	SymbolSeven  Symbol = "seven"
	SymbolUFO    Symbol = "ufo"
	SymbolBank   Symbol = "bank"
)

// Symbols is the fixed reel symbol set, in draw order
var Symbols = []Symbol{SymbolCherry, SymbolLemon, SymbolSeven, SymbolUFO, SymbolBank}

// ReelCount is the number of independent reels per spin
const ReelCount = 3

// Reels is an ordered reel outcome. Position matters for display only.
type Reels [ReelCount]Symbol

// String joins the symbols with commas
func (r Reels) String() string {
	parts := make([]string, len(r))
	for i, sym := range r {
		parts[i] = string(sym)
	}
	return strings.Join(parts, ",")
}

// ParseReels reverses Reels.String
func ParseReels(s string) (Reels, error) {
	var reels Reels
	parts := strings.Split(s, ",")
	if len(parts) != ReelCount {
		return reels, fmt.Errorf("expected %d symbols, got %d", ReelCount, len(parts))
	}
	for i, part := range parts {
		reels[i] = Symbol(part)
	}
	return reels, nil
}

// SpinID identifies one spin. Store operations keyed by it apply at most once.
type SpinID string

// SpinOutcome is the result of one resolved spin
type SpinOutcome struct {
	SpinID  SpinID
	Symbols Reels
	Won     bool
	Reward  int64 // amount credited
	// PendingReward is a reward that was earned but is still parked for reconciliation
	PendingReward int64
	Spins         int64 // balance after the spin
	Points        int64
}
