package reels

import (
	"github.com/mcoot/lemonslots/internal/dependencies/random"
	"github.com/mcoot/lemonslots/internal/model"
)

// Resolver rolls the reels from an injected randomness source
type Resolver struct {
	random  random.Random
	symbols []model.Symbol
}

// New creates a Resolver over the standard symbol set
func New(random random.Random) *Resolver {
	return &Resolver{
		random:  random,
		symbols: model.Symbols,
	}
}

// Roll draws each reel independently and uniformly from the symbol set
func (r *Resolver) Roll() model.Reels {
	var reels model.Reels
	for i := range reels {
		reels[i] = r.symbols[r.random.Intn(len(r.symbols))]
	}
	return reels
}
