package grant

import (
	"fmt"
	"slices"

	"github.com/mcoot/lemonslots/internal/model"
)

// Presets are the fixed grant sizes offered to operators
var Presets = []int64{5, 10}

// PresetAmount returns the spins granted by preset n
func PresetAmount(n int64) (int64, error) {
	if !slices.Contains(Presets, n) {
		return 0, fmt.Errorf("%w: preset must be one of %v", model.ErrInvalidAmount, Presets)
	}
	return n, nil
}
