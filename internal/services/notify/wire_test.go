package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/lemonslots/internal/model"
)

func TestSpinEventWireForm(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := model.BalanceEvent{
		Type:      model.EventSpinResolved,
		Timestamp: ts,
		Balance:   model.Balance{PlayerID: "p1", Spins: 4, Points: 500, Version: 9},
		Outcome: &model.SpinOutcome{
			Symbols: model.Reels{model.SymbolSeven, model.SymbolSeven, model.SymbolSeven},
			Won:     true,
			Reward:  500,
			Spins:   4,
			Points:  500,
		},
	}

	data, err := EncodeEvent(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "spin_resolved",
		"player_id": "p1",
		"symbols": ["seven", "seven", "seven"],
		"won": true,
		"reward": 500,
		"spins": 4,
		"points": 500,
		"version": 9,
		"timestamp": "2026-03-01T12:00:00Z"
	}`, string(data))

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
}

func TestGrantEventOmitsOutcome(t *testing.T) {
	ev := model.BalanceEvent{
		Type:    model.EventSpinsGranted,
		Balance: model.Balance{PlayerID: "p1", Spins: 10, Version: 1},
	}

	data, err := EncodeEvent(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "symbols")
	assert.NotContains(t, string(data), "won")

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Nil(t, decoded.Outcome)
	assert.Equal(t, ev.Balance, decoded.Balance)
}

func TestDecodeRejectsWrongReelCount(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"player_id":"p1","symbols":["seven"]}`))
	assert.Error(t, err)
}

func TestParkedRewardWireForm(t *testing.T) {
	ev := model.BalanceEvent{
		Type:    model.EventSpinResolved,
		Balance: model.Balance{PlayerID: "p1", Spins: 2, Version: 4},
		Outcome: &model.SpinOutcome{
			SpinID:        "spin-9",
			Symbols:       model.Reels{model.SymbolSeven, model.SymbolSeven, model.SymbolSeven},
			Won:           true,
			PendingReward: 500,
			Spins:         2,
		},
	}

	data, err := EncodeEvent(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"reward":0`)
	assert.Contains(t, string(data), `"pending_reward":500`)
	assert.Contains(t, string(data), `"spin_id":"spin-9"`)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, ev.Outcome, decoded.Outcome)
}
