package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcoot/lemonslots/internal/model"
)

// EventPayload is the JSON form of a balance event, shared by the live
// feeds and the Redis bridge
type EventPayload struct {
	Type      string    `json:"type"`
	PlayerID  string    `json:"player_id"`
	SpinID    string    `json:"spin_id,omitempty"`
	Symbols   []string  `json:"symbols,omitempty"`
	Won       *bool     `json:"won,omitempty"`
	Reward    *int64    `json:"reward,omitempty"`
	// PendingReward was won but is parked awaiting reconciliation
	PendingReward int64 `json:"pending_reward,omitempty"`
	Spins     int64     `json:"spins"`
	Points    int64     `json:"points"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEventPayload converts an event to its wire form
func NewEventPayload(event model.BalanceEvent) EventPayload {
	p := EventPayload{
		Type:      string(event.Type),
		PlayerID:  string(event.PlayerID()),
		Spins:     event.Balance.Spins,
		Points:    event.Balance.Points,
		Version:   event.Balance.Version,
		Timestamp: event.Timestamp,
	}
	if o := event.Outcome; o != nil {
		p.Symbols = make([]string, len(o.Symbols))
		for i, sym := range o.Symbols {
			p.Symbols[i] = string(sym)
		}
		won, reward := o.Won, o.Reward
		p.Won = &won
		p.Reward = &reward
		p.SpinID = string(o.SpinID)
		p.PendingReward = o.PendingReward
	}
	return p
}

// Event converts the payload back to a balance event
func (p EventPayload) Event() (model.BalanceEvent, error) {
	event := model.BalanceEvent{
		Type:      model.EventType(p.Type),
		Timestamp: p.Timestamp,
		Balance: model.Balance{
			PlayerID: model.PlayerID(p.PlayerID),
			Spins:    p.Spins,
			Points:   p.Points,
			Version:  p.Version,
		},
	}
	if len(p.Symbols) == 0 {
		return event, nil
	}
	if len(p.Symbols) != model.ReelCount {
		return model.BalanceEvent{}, fmt.Errorf("expected %d symbols, got %d", model.ReelCount, len(p.Symbols))
	}

	outcome := &model.SpinOutcome{
		SpinID:        model.SpinID(p.SpinID),
		PendingReward: p.PendingReward,
		Spins:         p.Spins,
		Points:        p.Points,
	}
	for i, sym := range p.Symbols {
		outcome.Symbols[i] = model.Symbol(sym)
	}
	if p.Won != nil {
		outcome.Won = *p.Won
	}
	if p.Reward != nil {
		outcome.Reward = *p.Reward
	}
	event.Outcome = outcome
	return event, nil
}

// EncodeEvent marshals an event to JSON
func EncodeEvent(event model.BalanceEvent) ([]byte, error) {
	return json.Marshal(NewEventPayload(event))
}

// DecodeEvent unmarshals an event produced by EncodeEvent
func DecodeEvent(data []byte) (model.BalanceEvent, error) {
	var p EventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return model.BalanceEvent{}, err
	}
	return p.Event()
}
