package spin

import (
	"fmt"
	"time"
)

// Settlement selects how the spin cost and reward reach the store
type Settlement string

const (
	// SettlementAtomic consumes the spin and credits the reward in one store operation
	SettlementAtomic Settlement = "atomic"
	// SettlementTwoStep decrements first and credits separately, parking failed credits
	SettlementTwoStep Settlement = "two-step"
)

// SerializerMode selects what happens to a spin while another is in flight for the same player
type SerializerMode string

const (
	SerializeReject SerializerMode = "reject"
	SerializeQueue  SerializerMode = "queue"
)

// Config holds spin engine settings
type Config struct {
	Settlement Settlement
	Serializer SerializerMode

	// DecrementRetries bounds retries of infrastructure errors on the settle call.
	// Retries reuse the spin id, so a call that landed but lost its reply is not applied twice.
	DecrementRetries      int
	DecrementRetryBackoff time.Duration
	// SettleTimeout bounds each settle call. It runs detached from the caller's context.
	SettleTimeout time.Duration

	// CreditMaxElapsed bounds how long a two-step credit is retried before it is parked
	CreditMaxElapsed      time.Duration
	CreditInitialInterval time.Duration
}

// DefaultConfig returns default spin configuration
func DefaultConfig() Config {
	return Config{
		Settlement:            SettlementAtomic,
		Serializer:            SerializeReject,
		DecrementRetries:      3,
		DecrementRetryBackoff: 50 * time.Millisecond,
		SettleTimeout:         5 * time.Second,
		CreditMaxElapsed:      10 * time.Second,
		CreditInitialInterval: 100 * time.Millisecond,
	}
}

// Validate checks the enum settings
func (c Config) Validate() error {
	switch c.Settlement {
	case SettlementAtomic, SettlementTwoStep:
	default:
		return fmt.Errorf("unknown settlement %q", c.Settlement)
	}
	switch c.Serializer {
	case SerializeReject, SerializeQueue:
	default:
		return fmt.Errorf("unknown serializer mode %q", c.Serializer)
	}
	if c.DecrementRetries < 0 {
		return fmt.Errorf("decrement retries must not be negative")
	}
	return nil
}
