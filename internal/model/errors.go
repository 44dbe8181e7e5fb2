package model

import (
	"errors"
	"fmt"
)

// Common errors used across the application
var (
	// Player errors
	ErrUnknownPlayer   = errors.New("unknown player")
	ErrNicknameTaken   = errors.New("nickname is already taken")
	ErrInvalidNickname = errors.New("invalid nickname")

	// Balance errors
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be a positive integer")

	// Spin errors
	ErrNoSpinsRemaining = fmt.Errorf("no spins remaining: %w", ErrInsufficientBalance)
	ErrSpinInProgress   = errors.New("a spin is already in progress for this player")
	ErrCreditFailure    = errors.New("spin was consumed but the reward could not be credited")
	ErrNoPendingCredit  = errors.New("no pending credit for spin")
)
