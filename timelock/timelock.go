// Package timelock derives escrow stages from wall-clock time and drives the
// periodic scan that moves escrows through
// Active -> Withdrawal -> Public -> Cancellable. Stage is a pure function of
// the escrow's absolute boundaries, so a restarted daemon lands every escrow
// in the right stage on its first scan.
package timelock

import (
	"errors"
	"fmt"
	"time"

	"github.com/fusionbridge/swapd/database/models"
)

// Schedule fixes the per-stage durations applied to an escrow when it is
// created. Boundaries are stored on the escrow as absolute times; the
// schedule itself is not consulted again afterwards.
type Schedule struct {
	ActiveFor     time.Duration
	WithdrawalFor time.Duration
	PublicFor     time.Duration
}

func (s Schedule) Total() time.Duration {
	return s.ActiveFor + s.WithdrawalFor + s.PublicFor
}

func (s Schedule) Validate() error {
	if s.ActiveFor <= 0 || s.WithdrawalFor <= 0 || s.PublicFor <= 0 {
		return errors.New("all stage durations must be positive")
	}

	return nil
}

// Boundaries computes the absolute stage boundaries for an escrow created at
// the given instant.
func (s Schedule) Boundaries(createdAt time.Time) (withdrawalAt, publicAt, cancellableAt time.Time) {
	withdrawalAt = createdAt.Add(s.ActiveFor)
	publicAt = withdrawalAt.Add(s.WithdrawalFor)
	cancellableAt = publicAt.Add(s.PublicFor)

	return withdrawalAt, publicAt, cancellableAt
}

// Config pairs the source and destination schedules. The source side must
// stay locked strictly longer than the destination side plus the safety
// margin: the destination escrow is created second and must always run out
// first, otherwise the source depositor could be released against an escrow
// that is already refundable.
type Config struct {
	Source       Schedule
	Destination  Schedule
	SafetyMargin time.Duration
}

func (c Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source schedule: %w", err)
	}
	if err := c.Destination.Validate(); err != nil {
		return fmt.Errorf("destination schedule: %w", err)
	}
	if c.SafetyMargin <= 0 {
		return errors.New("safety margin must be positive")
	}
	if c.Source.Total() < c.Destination.Total()+c.SafetyMargin {
		return fmt.Errorf("source timelock %s must exceed destination timelock %s by at least %s",
			c.Source.Total(), c.Destination.Total(), c.SafetyMargin)
	}

	return nil
}

// For picks the schedule for an escrow side.
func (c Config) For(side models.EscrowSide) Schedule {
	if side == models.EscrowSideDestination {
		return c.Destination
	}

	return c.Source
}

// StageAt derives the stage an escrow is in at the given instant.
func StageAt(escrow models.Escrow, now time.Time) models.EscrowStage {
	switch {
	case now.Before(escrow.WithdrawalAt):
		return models.EscrowStageActive
	case now.Before(escrow.PublicAt):
		return models.EscrowStageWithdrawal
	case now.Before(escrow.CancellableAt):
		return models.EscrowStagePublic
	default:
		return models.EscrowStageCancellable
	}
}
