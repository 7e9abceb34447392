package daemon

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fusionbridge/swapd/money"
	"github.com/fusionbridge/swapd/timelock"
)

// ErrInvalidConfig is returned when the daemon configuration is invalid
func ErrInvalidConfig(message string) error {
	return fmt.Errorf("invalid daemon config: %s", message)
}

// Config holds every tunable of the coordinator. There is no package-level
// state; everything the daemon does is derived from one of these.
type Config struct {
	// Timelocks are the stage schedules stamped onto new escrows.
	Timelocks   timelock.Config
	MinTimelock time.Duration
	MaxTimelock time.Duration

	// Dutch auction defaults. Start and end prices are derived from the
	// oracle rate unless the order intent pins them.
	AuctionDuration  time.Duration
	StartPremium     decimal.Decimal
	EndDiscount      decimal.Decimal
	MaxAuctionRounds int

	// Resolvers is the allow-list of resolver addresses admitted to bid.
	Resolvers []string

	ScanInterval  time.Duration
	SweepInterval time.Duration

	SubmitWorkers   int
	SubmitQueueSize int

	DustFoldLimit money.Money

	// OrderRetention > 0 enables pruning of terminal orders older than the
	// retention window.
	OrderRetention  time.Duration
	ArchiveInterval time.Duration
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		Timelocks: timelock.Config{
			Source:       timelock.Schedule{ActiveFor: 2 * time.Hour, WithdrawalFor: time.Hour, PublicFor: time.Hour},
			Destination:  timelock.Schedule{ActiveFor: time.Hour, WithdrawalFor: 30 * time.Minute, PublicFor: 30 * time.Minute},
			SafetyMargin: 30 * time.Minute,
		},
		MinTimelock:      time.Hour,
		MaxTimelock:      48 * time.Hour,
		AuctionDuration:  3 * time.Minute,
		StartPremium:     decimal.RequireFromString("0.05"),
		EndDiscount:      decimal.RequireFromString("0.05"),
		MaxAuctionRounds: 3,
		ScanInterval:     timelock.DefaultInterval,
		SweepInterval:    time.Second,
		SubmitWorkers:    4,
		SubmitQueueSize:  64,
		OrderRetention:   0,
		ArchiveInterval:  time.Hour,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Timelocks.Validate(); err != nil {
		return fmt.Errorf("invalid daemon config: %w", err)
	}
	if c.MinTimelock <= 0 || c.MaxTimelock < c.MinTimelock {
		return ErrInvalidConfig("timelock bounds must satisfy 0 < min <= max")
	}
	if total := c.Timelocks.Source.Total(); total < c.MinTimelock || total > c.MaxTimelock {
		return ErrInvalidConfig(fmt.Sprintf("source timelock %s is outside [%s, %s]", total, c.MinTimelock, c.MaxTimelock))
	}
	if total := c.Timelocks.Destination.Total(); total < c.MinTimelock || total > c.MaxTimelock {
		return ErrInvalidConfig(fmt.Sprintf("destination timelock %s is outside [%s, %s]", total, c.MinTimelock, c.MaxTimelock))
	}
	if c.AuctionDuration <= 0 {
		return ErrInvalidConfig("auction duration must be positive")
	}
	if c.StartPremium.IsNegative() {
		return ErrInvalidConfig("start premium must be non-negative")
	}
	if c.EndDiscount.IsNegative() || c.EndDiscount.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalidConfig("end discount must be in [0, 1)")
	}
	if c.MaxAuctionRounds <= 0 {
		return ErrInvalidConfig("max auction rounds must be positive")
	}
	if len(c.Resolvers) == 0 {
		return ErrInvalidConfig("at least one resolver must be allow-listed")
	}
	if c.ScanInterval <= 0 {
		return ErrInvalidConfig("scan interval must be positive")
	}
	if c.SweepInterval <= 0 {
		return ErrInvalidConfig("sweep interval must be positive")
	}
	if c.SubmitWorkers <= 0 {
		return ErrInvalidConfig("submit workers must be positive")
	}
	if c.SubmitQueueSize <= 0 {
		return ErrInvalidConfig("submit queue size must be positive")
	}
	if c.OrderRetention > 0 && c.ArchiveInterval <= 0 {
		return ErrInvalidConfig("archive interval must be positive when retention is enabled")
	}

	return nil
}
