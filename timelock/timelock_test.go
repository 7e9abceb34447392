package timelock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fusionbridge/swapd/database/models"
)

func TestStageAt(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	escrow := models.Escrow{
		WithdrawalAt:  base.Add(time.Hour),
		PublicAt:      base.Add(2 * time.Hour),
		CancellableAt: base.Add(3 * time.Hour),
	}

	cases := []struct {
		desc string
		now  time.Time
		want models.EscrowStage
	}{
		{desc: "just created", now: base, want: models.EscrowStageActive},
		{desc: "instant before withdrawal opens", now: base.Add(time.Hour - time.Nanosecond), want: models.EscrowStageActive},
		{desc: "withdrawal boundary is inclusive", now: base.Add(time.Hour), want: models.EscrowStageWithdrawal},
		{desc: "public boundary", now: base.Add(2 * time.Hour), want: models.EscrowStagePublic},
		{desc: "cancellable boundary", now: base.Add(3 * time.Hour), want: models.EscrowStageCancellable},
		{desc: "long after cancellable", now: base.Add(100 * time.Hour), want: models.EscrowStageCancellable},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, StageAt(escrow, tc.now))
		})
	}
}

func TestSchedule_Boundaries(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sched := Schedule{ActiveFor: time.Hour, WithdrawalFor: 30 * time.Minute, PublicFor: 15 * time.Minute}

	withdrawalAt, publicAt, cancellableAt := sched.Boundaries(base)
	assert.Equal(t, base.Add(time.Hour), withdrawalAt)
	assert.Equal(t, base.Add(90*time.Minute), publicAt)
	assert.Equal(t, base.Add(105*time.Minute), cancellableAt)
	assert.Equal(t, 105*time.Minute, sched.Total())
}

func TestConfig_Validate(t *testing.T) {
	source := Schedule{ActiveFor: 2 * time.Hour, WithdrawalFor: time.Hour, PublicFor: time.Hour}
	destination := Schedule{ActiveFor: time.Hour, WithdrawalFor: 30 * time.Minute, PublicFor: 30 * time.Minute}

	cases := []struct {
		desc    string
		config  Config
		wantErr string
	}{
		{
			desc:   "source comfortably exceeds destination plus margin",
			config: Config{Source: source, Destination: destination, SafetyMargin: time.Hour},
		},
		{
			desc:   "margin exactly met",
			config: Config{Source: source, Destination: destination, SafetyMargin: 2 * time.Hour},
		},
		{
			desc:    "margin violated",
			config:  Config{Source: source, Destination: destination, SafetyMargin: 3 * time.Hour},
			wantErr: "must exceed destination timelock",
		},
		{
			desc:    "destination outlives source",
			config:  Config{Source: destination, Destination: source, SafetyMargin: time.Minute},
			wantErr: "must exceed destination timelock",
		},
		{
			desc:    "zero stage duration",
			config:  Config{Source: Schedule{ActiveFor: time.Hour, WithdrawalFor: time.Hour}, Destination: destination, SafetyMargin: time.Minute},
			wantErr: "source schedule",
		},
		{
			desc:    "zero margin",
			config:  Config{Source: source, Destination: destination},
			wantErr: "safety margin",
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.config.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tc.wantErr)
			}
		})
	}
}

func TestConfig_For(t *testing.T) {
	config := Config{
		Source:      Schedule{ActiveFor: 2 * time.Hour, WithdrawalFor: time.Hour, PublicFor: time.Hour},
		Destination: Schedule{ActiveFor: time.Hour, WithdrawalFor: 30 * time.Minute, PublicFor: 30 * time.Minute},
	}

	assert.Equal(t, config.Source, config.For(models.EscrowSideSource))
	assert.Equal(t, config.Destination, config.For(models.EscrowSideDestination))
}
