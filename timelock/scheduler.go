package timelock

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fusionbridge/swapd/database/models"
	"github.com/fusionbridge/swapd/orders"
)

type EventKind string

const (
	EventStageChange EventKind = "STAGE_CHANGE"
	EventRefundDue   EventKind = "REFUND_DUE"
)

type Event struct {
	Kind      EventKind
	OrderHash string
	EscrowID  string
	Chain     models.Chain
	Stage     models.EscrowStage
	At        time.Time
}

const DefaultInterval = 2 * time.Second

// Scheduler scans all unsettled escrows on a fixed interval instead of
// keeping one timer per escrow, so resource usage stays flat however many
// escrows are live. Stage changes are written to the store and emitted as
// events; an escrow that reaches Cancellable while still unreleased
// additionally emits RefundDue, once, until the coordinator re-arms it after
// a failed refund.
type Scheduler struct {
	store    *orders.Store
	interval time.Duration
	out      chan Event
	now      func() time.Time
}

func NewScheduler(store *orders.Store, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Scheduler{
		store:    store,
		interval: interval,
		out:      make(chan Event, 64),
		now:      time.Now,
	}
}

func (s *Scheduler) Events() <-chan Event {
	return s.out
}

// Run scans immediately, then on every tick, until the context ends. The
// immediate scan is what catches up stages after a restart.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.emit(ctx, s.Scan(ctx, s.now())); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.emit(ctx, s.Scan(ctx, s.now())); err != nil {
				return err
			}
		}
	}
}

// Scan advances every unsettled escrow to the stage the clock says it is in
// and collects the resulting events. Intermediate stages that elapsed while
// the daemon was down are skipped, not replayed.
func (s *Scheduler) Scan(ctx context.Context, now time.Time) []Event {
	var events []Event
	for _, escrow := range s.store.ListEscrows(models.EscrowStatusCreated) {
		stage := StageAt(escrow, now)
		if stage != escrow.Stage {
			if err := s.store.SetEscrowStage(ctx, escrow.EscrowID, stage); err != nil {
				log.WithField("id", escrow.OrderHash).
					Errorf("Failed to advance escrow %s to stage %s: %v", escrow.EscrowID, stage, err)

				continue
			}
			events = append(events, Event{
				Kind:      EventStageChange,
				OrderHash: escrow.OrderHash,
				EscrowID:  escrow.EscrowID,
				Chain:     escrow.Chain,
				Stage:     stage,
				At:        now,
			})
		}

		if stage == models.EscrowStageCancellable {
			first, err := s.store.MarkRefundRequested(ctx, escrow.EscrowID)
			if err != nil {
				log.WithField("id", escrow.OrderHash).
					Errorf("Failed to mark refund requested for escrow %s: %v", escrow.EscrowID, err)

				continue
			}
			if first {
				events = append(events, Event{
					Kind:      EventRefundDue,
					OrderHash: escrow.OrderHash,
					EscrowID:  escrow.EscrowID,
					Chain:     escrow.Chain,
					Stage:     stage,
					At:        now,
				})
			}
		}
	}

	return events
}

func (s *Scheduler) emit(ctx context.Context, events []Event) error {
	for _, event := range events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.out <- event:
		}
	}

	return nil
}
