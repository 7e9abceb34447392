package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/fusionbridge/swapd/database/models"
)

// AddEscrow registers a new escrow under its order. Escrows may still be
// added to a Filled order: the destination side of a closing fill is created
// after the fill is recorded.
func (s *Store) AddEscrow(ctx context.Context, escrow *models.Escrow) error {
	if escrow.EscrowID == "" || escrow.OrderHash == "" {
		return errors.New("escrow id and order hash are required")
	}
	if escrow.Status == "" {
		escrow.Status = models.EscrowStatusCreated
	}
	if escrow.Stage == "" {
		escrow.Stage = models.EscrowStageActive
	}

	s.mu.Lock()
	e, ok := s.entries[escrow.OrderHash]
	if !ok {
		s.mu.Unlock()

		return ErrOrderNotFound
	}
	if _, dup := s.escrowOwner[escrow.EscrowID]; dup {
		s.mu.Unlock()

		return ErrEscrowExists
	}
	e.mu.Lock()
	switch e.order.Status {
	case models.OrderStatusAuctionActive, models.OrderStatusPartiallyFilled, models.OrderStatusFilled:
	default:
		e.mu.Unlock()
		s.mu.Unlock()

		return fmt.Errorf("%w: escrows not accepted while %s", ErrInvalidTransition, e.order.Status)
	}
	s.escrowOwner[escrow.EscrowID] = escrow.OrderHash
	s.mu.Unlock()
	defer e.mu.Unlock()

	now := s.now()
	escrow.CreatedAt = now
	escrow.UpdatedAt = now
	e.escrows = append(e.escrows, escrow)
	s.persist(ctx, e)

	return nil
}

func (s *Store) GetEscrow(escrowID string) (models.Escrow, error) {
	e, err := s.escrowEntry(escrowID)
	if err != nil {
		return models.Escrow{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	esc := e.findEscrow(escrowID)
	if esc == nil {
		return models.Escrow{}, ErrEscrowNotFound
	}

	return *esc, nil
}

func (s *Store) EscrowsForOrder(orderHash string) ([]models.Escrow, error) {
	e, err := s.entryFor(orderHash)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Escrow, 0, len(e.escrows))
	for _, esc := range e.escrows {
		out = append(out, *esc)
	}

	return out, nil
}

// ListEscrows snapshots every escrow currently in the given status across
// all orders. The scheduler scans Created escrows this way on every tick.
func (s *Store) ListEscrows(status models.EscrowStatus) []models.Escrow {
	var out []models.Escrow
	for _, e := range s.allEntries() {
		e.mu.Lock()
		for _, esc := range e.escrows {
			if esc.Status == status {
				out = append(out, *esc)
			}
		}
		e.mu.Unlock()
	}

	return out
}

// MarkEscrowFunded records the confirmed funding transaction. Repeats
// overwrite, a funded escrow stays funded.
func (s *Store) MarkEscrowFunded(ctx context.Context, escrowID, txID string) error {
	e, err := s.escrowEntry(escrowID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	esc := e.findEscrow(escrowID)
	if esc == nil {
		return ErrEscrowNotFound
	}
	if esc.Status.IsTerminal() {
		return ErrEscrowTerminal
	}

	esc.FundingTxID = txID
	esc.UpdatedAt = s.now()
	s.persist(ctx, e)

	return nil
}

// MarkEscrowReleased moves an escrow Created -> Released. Spent escrows
// reject the transition with ErrEscrowTerminal; the relay treats that as a
// benign no-op when racing duplicate reveals.
func (s *Store) MarkEscrowReleased(ctx context.Context, escrowID, txID string) error {
	return s.settleEscrow(ctx, escrowID, models.EscrowStatusReleased, txID)
}

// MarkEscrowRefunded moves an escrow Created -> Refunded.
func (s *Store) MarkEscrowRefunded(ctx context.Context, escrowID, txID string) error {
	return s.settleEscrow(ctx, escrowID, models.EscrowStatusRefunded, txID)
}

func (s *Store) settleEscrow(ctx context.Context, escrowID string, status models.EscrowStatus, txID string) error {
	e, err := s.escrowEntry(escrowID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	esc := e.findEscrow(escrowID)
	if esc == nil {
		return ErrEscrowNotFound
	}
	if esc.Status.IsTerminal() {
		return ErrEscrowTerminal
	}

	esc.Status = status
	switch status {
	case models.EscrowStatusReleased:
		esc.ReleaseTxID = txID
	case models.EscrowStatusRefunded:
		esc.RefundTxID = txID
	}
	esc.UpdatedAt = s.now()
	s.persist(ctx, e)

	return nil
}

// SetEscrowStage records a timelock stage transition. Stages only move
// forward; a repeat of the current stage is a no-op.
func (s *Store) SetEscrowStage(ctx context.Context, escrowID string, stage models.EscrowStage) error {
	e, err := s.escrowEntry(escrowID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	esc := e.findEscrow(escrowID)
	if esc == nil {
		return ErrEscrowNotFound
	}
	if stage == esc.Stage {
		return nil
	}
	if stage.Ordinal() < esc.Stage.Ordinal() {
		return fmt.Errorf("%w: escrow stage %s -> %s", ErrInvalidTransition, esc.Stage, stage)
	}

	esc.Stage = stage
	esc.UpdatedAt = s.now()
	s.persist(ctx, e)

	return nil
}

// MarkRefundRequested flags that the refund for an escrow has been handed to
// the submitter. Returns true only the first time, so the scheduler requests
// each refund exactly once however often RefundDue fires.
func (s *Store) MarkRefundRequested(ctx context.Context, escrowID string) (bool, error) {
	e, err := s.escrowEntry(escrowID)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	esc := e.findEscrow(escrowID)
	if esc == nil {
		return false, ErrEscrowNotFound
	}
	if esc.Status.IsTerminal() {
		return false, ErrEscrowTerminal
	}
	if esc.RefundRequestedAt != nil {
		return false, nil
	}

	now := s.now()
	esc.RefundRequestedAt = &now
	esc.UpdatedAt = now
	s.persist(ctx, e)

	return true, nil
}

// ClearRefundRequested re-arms the refund guard after a failed submission so
// the next scheduler pass retries it.
func (s *Store) ClearRefundRequested(ctx context.Context, escrowID string) error {
	e, err := s.escrowEntry(escrowID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	esc := e.findEscrow(escrowID)
	if esc == nil {
		return ErrEscrowNotFound
	}
	esc.RefundRequestedAt = nil
	esc.UpdatedAt = s.now()
	s.persist(ctx, e)

	return nil
}

func (s *Store) escrowEntry(escrowID string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orderHash, ok := s.escrowOwner[escrowID]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	e, ok := s.entries[orderHash]
	if !ok {
		return nil, ErrEscrowNotFound
	}

	return e, nil
}

func (e *entry) findEscrow(escrowID string) *models.Escrow {
	for _, esc := range e.escrows {
		if esc.EscrowID == escrowID {
			return esc
		}
	}

	return nil
}
