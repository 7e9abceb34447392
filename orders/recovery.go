package orders

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// LoadFromRepository rebuilds the in-memory state from the repository after
// a restart. Returns the number of orders loaded.
func (s *Store) LoadFromRepository(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}

	persisted, err := s.repo.ListOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load orders: %w", err)
	}

	loaded := 0
	for _, order := range persisted {
		escrows, err := s.repo.ListEscrows(ctx, order.OrderHash)
		if err != nil {
			return loaded, fmt.Errorf("failed to load escrows for order %s: %w", order.OrderHash, err)
		}
		fillRows, err := s.repo.ListFills(ctx, order.OrderHash)
		if err != nil {
			return loaded, fmt.Errorf("failed to load fills for order %s: %w", order.OrderHash, err)
		}

		s.mu.Lock()
		if _, ok := s.entries[order.OrderHash]; ok {
			s.mu.Unlock()
			log.WithField("id", order.OrderHash).Warn("Order already loaded, skipping")

			continue
		}
		s.entries[order.OrderHash] = &entry{order: order, escrows: escrows, fills: fillRows}
		for _, esc := range escrows {
			s.escrowOwner[esc.EscrowID] = order.OrderHash
		}
		s.mu.Unlock()
		loaded++
	}

	return loaded, nil
}

// Archive prunes terminal orders whose last update is older than the
// retention window, from memory and from the repository. Non-terminal orders
// are never archived.
func (s *Store) Archive(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)

	type candidate struct {
		hash    string
		escrows []string
	}
	var candidates []candidate
	for _, e := range s.allEntries() {
		e.mu.Lock()
		if e.order.Status.IsTerminal() && e.order.UpdatedAt.Before(cutoff) {
			c := candidate{hash: e.order.OrderHash}
			for _, esc := range e.escrows {
				c.escrows = append(c.escrows, esc.EscrowID)
			}
			candidates = append(candidates, c)
		}
		e.mu.Unlock()
	}

	archived := 0
	for _, c := range candidates {
		s.mu.Lock()
		delete(s.entries, c.hash)
		for _, escrowID := range c.escrows {
			delete(s.escrowOwner, escrowID)
		}
		s.mu.Unlock()

		if s.repo != nil {
			if err := s.repo.DeleteOrderGraph(ctx, c.hash); err != nil {
				log.WithField("id", c.hash).Errorf("Failed to delete archived order: %v", err)
			}
		}
		archived++
	}

	return archived, nil
}
