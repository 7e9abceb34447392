package daemon

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/fusionbridge/swapd/chain"
	"github.com/fusionbridge/swapd/database/models"
	"github.com/fusionbridge/swapd/hashlock"
	"github.com/fusionbridge/swapd/orders"
	"github.com/fusionbridge/swapd/timelock"
)

func (c *Coordinator) handleChainEvent(ctx context.Context, ev chain.Event) {
	switch ev.Kind {
	case chain.EventEscrowCreated:
		log.WithField("chain", ev.Chain).Debugf("Escrow %s created in tx %s", ev.EscrowID, ev.TxID)
	case chain.EventEscrowFunded:
		c.onEscrowFunded(ctx, ev)
	case chain.EventSecretRevealed:
		c.onSecretRevealed(ctx, ev)
	case chain.EventEscrowRefunded:
		c.onEscrowRefunded(ctx, ev)
	}
}

func (c *Coordinator) onEscrowFunded(ctx context.Context, ev chain.Event) {
	if err := c.store.MarkEscrowFunded(ctx, ev.EscrowID, ev.TxID); err != nil {
		if errors.Is(err, orders.ErrEscrowNotFound) {
			log.WithField("chain", ev.Chain).Debugf("Funding event for untracked escrow %s", ev.EscrowID)
		} else if !errors.Is(err, orders.ErrEscrowTerminal) {
			log.WithField("chain", ev.Chain).Errorf("Failed to record funding of escrow %s: %v", ev.EscrowID, err)
		}

		return
	}

	escrow, err := c.store.GetEscrow(ev.EscrowID)
	if err != nil {
		return
	}
	logger := log.WithField("id", escrow.OrderHash)
	logger.Infof("Escrow %s funded on %s", escrow.EscrowID, ev.Chain)

	if escrow.Side != models.EscrowSideDestination {
		return
	}

	// Destination funding confirmed: if this daemon holds the maker's secret
	// it reveals now, otherwise the maker is expected to call RevealSecret.
	c.mu.Lock()
	secret, held := c.secrets[escrow.OrderHash]
	c.mu.Unlock()
	if !held {
		logger.Debug("Destination escrow funded, waiting for maker to reveal the secret")

		return
	}
	if !c.claimReveal(escrow.EscrowID) {
		return
	}
	if err := c.submitReveal(escrow, secret); err != nil {
		c.unclaimReveal(escrow.EscrowID)
		logger.Errorf("Failed to submit secret reveal: %v", err)
	}
}

// submitReveal releases the destination escrow with the maker secret, which
// publishes the secret on chain. The watcher then feeds it back through
// onSecretRevealed and the relay takes care of the source side.
func (c *Coordinator) submitReveal(escrow models.Escrow, secret hashlock.Secret) error {
	b, ok := c.backends[escrow.Chain]
	if !ok {
		return errors.New("no backend configured for chain " + string(escrow.Chain))
	}

	orderHash := escrow.OrderHash
	escrowID := escrow.EscrowID

	return b.submitter.Enqueue(chain.Job{
		Escrow:   escrowID,
		Deadline: escrow.CancellableAt,
		Submit: func(ctx context.Context) (chain.TxRef, error) {
			return b.client.SubmitRelease(ctx, escrowID, secret)
		},
		Done: func(ref chain.TxRef, err error) {
			if err != nil {
				c.unclaimReveal(escrowID)
				log.WithField("id", orderHash).Errorf("Failed to reveal secret on escrow %s: %v", escrowID, err)
				c.alerter.StuckEscrow(orderHash, escrowID, err)

				return
			}
			log.WithField("id", orderHash).WithField("tx", ref).Info("Secret revealed on destination escrow")
		},
	})
}

func (c *Coordinator) onSecretRevealed(ctx context.Context, ev chain.Event) {
	escrow, err := c.store.GetEscrow(ev.EscrowID)
	if err != nil {
		log.WithField("chain", ev.Chain).Debugf("Reveal event for untracked escrow %s", ev.EscrowID)

		return
	}
	logger := log.WithField("id", escrow.OrderHash)

	if err := c.store.MarkEscrowReleased(ctx, ev.EscrowID, ev.TxID); err != nil && !errors.Is(err, orders.ErrEscrowTerminal) {
		logger.Errorf("Failed to mark escrow %s released: %v", ev.EscrowID, err)
	}

	secret, err := hashlock.MakeSecretFromHex(ev.Secret)
	if err != nil {
		logger.Errorf("Observed reveal with unusable secret: %v", err)

		return
	}
	if _, err := c.relay.OnSecretObserved(ctx, escrow.OrderHash, secret); err != nil {
		logger.Errorf("Secret relay failed: %v", err)
	}
}

func (c *Coordinator) onEscrowRefunded(ctx context.Context, ev chain.Event) {
	escrow, err := c.store.GetEscrow(ev.EscrowID)
	if err != nil {
		log.WithField("chain", ev.Chain).Debugf("Refund event for untracked escrow %s", ev.EscrowID)

		return
	}
	logger := log.WithField("id", escrow.OrderHash)

	if err := c.store.MarkEscrowRefunded(ctx, ev.EscrowID, ev.TxID); err != nil && !errors.Is(err, orders.ErrEscrowTerminal) {
		logger.Errorf("Failed to mark escrow %s refunded: %v", ev.EscrowID, err)

		return
	}
	logger.Infof("Escrow %s refunded on %s", ev.EscrowID, ev.Chain)
	c.maybeMarkOrderRefunded(ctx, escrow.OrderHash)
}

// maybeMarkOrderRefunded settles a partially filled order as Refunded once
// every one of its escrows is spent.
func (c *Coordinator) maybeMarkOrderRefunded(ctx context.Context, orderHash string) {
	view, err := c.store.GetOrder(orderHash)
	if err != nil {
		return
	}
	if view.Order.Status != models.OrderStatusPartiallyFilled || len(view.Escrows) == 0 {
		return
	}
	for _, esc := range view.Escrows {
		if !esc.Status.IsTerminal() {
			return
		}
	}

	if err := c.store.UpdateOrderStatus(ctx, orderHash, models.OrderStatusRefunded); err != nil {
		log.WithField("id", orderHash).Warnf("Failed to mark order refunded: %v", err)

		return
	}
	log.WithField("id", orderHash).Info("All escrows settled, order refunded")
}

func (c *Coordinator) handleTimelockEvent(ctx context.Context, ev timelock.Event) {
	switch ev.Kind {
	case timelock.EventStageChange:
		log.WithField("id", ev.OrderHash).Debugf("Escrow %s entered stage %s", ev.EscrowID, ev.Stage)
	case timelock.EventRefundDue:
		c.onRefundDue(ctx, ev)
	}
}

// onRefundDue submits the refund for an escrow that turned cancellable while
// still unspent. Refund jobs carry no deadline: this path must eventually
// succeed, so failures alert, re-arm the guard and wait for the next scan.
func (c *Coordinator) onRefundDue(ctx context.Context, ev timelock.Event) {
	logger := log.WithField("id", ev.OrderHash)

	escrow, err := c.store.GetEscrow(ev.EscrowID)
	if err != nil || escrow.Status != models.EscrowStatusCreated {
		return
	}

	b, ok := c.backends[ev.Chain]
	if !ok {
		logger.Errorf("Refund due for escrow %s on unconfigured chain %s", ev.EscrowID, ev.Chain)

		return
	}

	orderHash := ev.OrderHash
	escrowID := ev.EscrowID
	err = b.submitter.Enqueue(chain.Job{
		Escrow: escrowID,
		Submit: func(ctx context.Context) (chain.TxRef, error) {
			return b.client.SubmitRefund(ctx, escrowID)
		},
		Done: func(ref chain.TxRef, err error) {
			if err != nil {
				logger.Errorf("Refund of escrow %s failed: %v", escrowID, err)
				c.alerter.StuckEscrow(orderHash, escrowID, err)
				if clearErr := c.store.ClearRefundRequested(context.Background(), escrowID); clearErr != nil && !errors.Is(clearErr, orders.ErrEscrowNotFound) {
					logger.Errorf("Failed to re-arm refund for escrow %s: %v", escrowID, clearErr)
				}

				return
			}
			if err := c.store.MarkEscrowRefunded(context.Background(), escrowID, string(ref)); err != nil && !errors.Is(err, orders.ErrEscrowTerminal) {
				logger.Errorf("Failed to mark escrow %s refunded: %v", escrowID, err)
			}
			logger.WithField("tx", ref).Infof("Escrow %s refunded", escrowID)
			c.maybeMarkOrderRefunded(context.Background(), orderHash)
		},
	})
	if err != nil {
		logger.Warnf("Failed to enqueue refund for escrow %s: %v", escrowID, err)
		if clearErr := c.store.ClearRefundRequested(ctx, escrowID); clearErr != nil {
			logger.Errorf("Failed to re-arm refund for escrow %s: %v", escrowID, clearErr)
		}
	}
}
