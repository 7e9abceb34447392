// Package relay propagates a secret observed on one chain to every other
// escrow of the same order. A missed relay turns an atomic swap into a
// one-sided loss, so submissions run through the per-chain pools with
// deadlines bounded by each escrow's withdrawal window.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fusionbridge/swapd/chain"
	"github.com/fusionbridge/swapd/database/models"
	"github.com/fusionbridge/swapd/hashlock"
	"github.com/fusionbridge/swapd/orders"
)

// ErrSecretMismatch means the observed secret does not hash to the order's
// hashlock. Either a protocol bug or a forgery attempt; no funds move.
var ErrSecretMismatch = errors.New("secret does not match order hashlock")

// Alerter receives the relay's escalations. The daemon's alerter satisfies it.
type Alerter interface {
	SecretMismatch(orderHash string, lock hashlock.Hash)
	RelayAtRisk(orderHash, escrowID string, remaining time.Duration)
}

// Target bundles the chain access the relay needs for one ledger.
type Target struct {
	Client    chain.Client
	Submitter *chain.Submitter
}

type Relay struct {
	store   *orders.Store
	targets map[models.Chain]Target
	alerter Alerter

	mu       sync.Mutex
	inflight map[string]bool

	now func() time.Time
}

func New(store *orders.Store, targets map[models.Chain]Target, alerter Alerter) *Relay {
	return &Relay{
		store:    store,
		targets:  targets,
		alerter:  alerter,
		inflight: make(map[string]bool),
		now:      time.Now,
	}
}

// OnSecretObserved verifies the secret against the order's hashlock and
// enqueues a release for every escrow of the order that is still unspent and
// whose withdrawal window is open. Escrows whose window has already closed
// are left for the refund path. Returns the number of releases enqueued.
//
// Racing observers are fine: an already-released escrow is a no-op and an
// escrow with a relay in flight is claimed by whoever got there first.
func (r *Relay) OnSecretObserved(ctx context.Context, orderHash string, secret hashlock.Secret) (int, error) {
	view, err := r.store.GetOrder(orderHash)
	if err != nil {
		return 0, err
	}

	lock, err := hashlock.MakeHashFromHex(view.Order.Hashlock)
	if err != nil {
		return 0, fmt.Errorf("failed to parse order hashlock: %w", err)
	}
	if !lock.Matches(secret) {
		log.WithField("id", orderHash).Error("Observed secret does not match order hashlock")
		r.alerter.SecretMismatch(orderHash, lock)

		return 0, ErrSecretMismatch
	}

	now := r.now()
	enqueued := 0
	for _, escrow := range view.Escrows {
		if escrow.Status != models.EscrowStatusCreated {
			continue
		}
		if !now.Before(escrow.PublicAt) {
			// Too late to release safely; the timelock scheduler will raise
			// RefundDue once the escrow turns cancellable.
			log.WithField("id", orderHash).
				Warnf("Withdrawal window closed for escrow %s, routing to refund", escrow.EscrowID)

			continue
		}
		if !r.claim(escrow.EscrowID) {
			continue
		}

		target, ok := r.targets[escrow.Chain]
		if !ok {
			r.release(escrow.EscrowID)
			log.WithField("id", orderHash).
				Errorf("No chain target configured for %s, cannot relay to escrow %s", escrow.Chain, escrow.EscrowID)

			continue
		}

		if err := r.enqueueRelease(orderHash, escrow, target, secret); err != nil {
			r.release(escrow.EscrowID)
			log.WithField("id", orderHash).
				Warnf("Failed to enqueue release for escrow %s: %v", escrow.EscrowID, err)

			continue
		}
		enqueued++
	}

	return enqueued, nil
}

func (r *Relay) enqueueRelease(orderHash string, escrow models.Escrow, target Target, secret hashlock.Secret) error {
	escrowID := escrow.EscrowID
	deadline := escrow.PublicAt

	return target.Submitter.Enqueue(chain.Job{
		Escrow:   escrowID,
		Deadline: deadline,
		Submit: func(ctx context.Context) (chain.TxRef, error) {
			return target.Client.SubmitRelease(ctx, escrowID, secret)
		},
		Done: func(ref chain.TxRef, err error) {
			defer r.release(escrowID)
			if err != nil {
				remaining := time.Until(deadline)
				log.WithField("id", orderHash).
					Errorf("Failed to relay secret to escrow %s with %s left in withdrawal window: %v", escrowID, remaining, err)
				r.alerter.RelayAtRisk(orderHash, escrowID, remaining)

				return
			}
			if err := r.store.MarkEscrowReleased(context.Background(), escrowID, string(ref)); err != nil {
				if !errors.Is(err, orders.ErrEscrowTerminal) {
					log.WithField("id", orderHash).
						Errorf("Failed to mark escrow %s released: %v", escrowID, err)
				}

				return
			}
			log.WithField("id", orderHash).
				WithField("tx", ref).
				Infof("Secret relayed, escrow %s released", escrowID)
		},
	})
}

// claim reserves an escrow for this relay attempt.
func (r *Relay) claim(escrowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[escrowID] {
		return false
	}
	r.inflight[escrowID] = true

	return true
}

func (r *Relay) release(escrowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, escrowID)
}
