// Package daemon wires the swap engine together and sequences the lifecycle
// of every order: intake, Dutch auction, escrow creation, secret relay and
// the refund path. One event loop consumes chain and timelock events; all
// long chain I/O runs inside the per-chain submission pools so a slow ledger
// never stalls the loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/fusionbridge/swapd/auction"
	"github.com/fusionbridge/swapd/chain"
	"github.com/fusionbridge/swapd/database/models"
	"github.com/fusionbridge/swapd/hashlock"
	"github.com/fusionbridge/swapd/orders"
	"github.com/fusionbridge/swapd/rates"
	"github.com/fusionbridge/swapd/relay"
	"github.com/fusionbridge/swapd/timelock"
)

type backend struct {
	client    chain.Client
	submitter *chain.Submitter
	watcher   *chain.Watcher
}

type priceRange struct {
	start decimal.Decimal
	end   decimal.Decimal
}

// Coordinator owns the order store, the auction engine, the timelock
// scheduler and the secret relay, and is the only writer that sequences them.
type Coordinator struct {
	config    *Config
	store     *orders.Store
	engine    *auction.Engine
	scheduler *timelock.Scheduler
	relay     *relay.Relay
	oracle    rates.Oracle
	alerter   Alerter
	backends  map[models.Chain]backend
	events    chan chain.Event

	mu       sync.Mutex
	secrets  map[string]hashlock.Secret
	rounds   map[string]int
	active   map[string]string
	pinned   map[string]priceRange
	revealed map[string]bool

	now func() time.Time
}

// New validates the config and assembles the coordinator with one watcher and
// one submission pool per configured chain.
func New(config *Config, store *orders.Store, clients map[models.Chain]chain.Client, oracle rates.Oracle, alerter Alerter) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return nil, ErrInvalidConfig("at least one chain client is required")
	}
	if alerter == nil {
		alerter = LogAlerter{}
	}

	events := make(chan chain.Event, 256)
	backends := make(map[models.Chain]backend, len(clients))
	targets := make(map[models.Chain]relay.Target, len(clients))
	for name, client := range clients {
		submitter := chain.NewSubmitter(chain.ID(name), client, config.SubmitWorkers, config.SubmitQueueSize)
		backends[name] = backend{
			client:    client,
			submitter: submitter,
			watcher:   chain.NewWatcher(chain.ID(name), client, nil, events),
		}
		targets[name] = relay.Target{Client: client, Submitter: submitter}
	}

	c := &Coordinator{
		config:    config,
		store:     store,
		engine:    auction.NewEngine(config.Resolvers),
		scheduler: timelock.NewScheduler(store, config.ScanInterval),
		oracle:    oracle,
		alerter:   alerter,
		backends:  backends,
		events:    events,
		secrets:   make(map[string]hashlock.Secret),
		rounds:    make(map[string]int),
		active:    make(map[string]string),
		pinned:    make(map[string]priceRange),
		revealed:  make(map[string]bool),
		now:       time.Now,
	}
	c.relay = relay.New(store, targets, alerter)

	return c, nil
}

// Run starts the watchers, submission pools and the timelock scheduler, then
// processes events until ctx is cancelled. A permanently failed watcher or
// scheduler brings the daemon down: running blind on a chain is worse than
// restarting.
func (c *Coordinator) Run(ctx context.Context) error {
	log.Info("Starting swapd coordinator")

	errs := make(chan error, len(c.backends)+1)
	for name, b := range c.backends {
		b.submitter.Start(ctx)
		go func(name models.Chain, w *chain.Watcher) {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				errs <- fmt.Errorf("watcher for %s: %w", name, err)
			}
		}(name, b.watcher)
	}
	go func() {
		if err := c.scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("timelock scheduler: %w", err)
		}
	}()

	sweep := time.NewTicker(c.config.SweepInterval)
	defer sweep.Stop()

	var archiveC <-chan time.Time
	if c.config.OrderRetention > 0 {
		archive := time.NewTicker(c.config.ArchiveInterval)
		defer archive.Stop()
		archiveC = archive.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down swapd coordinator")

			return nil
		case err := <-errs:
			return err
		case ev := <-c.events:
			c.handleChainEvent(ctx, ev)
		case ev := <-c.scheduler.Events():
			c.handleTimelockEvent(ctx, ev)
		case <-sweep.C:
			c.sweep(ctx)
		case <-archiveC:
			if n, err := c.store.Archive(ctx, c.config.OrderRetention); err != nil {
				log.Errorf("Failed to archive orders: %v", err)
			} else if n > 0 {
				log.Infof("Archived %d settled orders", n)
			}
		}
	}
}

// sweep expires due auctions and orders and decides re-auction rounds.
func (c *Coordinator) sweep(ctx context.Context) {
	now := c.now()
	for _, expired := range c.engine.ExpireDue(now) {
		c.onAuctionExpired(ctx, expired)
	}
	for _, orderHash := range c.store.ExpireDue(ctx, now) {
		c.onOrderExpired(orderHash)
	}
	c.dropSettledSecrets()
}

func (c *Coordinator) onAuctionExpired(ctx context.Context, expired auction.Auction) {
	orderHash := expired.OrderHash
	logger := log.WithField("id", orderHash)
	c.engine.Remove(expired.ID)

	c.mu.Lock()
	delete(c.active, orderHash)
	roundsUsed := c.rounds[orderHash]
	c.mu.Unlock()

	if roundsUsed < c.config.MaxAuctionRounds {
		if err := c.startRound(ctx, orderHash); err != nil {
			logger.Warnf("Failed to restart auction: %v", err)
		}

		return
	}

	// Out of rounds. Orders with committed fills keep them; untouched orders
	// are cancelled outright.
	view, err := c.store.GetOrder(orderHash)
	if err != nil {
		logger.Errorf("Failed to load order after auction expiry: %v", err)

		return
	}
	target := models.OrderStatusCancelled
	if len(view.Fills) > 0 {
		target = models.OrderStatusPartiallyFilled
	}
	if err := c.store.UpdateOrderStatus(ctx, orderHash, target); err != nil && !errors.Is(err, orders.ErrOrderTerminal) {
		logger.Warnf("Failed to settle order after final auction round: %v", err)
	}
	logger.Infof("Auction rounds exhausted, order moved to %s", target)

	c.mu.Lock()
	delete(c.rounds, orderHash)
	delete(c.pinned, orderHash)
	c.mu.Unlock()
}

func (c *Coordinator) onOrderExpired(orderHash string) {
	log.WithField("id", orderHash).Info("Order deadline passed, order expired")

	c.mu.Lock()
	auctionID, hadAuction := c.active[orderHash]
	delete(c.active, orderHash)
	delete(c.rounds, orderHash)
	delete(c.pinned, orderHash)
	c.mu.Unlock()

	if hadAuction {
		c.engine.Remove(auctionID)
	}
}

// dropSettledSecrets forgets maker secrets once their order and all its
// escrows are settled or the order is gone from the store.
func (c *Coordinator) dropSettledSecrets() {
	c.mu.Lock()
	hashes := make([]string, 0, len(c.secrets))
	for h := range c.secrets {
		hashes = append(hashes, h)
	}
	c.mu.Unlock()

	for _, orderHash := range hashes {
		view, err := c.store.GetOrder(orderHash)
		if err == nil {
			if !view.Order.Status.IsTerminal() {
				continue
			}
			settled := true
			for _, esc := range view.Escrows {
				if !esc.Status.IsTerminal() {
					settled = false

					break
				}
			}
			if !settled {
				continue
			}
		}
		c.mu.Lock()
		delete(c.secrets, orderHash)
		c.mu.Unlock()
	}
}

// claimReveal reserves the one reveal submission an escrow gets while the
// previous attempt is still pending.
func (c *Coordinator) claimReveal(escrowID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revealed[escrowID] {
		return false
	}
	c.revealed[escrowID] = true

	return true
}

func (c *Coordinator) unclaimReveal(escrowID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.revealed, escrowID)
}
