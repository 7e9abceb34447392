package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/fusionbridge/swapd/auction"
	"github.com/fusionbridge/swapd/chain"
	"github.com/fusionbridge/swapd/database/models"
	"github.com/fusionbridge/swapd/fills"
	"github.com/fusionbridge/swapd/hashlock"
	"github.com/fusionbridge/swapd/money"
	"github.com/fusionbridge/swapd/orders"
	"github.com/fusionbridge/swapd/relay"
)

var (
	ErrInvalidIntent       = errors.New("invalid order intent")
	ErrNotCancellable      = errors.New("order can no longer be cancelled")
	ErrNoFundedDestination = errors.New("no funded destination escrow to reveal against")
	ErrRevealWindowClosed  = errors.New("destination escrow is already cancellable")
)

// OrderIntent is a maker's request to swap. When Hashlock is empty the daemon
// generates and holds the secret and reveals it automatically once the
// destination escrow is funded. StartPrice and EndPrice pin the auction
// window; left zero, prices are derived from the rate oracle.
type OrderIntent struct {
	Maker              string
	MakerAsset         string
	MakerAmount        money.Money
	TakerAsset         string
	TakerAmount        money.Money
	SourceChain        models.Chain
	DestinationChain   models.Chain
	DestinationAddress string
	Hashlock           string
	AllowPartialFills  bool
	MinFillAmount      money.Money
	Deadline           time.Time
	StartPrice         decimal.Decimal
	EndPrice           decimal.Decimal
}

func (i OrderIntent) validate(now time.Time, maxTimelock time.Duration) error {
	if i.Maker == "" {
		return fmt.Errorf("%w: maker is required", ErrInvalidIntent)
	}
	if i.MakerAsset == "" || i.TakerAsset == "" {
		return fmt.Errorf("%w: maker and taker assets are required", ErrInvalidIntent)
	}
	if i.MakerAmount == 0 {
		return fmt.Errorf("%w: maker amount must be positive", ErrInvalidIntent)
	}
	if i.TakerAmount == 0 {
		return fmt.Errorf("%w: taker amount must be positive", ErrInvalidIntent)
	}
	if !i.SourceChain.IsValid() {
		return fmt.Errorf("%w: unsupported source chain %q", ErrInvalidIntent, i.SourceChain)
	}
	if !i.DestinationChain.IsValid() {
		return fmt.Errorf("%w: unsupported destination chain %q", ErrInvalidIntent, i.DestinationChain)
	}
	if i.SourceChain == i.DestinationChain {
		return fmt.Errorf("%w: source and destination chains must differ", ErrInvalidIntent)
	}
	if i.DestinationAddress == "" {
		return fmt.Errorf("%w: destination address is required", ErrInvalidIntent)
	}
	if i.Hashlock != "" {
		if _, err := hashlock.MakeHashFromHex(i.Hashlock); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidIntent, err)
		}
	}
	if i.MinFillAmount > i.MakerAmount {
		return fmt.Errorf("%w: min fill amount exceeds maker amount", ErrInvalidIntent)
	}
	if !i.Deadline.IsZero() {
		if !i.Deadline.After(now) {
			return fmt.Errorf("%w: deadline is in the past", ErrInvalidIntent)
		}
		if i.Deadline.After(now.Add(maxTimelock)) {
			return fmt.Errorf("%w: deadline is more than %s away", ErrInvalidIntent, maxTimelock)
		}
	}
	if !i.StartPrice.IsZero() || !i.EndPrice.IsZero() {
		if i.StartPrice.IsZero() || i.EndPrice.IsZero() {
			return fmt.Errorf("%w: start and end price must be pinned together", ErrInvalidIntent)
		}
		if i.EndPrice.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: end price must be positive", ErrInvalidIntent)
		}
		if i.StartPrice.LessThan(i.EndPrice) {
			return fmt.Errorf("%w: start price is below end price", ErrInvalidIntent)
		}
	}

	return nil
}

// SubmitOrder validates the intent, creates the order and opens the first
// auction round. The returned order hash is the handle for everything that
// follows.
func (c *Coordinator) SubmitOrder(ctx context.Context, intent OrderIntent) (string, error) {
	now := c.now()
	if err := intent.validate(now, c.config.MaxTimelock); err != nil {
		return "", err
	}

	lockHex := intent.Hashlock
	var generated *hashlock.Secret
	if lockHex == "" {
		secret, err := hashlock.NewSecret()
		if err != nil {
			return "", fmt.Errorf("failed to generate secret: %w", err)
		}
		generated = &secret
		lockHex = secret.Hash().String()
	}

	deadline := intent.Deadline
	if deadline.IsZero() {
		deadline = now.Add(c.config.MaxTimelock)
	}

	orderHash := newOrderHash(intent, lockHex, now)
	order := &models.SwapOrder{
		OrderHash:          orderHash,
		Maker:              intent.Maker,
		MakerAsset:         intent.MakerAsset,
		MakerAmount:        intent.MakerAmount,
		TakerAsset:         intent.TakerAsset,
		TakerAmount:        intent.TakerAmount,
		SourceChain:        intent.SourceChain,
		DestinationChain:   intent.DestinationChain,
		DestinationAddress: intent.DestinationAddress,
		Hashlock:           lockHex,
		AllowPartialFills:  intent.AllowPartialFills,
		MinFillAmount:      intent.MinFillAmount,
		Deadline:           deadline,
	}
	if err := c.store.CreateOrder(ctx, order); err != nil {
		return "", err
	}
	logger := log.WithField("id", orderHash)
	logger.Infof("Order accepted: %d %s on %s for %d %s on %s",
		intent.MakerAmount, intent.MakerAsset, intent.SourceChain,
		intent.TakerAmount, intent.TakerAsset, intent.DestinationChain)

	c.mu.Lock()
	if generated != nil {
		c.secrets[orderHash] = *generated
	}
	if !intent.StartPrice.IsZero() {
		c.pinned[orderHash] = priceRange{start: intent.StartPrice, end: intent.EndPrice}
	}
	c.mu.Unlock()

	if err := c.startRound(ctx, orderHash); err != nil {
		logger.Warnf("Order parked, auction could not start: %v", err)
	}

	return orderHash, nil
}

// newOrderHash derives a unique identity for the order. The uuid nonce keeps
// byte-identical intents from colliding.
func newOrderHash(intent OrderIntent, lockHex string, now time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%d|%s|%s|%s|%s|%d|%s",
		intent.Maker, intent.MakerAsset, intent.MakerAmount,
		intent.TakerAsset, intent.TakerAmount,
		intent.SourceChain, intent.DestinationChain, intent.DestinationAddress,
		lockHex, now.UnixNano(), uuid.NewString())

	return hex.EncodeToString(h.Sum(nil))
}

// startRound opens the next Dutch auction round for an order.
func (c *Coordinator) startRound(ctx context.Context, orderHash string) error {
	view, err := c.store.GetOrder(orderHash)
	if err != nil {
		return err
	}

	switch view.Order.Status {
	case models.OrderStatusPending, models.OrderStatusPartiallyFilled:
		if err := c.store.UpdateOrderStatus(ctx, orderHash, models.OrderStatusAuctionActive); err != nil {
			return err
		}
	case models.OrderStatusAuctionActive:
	default:
		return fmt.Errorf("cannot auction order in status %s", view.Order.Status)
	}

	start, end, err := c.priceWindow(ctx, view.Order)
	if err != nil {
		c.parkOrder(ctx, orderHash)

		return fmt.Errorf("failed to price auction: %w", err)
	}

	auctionID, err := c.engine.StartAuction(orderHash, start, end, c.config.AuctionDuration)
	if err != nil {
		c.parkOrder(ctx, orderHash)

		return err
	}

	c.mu.Lock()
	c.active[orderHash] = auctionID
	c.rounds[orderHash]++
	round := c.rounds[orderHash]
	c.mu.Unlock()
	log.WithField("id", orderHash).Infof("Auction round %d of %d open", round, c.config.MaxAuctionRounds)

	return nil
}

// parkOrder returns an order to a resting status after a failed round start.
func (c *Coordinator) parkOrder(ctx context.Context, orderHash string) {
	view, err := c.store.GetOrder(orderHash)
	if err != nil || view.Order.Status != models.OrderStatusAuctionActive {
		return
	}
	target := models.OrderStatusPending
	if len(view.Fills) > 0 {
		target = models.OrderStatusPartiallyFilled
	}
	if err := c.store.UpdateOrderStatus(ctx, orderHash, target); err != nil {
		log.WithField("id", orderHash).Warnf("Failed to park order: %v", err)
	}
}

// priceWindow resolves the auction start and end price for an order, either
// pinned by the intent or derived from the oracle rate with the configured
// premium and discount.
func (c *Coordinator) priceWindow(ctx context.Context, order models.SwapOrder) (decimal.Decimal, decimal.Decimal, error) {
	c.mu.Lock()
	pin, ok := c.pinned[order.OrderHash]
	c.mu.Unlock()
	if ok {
		return pin.start, pin.end, nil
	}

	rate, err := c.oracle.Rate(ctx, order.MakerAsset, order.TakerAsset)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	one := decimal.NewFromInt(1)

	return rate.Mul(one.Add(c.config.StartPremium)), rate.Mul(one.Sub(c.config.EndDiscount)), nil
}

// PlaceBid routes a resolver's bid to the auction engine and, when the bid
// wins, commits the fill and creates the escrow pair. fillAmount zero means
// the full remaining amount.
func (c *Coordinator) PlaceBid(ctx context.Context, auctionID, resolver string, price decimal.Decimal, gasEstimate uint64, fillAmount money.Money) (auction.BidResult, error) {
	auc, err := c.engine.Get(auctionID)
	if err != nil {
		return auction.BidResult{}, err
	}
	view, err := c.store.GetOrder(auc.OrderHash)
	if err != nil {
		return auction.BidResult{}, err
	}

	amount := fillAmount
	if amount == 0 {
		amount = view.Order.RemainingAmount
	}
	// Check the fill before the bid can win: a bid whose fill is rejected
	// must not settle the auction.
	if _, err := fills.Decide(c.policyFor(view.Order), view.Order.RemainingAmount, amount); err != nil {
		return auction.BidResult{}, err
	}

	result, err := c.engine.PlaceBid(auctionID, resolver, price, gasEstimate)
	if err != nil || !result.Accepted {
		return result, err
	}
	// The auction is settled; the engine's copy of it and its bid can go.
	c.engine.Remove(auctionID)

	if err := c.afterWin(ctx, auc.OrderHash, result.Bid, amount); err != nil {
		return result, err
	}

	return result, nil
}

func (c *Coordinator) policyFor(order models.SwapOrder) fills.Policy {
	return fills.Policy{
		AllowPartialFills: order.AllowPartialFills,
		MinFill:           order.MinFillAmount,
		DustFoldLimit:     c.config.DustFoldLimit,
	}
}

// afterWin commits the winning bid: auction result onto the order, fill into
// the ledger, escrow pair onto the chains, and a fresh round for any
// remainder.
func (c *Coordinator) afterWin(ctx context.Context, orderHash string, bid *auction.Bid, amount money.Money) error {
	logger := log.WithField("id", orderHash)

	c.mu.Lock()
	delete(c.active, orderHash)
	c.mu.Unlock()

	if err := c.store.SetAuctionResult(ctx, orderHash, bid.Resolver, bid.Price); err != nil {
		return fmt.Errorf("failed to record auction result: %w", err)
	}
	decision, err := c.store.RecordFill(ctx, orderHash, bid.Resolver, amount, bid.Price)
	if err != nil {
		return fmt.Errorf("failed to record fill: %w", err)
	}
	logger.Infof("Fill of %d committed by %s at %s, %d remaining", decision.Granted, bid.Resolver, bid.Price, decision.Remaining)

	if err := c.createEscrows(ctx, orderHash, bid.Resolver, bid.Price, decision.Granted); err != nil {
		logger.Errorf("Failed to create escrows: %v", err)
	}

	if decision.Completes {
		return nil
	}
	c.mu.Lock()
	roundsUsed := c.rounds[orderHash]
	c.mu.Unlock()
	if roundsUsed < c.config.MaxAuctionRounds {
		if err := c.startRound(ctx, orderHash); err != nil {
			logger.Warnf("Failed to re-auction remainder: %v", err)
		}
	} else {
		logger.Info("Auction rounds exhausted with remainder unfilled")
	}

	return nil
}

// createEscrows registers and submits the source and destination escrows for
// a committed fill. The destination amount converts the granted maker amount
// at the winning rate.
func (c *Coordinator) createEscrows(ctx context.Context, orderHash, resolver string, rate decimal.Decimal, granted money.Money) error {
	view, err := c.store.GetOrder(orderHash)
	if err != nil {
		return err
	}
	order := view.Order

	destAmount, err := granted.ApplyRate(rate)
	if err != nil {
		return fmt.Errorf("failed to size destination escrow: %w", err)
	}

	now := c.now()
	srcW, srcP, srcC := c.config.Timelocks.For(models.EscrowSideSource).Boundaries(now)
	dstW, dstP, dstC := c.config.Timelocks.For(models.EscrowSideDestination).Boundaries(now)

	escrows := []*models.Escrow{
		{
			EscrowID:      uuid.NewString(),
			OrderHash:     orderHash,
			Chain:         order.SourceChain,
			Side:          models.EscrowSideSource,
			Resolver:      resolver,
			Amount:        granted,
			Hashlock:      order.Hashlock,
			WithdrawalAt:  srcW,
			PublicAt:      srcP,
			CancellableAt: srcC,
		},
		{
			EscrowID:      uuid.NewString(),
			OrderHash:     orderHash,
			Chain:         order.DestinationChain,
			Side:          models.EscrowSideDestination,
			Resolver:      resolver,
			Amount:        destAmount,
			Hashlock:      order.Hashlock,
			WithdrawalAt:  dstW,
			PublicAt:      dstP,
			CancellableAt: dstC,
		},
	}

	for _, escrow := range escrows {
		if err := c.store.AddEscrow(ctx, escrow); err != nil {
			return err
		}
		if err := c.submitEscrowCreation(escrow); err != nil {
			if vErr := c.store.MarkEscrowRefunded(ctx, escrow.EscrowID, ""); vErr != nil && !errors.Is(vErr, orders.ErrEscrowTerminal) {
				log.WithField("id", orderHash).Errorf("Failed to void escrow %s: %v", escrow.EscrowID, vErr)
			}

			return fmt.Errorf("failed to submit escrow creation: %w", err)
		}
	}

	return nil
}

func (c *Coordinator) submitEscrowCreation(escrow *models.Escrow) error {
	b, ok := c.backends[escrow.Chain]
	if !ok {
		return fmt.Errorf("no backend configured for chain %s", escrow.Chain)
	}
	lock, err := hashlock.MakeHashFromHex(escrow.Hashlock)
	if err != nil {
		return fmt.Errorf("failed to parse hashlock: %w", err)
	}

	orderHash := escrow.OrderHash
	escrowID := escrow.EscrowID
	req := chain.CreateEscrow{
		EscrowID:      escrowID,
		OrderHash:     orderHash,
		Resolver:      escrow.Resolver,
		Amount:        escrow.Amount,
		Hashlock:      lock,
		CancellableAt: escrow.CancellableAt,
	}

	return b.submitter.Enqueue(chain.Job{
		Escrow:   escrowID,
		Deadline: escrow.WithdrawalAt,
		Submit: func(ctx context.Context) (chain.TxRef, error) {
			return b.client.SubmitCreateEscrow(ctx, req)
		},
		Done: func(ref chain.TxRef, err error) {
			if err != nil {
				log.WithField("id", orderHash).Errorf("Failed to create escrow %s on chain: %v", escrowID, err)
				c.alerter.StuckEscrow(orderHash, escrowID, err)
				if vErr := c.store.MarkEscrowRefunded(context.Background(), escrowID, ""); vErr != nil && !errors.Is(vErr, orders.ErrEscrowTerminal) {
					log.WithField("id", orderHash).Errorf("Failed to void escrow %s: %v", escrowID, vErr)
				}

				return
			}
			log.WithField("id", orderHash).WithField("tx", ref).Debugf("Escrow %s creation confirmed", escrowID)
		},
	})
}

// CancelOrder withdraws an order before any resolver has committed capacity
// to it. After the first win the swap can only run forward or expire.
func (c *Coordinator) CancelOrder(ctx context.Context, orderHash string) error {
	view, err := c.store.GetOrder(orderHash)
	if err != nil {
		return err
	}
	if view.Order.Status != models.OrderStatusPending && view.Order.Status != models.OrderStatusAuctionActive {
		return fmt.Errorf("%w: order is %s", ErrNotCancellable, view.Order.Status)
	}
	if len(view.Fills) > 0 || len(view.Escrows) > 0 {
		return fmt.Errorf("%w: capacity already committed", ErrNotCancellable)
	}

	if err := c.store.UpdateOrderStatus(ctx, orderHash, models.OrderStatusCancelled); err != nil {
		if errors.Is(err, orders.ErrInvalidTransition) || errors.Is(err, orders.ErrOrderTerminal) {
			return fmt.Errorf("%w: %v", ErrNotCancellable, err)
		}

		return err
	}

	c.mu.Lock()
	auctionID, hadAuction := c.active[orderHash]
	delete(c.active, orderHash)
	delete(c.rounds, orderHash)
	delete(c.pinned, orderHash)
	delete(c.secrets, orderHash)
	c.mu.Unlock()
	if hadAuction {
		c.engine.Remove(auctionID)
	}
	log.WithField("id", orderHash).Info("Order cancelled")

	return nil
}

// RevealSecret lets the maker publish the swap secret once a destination
// escrow is funded. The reveal is an on-chain release of that escrow; the
// relay picks the secret up from the resulting event for the source side.
func (c *Coordinator) RevealSecret(ctx context.Context, orderHash, secretHex string) error {
	view, err := c.store.GetOrder(orderHash)
	if err != nil {
		return err
	}

	secret, err := hashlock.MakeSecretFromHex(secretHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	lock, err := hashlock.MakeHashFromHex(view.Order.Hashlock)
	if err != nil {
		return fmt.Errorf("failed to parse order hashlock: %w", err)
	}
	if !lock.Matches(secret) {
		c.alerter.SecretMismatch(orderHash, lock)

		return relay.ErrSecretMismatch
	}

	var target *models.Escrow
	for i := range view.Escrows {
		esc := &view.Escrows[i]
		if esc.Side == models.EscrowSideDestination && esc.Status == models.EscrowStatusCreated && esc.FundingTxID != "" {
			target = esc

			break
		}
	}
	if target == nil {
		return ErrNoFundedDestination
	}
	if !c.now().Before(target.CancellableAt) {
		return ErrRevealWindowClosed
	}

	if !c.claimReveal(target.EscrowID) {
		return nil
	}
	if err := c.submitReveal(*target, secret); err != nil {
		c.unclaimReveal(target.EscrowID)

		return err
	}

	return nil
}

// GetOrder returns a snapshot of one order with its escrows and fills.
func (c *Coordinator) GetOrder(orderHash string) (orders.OrderView, error) {
	return c.store.GetOrder(orderHash)
}

// ListOrders returns order snapshots, optionally filtered by status.
func (c *Coordinator) ListOrders(statuses ...models.OrderStatus) []models.SwapOrder {
	return c.store.ListOrders(statuses...)
}

// ListActiveAuctions returns every auction currently accepting bids.
func (c *Coordinator) ListActiveAuctions() []auction.Auction {
	return c.engine.ListActive()
}
