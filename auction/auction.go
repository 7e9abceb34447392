// Package auction runs single-round Dutch auctions: the price decays from
// start to end over a fixed duration and the first authorized bid at or above
// the current price wins. Price is a pure function of elapsed time, so a
// restarted engine recomputes it from the start timestamp instead of any
// internal counter.
package auction

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var (
	ErrAuctionNotFound    = errors.New("auction not found")
	ErrAuctionActive      = errors.New("order already has an active auction")
	ErrResolverNotAllowed = errors.New("resolver is not on the allow-list")
)

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusFilled  Status = "FILLED"
	StatusExpired Status = "EXPIRED"
)

// Bid is ephemeral: only the winning bid survives the auction, copied onto
// the order by the coordinator.
type Bid struct {
	Resolver    string
	Price       decimal.Decimal
	GasEstimate uint64
	Timestamp   time.Time
}

type Auction struct {
	ID         string
	OrderHash  string
	StartPrice decimal.Decimal
	EndPrice   decimal.Decimal
	Duration   time.Duration
	StartedAt  time.Time
	Status     Status
	Winner     *Bid
}

// PriceAt computes the decaying price at the given instant, clamped to the
// auction window.
func (a *Auction) PriceAt(now time.Time) decimal.Decimal {
	elapsed := now.Sub(a.StartedAt)
	if elapsed <= 0 {
		return a.StartPrice
	}
	if elapsed >= a.Duration {
		return a.EndPrice
	}

	frac := decimal.NewFromInt(elapsed.Nanoseconds()).Div(decimal.NewFromInt(a.Duration.Nanoseconds()))

	return a.StartPrice.Sub(a.StartPrice.Sub(a.EndPrice).Mul(frac))
}

// BidResult reports how a bid fared. Rejections for price, lateness or an
// already-settled auction are not errors, they are Accepted == false.
type BidResult struct {
	Accepted bool
	// Price is the auction's clearing price at bid time.
	Price decimal.Decimal
	Bid   *Bid
}

type Engine struct {
	mu       sync.Mutex
	auctions map[string]*Auction
	byOrder  map[string]string
	allowed  map[string]bool
	now      func() time.Time
}

func NewEngine(allowedResolvers []string) *Engine {
	allowed := make(map[string]bool, len(allowedResolvers))
	for _, resolver := range allowedResolvers {
		allowed[resolver] = true
	}

	return &Engine{
		auctions: make(map[string]*Auction),
		byOrder:  make(map[string]string),
		allowed:  allowed,
		now:      time.Now,
	}
}

// StartAuction opens a Dutch auction for an order. One active auction per
// order at a time.
func (e *Engine) StartAuction(orderHash string, startPrice, endPrice decimal.Decimal, duration time.Duration) (string, error) {
	if orderHash == "" {
		return "", errors.New("order hash is required")
	}
	if duration <= 0 {
		return "", errors.New("auction duration must be positive")
	}
	if endPrice.LessThanOrEqual(decimal.Zero) {
		return "", errors.New("end price must be positive")
	}
	if startPrice.LessThan(endPrice) {
		return "", fmt.Errorf("start price %s is below end price %s", startPrice, endPrice)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, active := e.byOrder[orderHash]; active {
		return "", ErrAuctionActive
	}

	auction := &Auction{
		ID:         uuid.NewString(),
		OrderHash:  orderHash,
		StartPrice: startPrice,
		EndPrice:   endPrice,
		Duration:   duration,
		StartedAt:  e.now(),
		Status:     StatusActive,
	}
	e.auctions[auction.ID] = auction
	e.byOrder[orderHash] = auction.ID

	log.WithField("id", orderHash).
		WithField("auction", auction.ID).
		Infof("Auction started: %s -> %s over %s", startPrice, endPrice, duration)

	return auction.ID, nil
}

// PlaceBid applies one bid. The first bid at or above the current price from
// an allow-listed resolver wins and settles the auction; everything after
// that is a no-op with Accepted == false.
func (e *Engine) PlaceBid(auctionID, resolver string, offered decimal.Decimal, gasEstimate uint64) (BidResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	auction, ok := e.auctions[auctionID]
	if !ok {
		return BidResult{}, ErrAuctionNotFound
	}
	if !e.allowed[resolver] {
		return BidResult{}, ErrResolverNotAllowed
	}
	if auction.Status != StatusActive {
		return BidResult{}, nil
	}

	now := e.now()
	if now.Sub(auction.StartedAt) > auction.Duration {
		// Hard wall-clock cutoff, however late the bid got here.
		e.expireLocked(auction)

		return BidResult{}, nil
	}

	price := auction.PriceAt(now)
	if offered.LessThan(price) {
		return BidResult{Price: price}, nil
	}

	bid := &Bid{
		Resolver:    resolver,
		Price:       offered,
		GasEstimate: gasEstimate,
		Timestamp:   now,
	}
	auction.Status = StatusFilled
	auction.Winner = bid
	delete(e.byOrder, auction.OrderHash)

	log.WithField("id", auction.OrderHash).
		WithField("auction", auction.ID).
		Infof("Auction won by %s at %s", resolver, offered)

	return BidResult{Accepted: true, Price: price, Bid: bid}, nil
}

// ExpireDue sweeps auctions whose duration has fully elapsed with no winner
// and reports them for the coordinator's re-auction policy.
func (e *Engine) ExpireDue(now time.Time) []Auction {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expired []Auction
	for _, auction := range e.auctions {
		if auction.Status == StatusActive && now.Sub(auction.StartedAt) > auction.Duration {
			e.expireLocked(auction)
			expired = append(expired, *auction)
		}
	}

	return expired
}

func (e *Engine) expireLocked(auction *Auction) {
	auction.Status = StatusExpired
	delete(e.byOrder, auction.OrderHash)
	log.WithField("id", auction.OrderHash).
		WithField("auction", auction.ID).
		Info("Auction expired with no winner")
}

func (e *Engine) Get(auctionID string) (Auction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	auction, ok := e.auctions[auctionID]
	if !ok {
		return Auction{}, ErrAuctionNotFound
	}

	return *auction, nil
}

// ListActive snapshots all auctions still accepting bids.
func (e *Engine) ListActive() []Auction {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Auction
	for _, auction := range e.auctions {
		if auction.Status == StatusActive {
			out = append(out, *auction)
		}
	}

	return out
}

// Remove discards a settled auction once the coordinator has copied what it
// needs. Bids do not outlive their auction.
func (e *Engine) Remove(auctionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	auction, ok := e.auctions[auctionID]
	if !ok {
		return
	}
	delete(e.byOrder, auction.OrderHash)
	delete(e.auctions, auctionID)
}
