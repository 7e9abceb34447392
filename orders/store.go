// Package orders holds the single source of truth for swap orders, their
// escrows and their fills. Every mutation goes through the Store, which
// serializes work per order hash, so a concurrent fill and a refund for the
// same order can never interleave into an inconsistent state. Other
// components read snapshots and request mutations here; none of them keeps
// its own mutable copy.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/fusionbridge/swapd/database"
	"github.com/fusionbridge/swapd/database/models"
	"github.com/fusionbridge/swapd/fills"
	"github.com/fusionbridge/swapd/money"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderExists       = errors.New("order already exists")
	ErrOrderTerminal     = errors.New("order is in a terminal state")
	ErrEscrowNotFound    = errors.New("escrow not found")
	ErrEscrowExists      = errors.New("escrow already exists")
	ErrEscrowTerminal    = errors.New("escrow is already spent")
	ErrInvalidTransition = errors.New("illegal status transition")
)

// orderTransitions lists the legal UpdateOrderStatus moves. Fills drive the
// PartiallyFilled and Filled statuses through RecordFill instead.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending: {
		models.OrderStatusAuctionActive,
		models.OrderStatusCancelled,
		models.OrderStatusExpired,
	},
	models.OrderStatusAuctionActive: {
		models.OrderStatusPending,
		models.OrderStatusPartiallyFilled,
		models.OrderStatusCancelled,
		models.OrderStatusExpired,
	},
	models.OrderStatusPartiallyFilled: {
		models.OrderStatusAuctionActive,
		models.OrderStatusExpired,
		models.OrderStatusRefunded,
	},
}

type entry struct {
	mu      sync.Mutex
	order   *models.SwapOrder
	escrows []*models.Escrow
	fills   []*models.Fill
}

// Store keeps all live orders in memory and optionally writes through to a
// repository. The in-memory state stays authoritative: a persistence failure
// is logged, never rolled back. Lock order is always the store map lock
// before an entry lock.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	escrowOwner map[string]string

	repo          database.OrderRepository
	dustFoldLimit money.Money
	now           func() time.Time
}

// NewStore builds a store. repo may be nil for a purely in-memory store.
// dustFoldLimit bounds the residue folded into a closing fill, see fills.Policy.
func NewStore(repo database.OrderRepository, dustFoldLimit money.Money) *Store {
	return &Store{
		entries:       make(map[string]*entry),
		escrowOwner:   make(map[string]string),
		repo:          repo,
		dustFoldLimit: dustFoldLimit,
		now:           time.Now,
	}
}

// OrderView is a consistent snapshot of one order and its dependent records.
type OrderView struct {
	Order   models.SwapOrder
	Escrows []models.Escrow
	Fills   []models.Fill
}

// CreateOrder births an order: status Pending, remaining amount equal to the
// maker amount.
func (s *Store) CreateOrder(ctx context.Context, order *models.SwapOrder) error {
	if order.OrderHash == "" {
		return errors.New("order hash is required")
	}
	if order.MakerAmount == 0 {
		return errors.New("maker amount must be positive")
	}

	order.Status = models.OrderStatusPending
	order.RemainingAmount = order.MakerAmount
	now := s.now()
	order.CreatedAt = now
	order.UpdatedAt = now

	s.mu.Lock()
	if _, ok := s.entries[order.OrderHash]; ok {
		s.mu.Unlock()

		return ErrOrderExists
	}
	e := &entry{order: order}
	s.entries[order.OrderHash] = e
	e.mu.Lock()
	s.mu.Unlock()
	defer e.mu.Unlock()

	s.persist(ctx, e)

	return nil
}

func (s *Store) GetOrder(orderHash string) (OrderView, error) {
	e, err := s.entryFor(orderHash)
	if err != nil {
		return OrderView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.view(), nil
}

// UpdateOrderStatus moves an order along the legal transition graph.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderHash string, status models.OrderStatus) error {
	e, err := s.entryFor(orderHash)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.order.Status
	if current.IsTerminal() {
		return ErrOrderTerminal
	}
	if !transitionAllowed(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	e.order.Status = status
	e.order.UpdatedAt = s.now()
	s.persist(ctx, e)

	return nil
}

// SetAuctionResult copies the winning bid onto the order.
func (s *Store) SetAuctionResult(ctx context.Context, orderHash, resolver string, rate decimal.Decimal) error {
	e, err := s.entryFor(orderHash)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.order.Status.IsTerminal() {
		return ErrOrderTerminal
	}
	if e.order.Status != models.OrderStatusAuctionActive {
		return fmt.Errorf("%w: auction result while %s", ErrInvalidTransition, e.order.Status)
	}

	e.order.WinningResolver = resolver
	e.order.WinningRate = rate
	e.order.UpdatedAt = s.now()
	s.persist(ctx, e)

	return nil
}

// RecordFill decrements the remaining amount by the granted fill size and
// appends the fill, atomically with respect to concurrent fills on the same
// order. The first fill to get the entry lock wins disputed capacity; later
// ones are decided against whatever remains.
func (s *Store) RecordFill(ctx context.Context, orderHash, resolver string, requested money.Money, rate decimal.Decimal) (fills.Decision, error) {
	e, err := s.entryFor(orderHash)
	if err != nil {
		return fills.Decision{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	order := e.order
	if order.Status.IsTerminal() {
		return fills.Decision{}, ErrOrderTerminal
	}
	if order.Status != models.OrderStatusAuctionActive && order.Status != models.OrderStatusPartiallyFilled {
		return fills.Decision{}, fmt.Errorf("%w: fills not accepted while %s", ErrInvalidTransition, order.Status)
	}

	decision, err := fills.Decide(fills.Policy{
		AllowPartialFills: order.AllowPartialFills,
		MinFill:           order.MinFillAmount,
		DustFoldLimit:     s.dustFoldLimit,
	}, order.RemainingAmount, requested)
	if err != nil {
		return fills.Decision{}, err
	}

	order.RemainingAmount = decision.Remaining
	if decision.Completes {
		order.Status = models.OrderStatusFilled
	} else {
		order.Status = models.OrderStatusPartiallyFilled
	}
	order.UpdatedAt = s.now()
	e.fills = append(e.fills, &models.Fill{
		OrderHash: orderHash,
		Resolver:  resolver,
		Amount:    decision.Granted,
		Rate:      rate,
		CreatedAt: s.now(),
	})
	s.persist(ctx, e)

	return decision, nil
}

// ExpireDue moves every non-terminal order whose deadline has passed to
// Expired and reports their hashes.
func (s *Store) ExpireDue(ctx context.Context, now time.Time) []string {
	var expired []string
	for _, e := range s.allEntries() {
		e.mu.Lock()
		order := e.order
		if !order.Status.IsTerminal() && !order.Deadline.IsZero() && order.Deadline.Before(now) {
			order.Status = models.OrderStatusExpired
			order.UpdatedAt = s.now()
			expired = append(expired, order.OrderHash)
			s.persist(ctx, e)
		}
		e.mu.Unlock()
	}

	return expired
}

func (s *Store) ListOrders(statuses ...models.OrderStatus) []models.SwapOrder {
	var out []models.SwapOrder
	for _, e := range s.allEntries() {
		e.mu.Lock()
		if len(statuses) == 0 || containsStatus(statuses, e.order.Status) {
			out = append(out, *e.order)
		}
		e.mu.Unlock()
	}

	return out
}

func (s *Store) FillsForOrder(orderHash string) ([]models.Fill, error) {
	e, err := s.entryFor(orderHash)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Fill, 0, len(e.fills))
	for _, f := range e.fills {
		out = append(out, *f)
	}

	return out, nil
}

// SumFills reports the total amount granted across all fills of an order.
// At any point sum + remaining == makerAmount.
func (s *Store) SumFills(orderHash string) (money.Money, error) {
	e, err := s.entryFor(orderHash)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var sum money.Money
	for _, f := range e.fills {
		sum += f.Amount
	}

	return sum, nil
}

func (s *Store) entryFor(orderHash string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[orderHash]
	if !ok {
		return nil, ErrOrderNotFound
	}

	return e, nil
}

func (s *Store) allEntries() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}

	return out
}

// persist writes the order graph through to the repository. Called with the
// entry lock held so the durable record order matches the in-memory decision
// order. The in-memory state stays authoritative on failure.
func (s *Store) persist(ctx context.Context, e *entry) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveOrderGraph(ctx, e.order, e.escrows, e.fills); err != nil {
		log.WithField("id", e.order.OrderHash).Errorf("Failed to persist order: %v", err)
	}
}

func (e *entry) view() OrderView {
	view := OrderView{
		Order:   *e.order,
		Escrows: make([]models.Escrow, 0, len(e.escrows)),
		Fills:   make([]models.Fill, 0, len(e.fills)),
	}
	for _, esc := range e.escrows {
		view.Escrows = append(view.Escrows, *esc)
	}
	for _, f := range e.fills {
		view.Fills = append(view.Fills, *f)
	}

	return view
}

func transitionAllowed(from, to models.OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

func containsStatus(statuses []models.OrderStatus, status models.OrderStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}

	return false
}
