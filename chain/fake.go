package chain

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fusionbridge/swapd/hashlock"
	"github.com/fusionbridge/swapd/money"
)

// Fake is an in-memory Client for development mode and tests. It enforces the
// same rules a real escrow contract would: hashlock preimage verification,
// single spend, and no refund before the on-chain timelock. Events come out
// of the same RawEvent stream a production adapter uses, so the whole
// watcher and normalization path stays exercised.
type Fake struct {
	chain ID

	mu         sync.Mutex
	events     chan RawEvent
	escrows    map[string]*fakeEscrow
	statuses   map[TxRef]ConfirmationStatus
	nextTx     int
	submitErrs []error
	now        func() time.Time
}

type fakeEscrow struct {
	orderHash     string
	resolver      string
	amount        money.Money
	hashlock      hashlock.Hash
	cancellableAt time.Time
	released      bool
	refunded      bool
}

func NewFake(chain ID) *Fake {
	return &Fake{
		chain:    chain,
		events:   make(chan RawEvent, 256),
		escrows:  make(map[string]*fakeEscrow),
		statuses: make(map[TxRef]ConfirmationStatus),
		now:      time.Now,
	}
}

// SetNow overrides the clock used for timelock checks.
func (f *Fake) SetNow(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// FailNextSubmit queues err to be returned by the next Submit call.
func (f *Fake) FailNextSubmit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErrs = append(f.submitErrs, err)
}

func (f *Fake) SubscribeEvents(ctx context.Context) (<-chan RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.events, nil
}

// CloseStream ends the current event stream, forcing subscribers through
// their resubscribe path. Events emitted afterwards land on a fresh stream.
func (f *Fake) CloseStream() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.events)
	f.events = make(chan RawEvent, 256)
}

func (f *Fake) SubmitCreateEscrow(ctx context.Context, req CreateEscrow) (TxRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeSubmitErr(); err != nil {
		return "", err
	}
	if _, ok := f.escrows[req.EscrowID]; ok {
		return "", fmt.Errorf("escrow %s already exists", req.EscrowID)
	}

	f.escrows[req.EscrowID] = &fakeEscrow{
		orderHash:     req.OrderHash,
		resolver:      req.Resolver,
		amount:        req.Amount,
		hashlock:      req.Hashlock,
		cancellableAt: req.CancellableAt,
	}
	ref := f.confirmedTx()
	fields := map[string]string{
		FieldOrderHash: req.OrderHash,
		FieldEscrowID:  req.EscrowID,
		FieldResolver:  req.Resolver,
		FieldAmount:    strconv.FormatUint(uint64(req.Amount), 10),
		FieldTxID:      string(ref),
	}
	// Creation funds the escrow in the same transaction, as EVM escrows do.
	f.emit("EscrowCreated", fields)
	f.emit("EscrowFunded", fields)

	return ref, nil
}

func (f *Fake) SubmitRelease(ctx context.Context, escrowID string, secret hashlock.Secret) (TxRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeSubmitErr(); err != nil {
		return "", err
	}
	escrow, ok := f.escrows[escrowID]
	if !ok {
		return "", fmt.Errorf("unknown escrow %s", escrowID)
	}
	if escrow.released || escrow.refunded {
		return "", fmt.Errorf("escrow %s is already spent", escrowID)
	}
	if !escrow.hashlock.Matches(secret) {
		return "", fmt.Errorf("preimage does not match hashlock of escrow %s", escrowID)
	}

	escrow.released = true
	ref := f.confirmedTx()
	f.emit("SecretRevealed", map[string]string{
		FieldOrderHash: escrow.orderHash,
		FieldEscrowID:  escrowID,
		FieldSecret:    secret.String(),
		FieldTxID:      string(ref),
	})

	return ref, nil
}

func (f *Fake) SubmitRefund(ctx context.Context, escrowID string) (TxRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeSubmitErr(); err != nil {
		return "", err
	}
	escrow, ok := f.escrows[escrowID]
	if !ok {
		return "", fmt.Errorf("unknown escrow %s", escrowID)
	}
	if escrow.released || escrow.refunded {
		return "", fmt.Errorf("escrow %s is already spent", escrowID)
	}
	if f.now().Before(escrow.cancellableAt) {
		return "", fmt.Errorf("escrow %s is not refundable until %s", escrowID, escrow.cancellableAt)
	}

	escrow.refunded = true
	ref := f.confirmedTx()
	f.emit("EscrowRefunded", map[string]string{
		FieldOrderHash: escrow.orderHash,
		FieldEscrowID:  escrowID,
		FieldTxID:      string(ref),
	})

	return ref, nil
}

func (f *Fake) ConfirmationStatus(ctx context.Context, ref TxRef) (ConfirmationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	status, ok := f.statuses[ref]
	if !ok {
		return "", fmt.Errorf("unknown transaction %s", ref)
	}

	return status, nil
}

// Emit injects an arbitrary raw event, standing in for on-chain activity by
// parties other than this daemon, such as a public claim by a third party.
func (f *Fake) Emit(name string, fields map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emit(name, fields)
}

// Escrow reports the current contract-side state of an escrow.
func (f *Fake) Escrow(escrowID string) (released, refunded bool, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	escrow, found := f.escrows[escrowID]
	if !found {
		return false, false, false
	}

	return escrow.released, escrow.refunded, true
}

func (f *Fake) confirmedTx() TxRef {
	f.nextTx++
	ref := TxRef(fmt.Sprintf("%s-tx-%d", f.chain, f.nextTx))
	f.statuses[ref] = ConfirmationConfirmed

	return ref
}

func (f *Fake) takeSubmitErr() error {
	if len(f.submitErrs) == 0 {
		return nil
	}
	err := f.submitErrs[0]
	f.submitErrs = f.submitErrs[1:]

	return err
}

func (f *Fake) emit(name string, fields map[string]string) {
	f.events <- RawEvent{Name: name, Fields: fields}
}
