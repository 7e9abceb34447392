// Package chain defines the port between the swap engine and the ledgers it
// coordinates. Everything chain-specific (transaction encoding, signing, key
// management) lives behind the Client interface; the engine only ever sees
// canonical events and opaque transaction references.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/fusionbridge/swapd/hashlock"
	"github.com/fusionbridge/swapd/money"
)

// ID identifies one of the coordinated ledgers, e.g. "ethereum" or "algorand".
type ID string

// TxRef is an opaque reference to a submitted chain transaction.
type TxRef string

// ConfirmationStatus is the fate of a submitted transaction.
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "PENDING"
	ConfirmationConfirmed ConfirmationStatus = "CONFIRMED"
	ConfirmationFailed    ConfirmationStatus = "FAILED"
)

// EventKind is the canonical tagged variant every chain-specific event is
// normalized into. The coordinator never matches on chain-specific names.
type EventKind string

const (
	EventEscrowCreated  EventKind = "ESCROW_CREATED"
	EventEscrowFunded   EventKind = "ESCROW_FUNDED"
	EventSecretRevealed EventKind = "SECRET_REVEALED"
	EventEscrowRefunded EventKind = "ESCROW_REFUNDED"
)

// Event is a normalized chain event as consumed by the coordinator.
type Event struct {
	Kind      EventKind
	Chain     ID
	OrderHash string
	EscrowID  string
	Resolver  string
	Amount    money.Money
	// Secret is set only for SECRET_REVEALED events, hex encoded.
	Secret     string
	TxID       string
	ObservedAt time.Time
}

// RawEvent is what a chain adapter emits before normalization: the
// chain-native event name plus a flat field bag. Field keys follow the
// Field* constants below.
type RawEvent struct {
	Name   string
	Fields map[string]string
}

// Canonical RawEvent field keys populated by adapters.
const (
	FieldOrderHash = "order_hash"
	FieldEscrowID  = "escrow_id"
	FieldResolver  = "resolver"
	FieldAmount    = "amount"
	FieldSecret    = "secret"
	FieldTxID      = "tx_id"
)

// CreateEscrow carries everything an adapter needs to lock funds on chain.
// CancellableAt is the single on-chain timelock; the finer Withdrawal/Public
// stages are engine-side policy.
type CreateEscrow struct {
	EscrowID      string
	OrderHash     string
	Resolver      string
	Amount        money.Money
	Hashlock      hashlock.Hash
	CancellableAt time.Time
}

//go:generate go tool mockgen -destination=mock.go -package=chain . Client
type Client interface {
	SubscribeEvents(ctx context.Context) (<-chan RawEvent, error)
	SubmitCreateEscrow(ctx context.Context, req CreateEscrow) (TxRef, error)
	SubmitRelease(ctx context.Context, escrowID string, secret hashlock.Secret) (TxRef, error)
	SubmitRefund(ctx context.Context, escrowID string) (TxRef, error)
	ConfirmationStatus(ctx context.Context, ref TxRef) (ConfirmationStatus, error)
}

// TransientError wraps chain failures that are safe to retry (RPC timeouts,
// node unavailable). Anything not marked transient is treated as permanent by
// the retry paths.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError

	return errors.As(err, &te)
}
