package chain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/fusionbridge/swapd/money"
)

// KindMap translates chain-native event names into canonical kinds. Names are
// matched case-insensitively so EVM-style "EscrowCreated" and contract-style
// "newcontract" can coexist in one map.
type KindMap map[string]EventKind

// DefaultKindMap covers the names emitted by the bundled adapters and the
// bridge contracts currently deployed.
func DefaultKindMap() KindMap {
	return KindMap{
		"escrowcreated":  EventEscrowCreated,
		"newcontract":    EventEscrowCreated,
		"escrowfunded":   EventEscrowFunded,
		"funded":         EventEscrowFunded,
		"secretrevealed": EventSecretRevealed,
		"withdraw":       EventSecretRevealed,
		"escrowrefunded": EventEscrowRefunded,
		"refund":         EventEscrowRefunded,
	}
}

func (m KindMap) kindFor(name string) (EventKind, bool) {
	kind, ok := m[strings.ToLower(name)]

	return kind, ok
}

// Watcher subscribes to one chain and fans normalized events into out. It
// owns the resubscribe loop: when the adapter stream ends it reconnects with
// exponential backoff until ctx is cancelled. Malformed events are logged and
// dropped rather than crashing the stream.
type Watcher struct {
	chain  ID
	client Client
	kinds  KindMap
	out    chan<- Event
	now    func() time.Time
}

func NewWatcher(chain ID, client Client, kinds KindMap, out chan<- Event) *Watcher {
	if kinds == nil {
		kinds = DefaultKindMap()
	}

	return &Watcher{
		chain:  chain,
		client: client,
		kinds:  kinds,
		out:    out,
		now:    time.Now,
	}
}

// Run blocks until ctx is cancelled or the subscription fails permanently.
func (w *Watcher) Run(ctx context.Context) error {
	logger := log.WithField("chain", w.chain)

	for {
		raw, err := w.subscribe(ctx)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s events: %w", w.chain, err)
		}
		logger.Info("Chain event stream connected")

		if err := w.consume(ctx, raw); err != nil {
			return err
		}
		logger.Warn("Chain event stream closed, resubscribing")
	}
}

func (w *Watcher) subscribe(ctx context.Context) (<-chan RawEvent, error) {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	return backoff.RetryWithData(func() (<-chan RawEvent, error) {
		raw, err := w.client.SubscribeEvents(ctx)
		if err != nil && !IsTransient(err) {
			return nil, backoff.Permanent(err)
		}

		return raw, err
	}, policy)
}

func (w *Watcher) consume(ctx context.Context, raw <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case re, ok := <-raw:
			if !ok {
				return nil
			}
			event, err := w.normalize(re)
			if err != nil {
				log.WithField("chain", w.chain).WithField("event", re.Name).
					Warnf("Dropping malformed chain event: %v", err)

				continue
			}
			select {
			case w.out <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (w *Watcher) normalize(raw RawEvent) (Event, error) {
	kind, ok := w.kinds.kindFor(raw.Name)
	if !ok {
		return Event{}, fmt.Errorf("unknown event name %q", raw.Name)
	}

	event := Event{
		Kind:       kind,
		Chain:      w.chain,
		OrderHash:  raw.Fields[FieldOrderHash],
		EscrowID:   raw.Fields[FieldEscrowID],
		Resolver:   raw.Fields[FieldResolver],
		Secret:     raw.Fields[FieldSecret],
		TxID:       raw.Fields[FieldTxID],
		ObservedAt: w.now(),
	}
	if event.EscrowID == "" {
		return Event{}, fmt.Errorf("event %q is missing %s", raw.Name, FieldEscrowID)
	}
	if amt, ok := raw.Fields[FieldAmount]; ok {
		n, err := strconv.ParseUint(amt, 10, 64)
		if err != nil {
			return Event{}, fmt.Errorf("failed to parse amount %q: %w", amt, err)
		}
		event.Amount = money.Money(n)
	}

	return event, nil
}
