package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionbridge/swapd/auction"
	"github.com/fusionbridge/swapd/chain"
	"github.com/fusionbridge/swapd/database/models"
	"github.com/fusionbridge/swapd/hashlock"
	"github.com/fusionbridge/swapd/money"
	"github.com/fusionbridge/swapd/orders"
	"github.com/fusionbridge/swapd/rates"
	"github.com/fusionbridge/swapd/relay"
	"github.com/fusionbridge/swapd/timelock"
)

type recordingAlerter struct {
	mu         sync.Mutex
	mismatches []string
	atRisk     []string
	stuck      []string
}

func (a *recordingAlerter) SecretMismatch(orderHash string, lock hashlock.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mismatches = append(a.mismatches, orderHash)
}

func (a *recordingAlerter) RelayAtRisk(orderHash, escrowID string, remaining time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.atRisk = append(a.atRisk, escrowID)
}

func (a *recordingAlerter) StuckEscrow(orderHash, escrowID string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stuck = append(a.stuck, escrowID)
}

func (a *recordingAlerter) stuckEscrows() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.stuck...)
}

type daemonWorld struct {
	coord   *Coordinator
	store   *orders.Store
	eth     *chain.Fake
	algo    *chain.Fake
	oracle  *rates.Static
	alerter *recordingAlerter
}

// newDaemonWorld assembles a running coordinator over two fake chains with a
// fixed ETH/ALGO rate of 5 and fast scan and sweep loops.
func newDaemonWorld(t *testing.T, mutate func(*Config)) *daemonWorld {
	t.Helper()

	cfg := NewConfig()
	cfg.Resolvers = []string{"resolver-a", "resolver-b"}
	cfg.ScanInterval = 20 * time.Millisecond
	cfg.SweepInterval = 20 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	store := orders.NewStore(nil, cfg.DustFoldLimit)
	eth := chain.NewFake("ethereum")
	algo := chain.NewFake("algorand")
	oracle := rates.NewStatic(map[string]decimal.Decimal{
		"ETH/ALGO": decimal.NewFromInt(5),
	})
	alerter := &recordingAlerter{}

	coord, err := New(cfg, store, map[models.Chain]chain.Client{
		models.ChainEthereum: eth,
		models.ChainAlgorand: algo,
	}, oracle, alerter)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = coord.Run(ctx)
	}()

	return &daemonWorld{
		coord:   coord,
		store:   store,
		eth:     eth,
		algo:    algo,
		oracle:  oracle,
		alerter: alerter,
	}
}

func (w *daemonWorld) intent() OrderIntent {
	return OrderIntent{
		Maker:              "maker-addr",
		MakerAsset:         "ETH",
		MakerAmount:        1000,
		TakerAsset:         "ALGO",
		TakerAmount:        5000,
		SourceChain:        models.ChainEthereum,
		DestinationChain:   models.ChainAlgorand,
		DestinationAddress: "algo-addr",
	}
}

func (w *daemonWorld) soleAuction(t *testing.T, orderHash string) auction.Auction {
	t.Helper()
	for _, auc := range w.coord.ListActiveAuctions() {
		if auc.OrderHash == orderHash {
			return auc
		}
	}
	t.Fatalf("no active auction for order %s", orderHash)

	return auction.Auction{}
}

func (w *daemonWorld) escrowsBySide(t *testing.T, orderHash string) (src, dst models.Escrow) {
	t.Helper()
	view, err := w.coord.GetOrder(orderHash)
	require.NoError(t, err)
	require.Len(t, view.Escrows, 2)
	for _, esc := range view.Escrows {
		switch esc.Side {
		case models.EscrowSideSource:
			src = esc
		case models.EscrowSideDestination:
			dst = esc
		}
	}

	return src, dst
}

func (w *daemonWorld) eventuallyEscrows(t *testing.T, orderHash string, count int, status models.EscrowStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		view, err := w.coord.GetOrder(orderHash)
		if err != nil || len(view.Escrows) != count {
			return false
		}
		for _, esc := range view.Escrows {
			if esc.Status != status {
				return false
			}
		}

		return true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCoordinator_SwapHappyPath(t *testing.T) {
	w := newDaemonWorld(t, nil)
	ctx := context.Background()

	orderHash, err := w.coord.SubmitOrder(ctx, w.intent())
	require.NoError(t, err)

	view, err := w.coord.GetOrder(orderHash)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAuctionActive, view.Order.Status)
	assert.NotEmpty(t, view.Order.Hashlock, "daemon generates the hashlock when the maker supplies none")

	// Oracle rate 5 with 5% premium and discount on either end.
	auc := w.soleAuction(t, orderHash)
	assert.True(t, auc.StartPrice.Equal(decimal.RequireFromString("5.25")), "start price %s", auc.StartPrice)
	assert.True(t, auc.EndPrice.Equal(decimal.RequireFromString("4.75")), "end price %s", auc.EndPrice)

	result, err := w.coord.PlaceBid(ctx, auc.ID, "resolver-a", auc.StartPrice, 21000, 0)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	view, err = w.coord.GetOrder(orderHash)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, view.Order.Status)
	assert.Equal(t, "resolver-a", view.Order.WinningResolver)
	assert.Zero(t, view.Order.RemainingAmount)

	// Creation auto-funds on the fakes, the daemon reveals its held secret on
	// the destination and the relay claims the source.
	w.eventuallyEscrows(t, orderHash, 2, models.EscrowStatusReleased)

	src, dst := w.escrowsBySide(t, orderHash)
	assert.Equal(t, models.ChainEthereum, src.Chain)
	assert.Equal(t, money.Money(1000), src.Amount)
	assert.Equal(t, models.ChainAlgorand, dst.Chain)
	assert.Equal(t, money.Money(5250), dst.Amount, "destination amount converts at the winning rate")
	assert.NotEmpty(t, src.FundingTxID)
	assert.NotEmpty(t, dst.ReleaseTxID)

	released, refunded, ok := w.eth.Escrow(src.EscrowID)
	require.True(t, ok)
	assert.True(t, released)
	assert.False(t, refunded)
}

func TestCoordinator_MakerRevealsSecret(t *testing.T) {
	w := newDaemonWorld(t, nil)
	ctx := context.Background()

	secret, err := hashlock.NewSecret()
	require.NoError(t, err)
	intent := w.intent()
	intent.Hashlock = secret.Hash().String()

	orderHash, err := w.coord.SubmitOrder(ctx, intent)
	require.NoError(t, err)
	auc := w.soleAuction(t, orderHash)
	result, err := w.coord.PlaceBid(ctx, auc.ID, "resolver-b", auc.StartPrice, 21000, 0)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	// The daemon does not hold the secret, so funding alone releases nothing.
	require.Eventually(t, func() bool {
		view, err := w.coord.GetOrder(orderHash)
		if err != nil {
			return false
		}
		for _, esc := range view.Escrows {
			if esc.Side == models.EscrowSideDestination && esc.FundingTxID != "" {
				return true
			}
		}

		return false
	}, 5*time.Second, 20*time.Millisecond)
	src, dst := w.escrowsBySide(t, orderHash)
	assert.Equal(t, models.EscrowStatusCreated, src.Status)
	assert.Equal(t, models.EscrowStatusCreated, dst.Status)

	forged, err := hashlock.NewSecret()
	require.NoError(t, err)
	err = w.coord.RevealSecret(ctx, orderHash, forged.String())
	assert.ErrorIs(t, err, relay.ErrSecretMismatch)

	require.NoError(t, w.coord.RevealSecret(ctx, orderHash, secret.String()))
	w.eventuallyEscrows(t, orderHash, 2, models.EscrowStatusReleased)
}

func TestCoordinator_RefundAfterMissedReveal(t *testing.T) {
	w := newDaemonWorld(t, func(cfg *Config) {
		cfg.Timelocks = timelock.Config{
			Source:       timelock.Schedule{ActiveFor: 200 * time.Millisecond, WithdrawalFor: 100 * time.Millisecond, PublicFor: 100 * time.Millisecond},
			Destination:  timelock.Schedule{ActiveFor: 100 * time.Millisecond, WithdrawalFor: 50 * time.Millisecond, PublicFor: 50 * time.Millisecond},
			SafetyMargin: 100 * time.Millisecond,
		}
		cfg.MinTimelock = 100 * time.Millisecond
	})
	ctx := context.Background()

	// Maker keeps the secret and never reveals it.
	secret, err := hashlock.NewSecret()
	require.NoError(t, err)
	intent := w.intent()
	intent.Hashlock = secret.Hash().String()

	orderHash, err := w.coord.SubmitOrder(ctx, intent)
	require.NoError(t, err)
	auc := w.soleAuction(t, orderHash)
	result, err := w.coord.PlaceBid(ctx, auc.ID, "resolver-a", auc.StartPrice, 21000, 0)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	// Both escrows age through their stages and the scheduler refunds them.
	w.eventuallyEscrows(t, orderHash, 2, models.EscrowStatusRefunded)

	src, dst := w.escrowsBySide(t, orderHash)
	assert.NotEmpty(t, src.RefundTxID)
	assert.NotEmpty(t, dst.RefundTxID)
	_, refunded, ok := w.eth.Escrow(src.EscrowID)
	require.True(t, ok)
	assert.True(t, refunded)
}

func TestCoordinator_PartialFillsReauctionRemainder(t *testing.T) {
	w := newDaemonWorld(t, nil)
	ctx := context.Background()

	intent := w.intent()
	intent.AllowPartialFills = true
	intent.MinFillAmount = 100

	orderHash, err := w.coord.SubmitOrder(ctx, intent)
	require.NoError(t, err)

	first := w.soleAuction(t, orderHash)
	result, err := w.coord.PlaceBid(ctx, first.ID, "resolver-a", first.StartPrice, 21000, 600)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	// The remainder goes straight back to auction in a fresh round.
	view, err := w.coord.GetOrder(orderHash)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAuctionActive, view.Order.Status)
	assert.Equal(t, money.Money(400), view.Order.RemainingAmount)

	second := w.soleAuction(t, orderHash)
	assert.NotEqual(t, first.ID, second.ID)

	result, err = w.coord.PlaceBid(ctx, second.ID, "resolver-b", second.StartPrice, 21000, 0)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	view, err = w.coord.GetOrder(orderHash)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, view.Order.Status)
	require.Len(t, view.Fills, 2)
	assert.Equal(t, money.Money(600), view.Fills[0].Amount)
	assert.Equal(t, money.Money(400), view.Fills[1].Amount)

	// Two escrow pairs, all released via the daemon-held secret.
	w.eventuallyEscrows(t, orderHash, 4, models.EscrowStatusReleased)
}

func TestCoordinator_RoundsExhaustedKeepRemainder(t *testing.T) {
	w := newDaemonWorld(t, func(cfg *Config) {
		cfg.MaxAuctionRounds = 1
	})
	ctx := context.Background()

	intent := w.intent()
	intent.AllowPartialFills = true
	intent.MinFillAmount = 100

	orderHash, err := w.coord.SubmitOrder(ctx, intent)
	require.NoError(t, err)
	auc := w.soleAuction(t, orderHash)
	result, err := w.coord.PlaceBid(ctx, auc.ID, "resolver-a", auc.StartPrice, 21000, 600)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	// No rounds left: the partial fill stands, nothing is re-auctioned.
	view, err := w.coord.GetOrder(orderHash)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPartiallyFilled, view.Order.Status)
	assert.Equal(t, money.Money(400), view.Order.RemainingAmount)
	assert.Empty(t, w.coord.ListActiveAuctions())
}

func TestCoordinator_UnbidAuctionRoundsExpireToCancelled(t *testing.T) {
	w := newDaemonWorld(t, func(cfg *Config) {
		cfg.AuctionDuration = 50 * time.Millisecond
		cfg.MaxAuctionRounds = 2
	})
	ctx := context.Background()

	orderHash, err := w.coord.SubmitOrder(ctx, w.intent())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, err := w.coord.GetOrder(orderHash)

		return err == nil && view.Order.Status == models.OrderStatusCancelled
	}, 5*time.Second, 20*time.Millisecond)
	assert.Empty(t, w.coord.ListActiveAuctions())
}

func TestCoordinator_OrderDeadlineExpires(t *testing.T) {
	w := newDaemonWorld(t, nil)
	ctx := context.Background()

	intent := w.intent()
	intent.Deadline = time.Now().Add(100 * time.Millisecond)

	orderHash, err := w.coord.SubmitOrder(ctx, intent)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, err := w.coord.GetOrder(orderHash)

		return err == nil && view.Order.Status == models.OrderStatusExpired
	}, 5*time.Second, 20*time.Millisecond)
	assert.Empty(t, w.coord.ListActiveAuctions())
}

func TestCoordinator_CancelOrder(t *testing.T) {
	w := newDaemonWorld(t, nil)
	ctx := context.Background()

	orderHash, err := w.coord.SubmitOrder(ctx, w.intent())
	require.NoError(t, err)
	auc := w.soleAuction(t, orderHash)

	require.NoError(t, w.coord.CancelOrder(ctx, orderHash))
	view, err := w.coord.GetOrder(orderHash)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, view.Order.Status)
	assert.Empty(t, w.coord.ListActiveAuctions())

	_, err = w.coord.PlaceBid(ctx, auc.ID, "resolver-a", auc.StartPrice, 21000, 0)
	assert.ErrorIs(t, err, auction.ErrAuctionNotFound)
}

func TestCoordinator_CancelRejectedAfterFill(t *testing.T) {
	w := newDaemonWorld(t, nil)
	ctx := context.Background()

	intent := w.intent()
	intent.AllowPartialFills = true
	intent.MinFillAmount = 100

	orderHash, err := w.coord.SubmitOrder(ctx, intent)
	require.NoError(t, err)
	auc := w.soleAuction(t, orderHash)
	result, err := w.coord.PlaceBid(ctx, auc.ID, "resolver-a", auc.StartPrice, 21000, 600)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	err = w.coord.CancelOrder(ctx, orderHash)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestCoordinator_RevealRequiresFundedDestination(t *testing.T) {
	w := newDaemonWorld(t, nil)
	ctx := context.Background()

	secret, err := hashlock.NewSecret()
	require.NoError(t, err)
	intent := w.intent()
	intent.Hashlock = secret.Hash().String()

	orderHash, err := w.coord.SubmitOrder(ctx, intent)
	require.NoError(t, err)
	auc := w.soleAuction(t, orderHash)

	// Destination escrow creation fails on chain; the daemon voids it and
	// alerts. The reveal then has nothing to run against.
	w.algo.FailNextSubmit(assert.AnError)
	result, err := w.coord.PlaceBid(ctx, auc.ID, "resolver-a", auc.StartPrice, 21000, 0)
	require.NoError(t, err)
	require.True(t, result.Accepted)

	require.Eventually(t, func() bool {
		view, err := w.coord.GetOrder(orderHash)
		if err != nil {
			return false
		}
		for _, esc := range view.Escrows {
			if esc.Side == models.EscrowSideDestination && esc.Status == models.EscrowStatusRefunded {
				return true
			}
		}

		return false
	}, 5*time.Second, 20*time.Millisecond)
	assert.NotEmpty(t, w.alerter.stuckEscrows())

	err = w.coord.RevealSecret(ctx, orderHash, secret.String())
	assert.ErrorIs(t, err, ErrNoFundedDestination)
}

func TestCoordinator_SubmitOrderParksWithoutRate(t *testing.T) {
	w := newDaemonWorld(t, nil)
	ctx := context.Background()

	intent := w.intent()
	intent.MakerAsset = "BTC"

	orderHash, err := w.coord.SubmitOrder(ctx, intent)
	require.NoError(t, err)

	view, err := w.coord.GetOrder(orderHash)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, view.Order.Status)
	assert.Empty(t, w.coord.ListActiveAuctions())
}

func TestCoordinator_PinnedPriceWindow(t *testing.T) {
	w := newDaemonWorld(t, nil)
	ctx := context.Background()

	intent := w.intent()
	intent.StartPrice = decimal.NewFromInt(100)
	intent.EndPrice = decimal.NewFromInt(80)

	orderHash, err := w.coord.SubmitOrder(ctx, intent)
	require.NoError(t, err)

	auc := w.soleAuction(t, orderHash)
	assert.True(t, auc.StartPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, auc.EndPrice.Equal(decimal.NewFromInt(80)))
}

func TestCoordinator_ArchivesSettledOrders(t *testing.T) {
	w := newDaemonWorld(t, func(cfg *Config) {
		cfg.OrderRetention = 50 * time.Millisecond
		cfg.ArchiveInterval = 20 * time.Millisecond
	})
	ctx := context.Background()

	orderHash, err := w.coord.SubmitOrder(ctx, w.intent())
	require.NoError(t, err)
	require.NoError(t, w.coord.CancelOrder(ctx, orderHash))

	require.Eventually(t, func() bool {
		_, err := w.coord.GetOrder(orderHash)

		return err != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCoordinator_RejectsInvalidIntent(t *testing.T) {
	w := newDaemonWorld(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*OrderIntent)
	}{
		{
			name: "missing maker",
			mutate: func(i *OrderIntent) {
				i.Maker = ""
			},
		},
		{
			name: "zero maker amount",
			mutate: func(i *OrderIntent) {
				i.MakerAmount = 0
			},
		},
		{
			name: "unsupported chain",
			mutate: func(i *OrderIntent) {
				i.SourceChain = "solana"
			},
		},
		{
			name: "same chain on both sides",
			mutate: func(i *OrderIntent) {
				i.DestinationChain = i.SourceChain
			},
		},
		{
			name: "missing destination address",
			mutate: func(i *OrderIntent) {
				i.DestinationAddress = ""
			},
		},
		{
			name: "malformed hashlock",
			mutate: func(i *OrderIntent) {
				i.Hashlock = "not-hex"
			},
		},
		{
			name: "min fill above maker amount",
			mutate: func(i *OrderIntent) {
				i.MinFillAmount = i.MakerAmount + 1
			},
		},
		{
			name: "deadline in the past",
			mutate: func(i *OrderIntent) {
				i.Deadline = time.Now().Add(-time.Minute)
			},
		},
		{
			name: "pinned start below end",
			mutate: func(i *OrderIntent) {
				i.StartPrice = decimal.NewFromInt(80)
				i.EndPrice = decimal.NewFromInt(100)
			},
		},
		{
			name: "start price pinned alone",
			mutate: func(i *OrderIntent) {
				i.StartPrice = decimal.NewFromInt(100)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := w.intent()
			tt.mutate(&intent)

			_, err := w.coord.SubmitOrder(ctx, intent)
			assert.ErrorIs(t, err, ErrInvalidIntent)
		})
	}
}

func TestNew_Validates(t *testing.T) {
	store := orders.NewStore(nil, 0)
	oracle := rates.NewStatic(nil)

	_, err := New(NewConfig(), store, map[models.Chain]chain.Client{
		models.ChainEthereum: chain.NewFake("ethereum"),
	}, oracle, nil)
	assert.Error(t, err, "config without resolvers must be rejected")

	cfg := validConfig()
	_, err = New(cfg, store, nil, oracle, nil)
	assert.Error(t, err, "at least one chain client is required")
}
