package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusionbridge/swapd/auction"
	"github.com/fusionbridge/swapd/daemon"
	"github.com/fusionbridge/swapd/database/models"
	"github.com/fusionbridge/swapd/fills"
	"github.com/fusionbridge/swapd/money"
	"github.com/fusionbridge/swapd/orders"
	"github.com/fusionbridge/swapd/relay"
)

type stubCoordinator struct {
	submitOrder  func(ctx context.Context, intent daemon.OrderIntent) (string, error)
	getOrder     func(orderHash string) (orders.OrderView, error)
	listOrders   func(statuses ...models.OrderStatus) []models.SwapOrder
	cancelOrder  func(ctx context.Context, orderHash string) error
	revealSecret func(ctx context.Context, orderHash, secretHex string) error
	placeBid     func(ctx context.Context, auctionID, resolver string, price decimal.Decimal, gasEstimate uint64, fillAmount money.Money) (auction.BidResult, error)
	listAuctions func() []auction.Auction
}

func (s *stubCoordinator) SubmitOrder(ctx context.Context, intent daemon.OrderIntent) (string, error) {
	return s.submitOrder(ctx, intent)
}

func (s *stubCoordinator) GetOrder(orderHash string) (orders.OrderView, error) {
	return s.getOrder(orderHash)
}

func (s *stubCoordinator) ListOrders(statuses ...models.OrderStatus) []models.SwapOrder {
	return s.listOrders(statuses...)
}

func (s *stubCoordinator) CancelOrder(ctx context.Context, orderHash string) error {
	return s.cancelOrder(ctx, orderHash)
}

func (s *stubCoordinator) RevealSecret(ctx context.Context, orderHash, secretHex string) error {
	return s.revealSecret(ctx, orderHash, secretHex)
}

func (s *stubCoordinator) PlaceBid(ctx context.Context, auctionID, resolver string, price decimal.Decimal, gasEstimate uint64, fillAmount money.Money) (auction.BidResult, error) {
	return s.placeBid(ctx, auctionID, resolver, price, gasEstimate, fillAmount)
}

func (s *stubCoordinator) ListActiveAuctions() []auction.Auction {
	return s.listAuctions()
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func orderRequestFixture() CreateOrderRequest {
	return CreateOrderRequest{
		Maker:              "maker-addr",
		MakerAsset:         "ETH",
		MakerAmount:        decimal.NewFromInt(1000),
		TakerAsset:         "ALGO",
		TakerAmount:        decimal.NewFromInt(5000),
		SourceChain:        "ethereum",
		DestinationChain:   "algorand",
		DestinationAddress: "algo-addr",
	}
}

func TestServer_Health(t *testing.T) {
	handler := NewServer(&stubCoordinator{}).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_CreateOrder(t *testing.T) {
	var captured daemon.OrderIntent
	stub := &stubCoordinator{
		submitOrder: func(ctx context.Context, intent daemon.OrderIntent) (string, error) {
			captured = intent

			return "hash-1", nil
		},
	}
	handler := NewServer(stub).Handler()

	rec := doRequest(t, handler, http.MethodPost, "/orders", orderRequestFixture())

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp CreateOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hash-1", resp.OrderHash)
	assert.Equal(t, money.Money(1000), captured.MakerAmount)
	assert.Equal(t, money.Money(5000), captured.TakerAmount)
	assert.Equal(t, models.ChainEthereum, captured.SourceChain)
	assert.Equal(t, models.ChainAlgorand, captured.DestinationChain)
}

func TestServer_CreateOrder_Rejections(t *testing.T) {
	stub := &stubCoordinator{
		submitOrder: func(ctx context.Context, intent daemon.OrderIntent) (string, error) {
			return "", fmt.Errorf("%w: maker address is required", daemon.ErrInvalidIntent)
		},
	}
	handler := NewServer(stub).Handler()

	t.Run("invalid intent", func(t *testing.T) {
		rec := doRequest(t, handler, http.MethodPost, "/orders", orderRequestFixture())

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, resp.Message, "maker address is required")
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("negative amount", func(t *testing.T) {
		orderReq := orderRequestFixture()
		orderReq.MakerAmount = decimal.NewFromInt(-5)
		rec := doRequest(t, handler, http.MethodPost, "/orders", orderReq)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp.Message, "negative")
	})
}

func TestServer_GetOrder(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	view := orders.OrderView{
		Order: models.SwapOrder{
			OrderHash:          "hash-1",
			Maker:              "maker-addr",
			MakerAsset:         "ETH",
			MakerAmount:        money.Money(1000),
			TakerAsset:         "ALGO",
			TakerAmount:        money.Money(5000),
			SourceChain:        models.ChainEthereum,
			DestinationChain:   models.ChainAlgorand,
			DestinationAddress: "algo-addr",
			Hashlock:           "aa11",
			RemainingAmount:    money.Money(400),
			Status:             models.OrderStatusPartiallyFilled,
			WinningResolver:    "resolver-a",
			WinningRate:        decimal.RequireFromString("5.25"),
			Deadline:           now.Add(time.Hour),
		},
		Escrows: []models.Escrow{{
			EscrowID:      "esc-1",
			OrderHash:     "hash-1",
			Chain:         models.ChainEthereum,
			Side:          models.EscrowSideSource,
			Resolver:      "resolver-a",
			Amount:        money.Money(600),
			Status:        models.EscrowStatusCreated,
			Stage:         models.EscrowStageActive,
			WithdrawalAt:  now.Add(10 * time.Minute),
			PublicAt:      now.Add(20 * time.Minute),
			CancellableAt: now.Add(30 * time.Minute),
			FundingTxID:   "tx-fund",
		}},
		Fills: []models.Fill{{
			OrderHash: "hash-1",
			Resolver:  "resolver-a",
			Amount:    money.Money(600),
			Rate:      decimal.RequireFromString("5.25"),
			CreatedAt: now,
		}},
	}
	stub := &stubCoordinator{
		getOrder: func(orderHash string) (orders.OrderView, error) {
			require.Equal(t, "hash-1", orderHash)

			return view, nil
		},
	}
	handler := NewServer(stub).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/orders/hash-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hash-1", resp.OrderHash)
	assert.Equal(t, "PARTIALLY_FILLED", resp.Status)
	assert.True(t, resp.MakerAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, resp.RemainingAmount.Equal(decimal.NewFromInt(400)))
	require.Len(t, resp.Escrows, 1)
	assert.Equal(t, "SOURCE", resp.Escrows[0].Side)
	assert.Equal(t, "ACTIVE", resp.Escrows[0].Stage)
	assert.Equal(t, "tx-fund", resp.Escrows[0].FundingTxID)
	require.Len(t, resp.Fills, 1)
	assert.True(t, resp.Fills[0].Rate.Equal(decimal.RequireFromString("5.25")))
}

func TestServer_GetOrder_NotFound(t *testing.T) {
	stub := &stubCoordinator{
		getOrder: func(orderHash string) (orders.OrderView, error) {
			return orders.OrderView{}, orders.ErrOrderNotFound
		},
	}
	handler := NewServer(stub).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/orders/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListOrders(t *testing.T) {
	var captured []models.OrderStatus
	stub := &stubCoordinator{
		listOrders: func(statuses ...models.OrderStatus) []models.SwapOrder {
			captured = statuses

			return []models.SwapOrder{{OrderHash: "hash-1", Status: models.OrderStatusFilled}}
		},
	}
	handler := NewServer(stub).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/orders?status=filled&status=PENDING", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []models.OrderStatus{models.OrderStatusFilled, models.OrderStatusPending}, captured)
	var resp []OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "hash-1", resp[0].OrderHash)
}

func TestServer_ListOrders_UnknownStatus(t *testing.T) {
	handler := NewServer(&stubCoordinator{}).Handler()

	rec := doRequest(t, handler, http.MethodGet, "/orders?status=bogus", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CancelOrder(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		stub := &stubCoordinator{
			cancelOrder: func(ctx context.Context, orderHash string) error {
				return nil
			},
		}
		rec := doRequest(t, NewServer(stub).Handler(), http.MethodDelete, "/orders/hash-1", nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("not cancellable", func(t *testing.T) {
		stub := &stubCoordinator{
			cancelOrder: func(ctx context.Context, orderHash string) error {
				return fmt.Errorf("%w: order already has fills", daemon.ErrNotCancellable)
			},
		}
		rec := doRequest(t, NewServer(stub).Handler(), http.MethodDelete, "/orders/hash-1", nil)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestServer_RevealSecret(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"order not found", orders.ErrOrderNotFound, http.StatusNotFound},
		{"mismatch", relay.ErrSecretMismatch, http.StatusBadRequest},
		{"no funded destination", daemon.ErrNoFundedDestination, http.StatusConflict},
		{"window closed", daemon.ErrRevealWindowClosed, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubCoordinator{
				revealSecret: func(ctx context.Context, orderHash, secretHex string) error {
					assert.Equal(t, "hash-1", orderHash)
					assert.Equal(t, "deadbeef", secretHex)

					return tc.err
				},
			}
			body := RevealSecretRequest{Secret: "deadbeef"}
			rec := doRequest(t, NewServer(stub).Handler(), http.MethodPost, "/orders/hash-1/secret", body)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestServer_ListAuctions(t *testing.T) {
	started := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	stub := &stubCoordinator{
		listAuctions: func() []auction.Auction {
			return []auction.Auction{{
				ID:         "auc-1",
				OrderHash:  "hash-1",
				StartPrice: decimal.NewFromInt(10),
				EndPrice:   decimal.NewFromInt(6),
				Duration:   4 * time.Minute,
				StartedAt:  started,
			}}
		},
	}
	server := NewServer(stub)
	// Pin the clock halfway through the decay window.
	server.now = func() time.Time { return started.Add(2 * time.Minute) }

	rec := doRequest(t, server.Handler(), http.MethodGet, "/auctions", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []AuctionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "auc-1", resp[0].AuctionID)
	assert.True(t, resp[0].CurrentPrice.Equal(decimal.NewFromInt(8)), "got %s", resp[0].CurrentPrice)
	assert.True(t, resp[0].EndsAt.Equal(started.Add(4*time.Minute)))
}

func TestServer_PlaceBid(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		var gotAmount money.Money
		stub := &stubCoordinator{
			placeBid: func(ctx context.Context, auctionID, resolver string, price decimal.Decimal, gasEstimate uint64, fillAmount money.Money) (auction.BidResult, error) {
				assert.Equal(t, "auc-1", auctionID)
				assert.Equal(t, "resolver-a", resolver)
				gotAmount = fillAmount

				return auction.BidResult{Accepted: true, Price: price}, nil
			},
		}
		body := PlaceBidRequest{
			Resolver:   "resolver-a",
			Price:      decimal.RequireFromString("5.25"),
			FillAmount: decimal.NewFromInt(600),
		}
		rec := doRequest(t, NewServer(stub).Handler(), http.MethodPost, "/auctions/auc-1/bids", body)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp PlaceBidResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Accepted)
		assert.True(t, resp.Price.Equal(decimal.RequireFromString("5.25")))
		assert.Equal(t, money.Money(600), gotAmount)
	})

	t.Run("underpriced bid is not an error", func(t *testing.T) {
		stub := &stubCoordinator{
			placeBid: func(ctx context.Context, auctionID, resolver string, price decimal.Decimal, gasEstimate uint64, fillAmount money.Money) (auction.BidResult, error) {
				return auction.BidResult{Accepted: false, Price: decimal.NewFromInt(9)}, nil
			},
		}
		body := PlaceBidRequest{Resolver: "resolver-a", Price: decimal.NewFromInt(1)}
		rec := doRequest(t, NewServer(stub).Handler(), http.MethodPost, "/auctions/auc-1/bids", body)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp PlaceBidResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Accepted)
	})

	t.Run("error mapping", func(t *testing.T) {
		cases := []struct {
			name string
			err  error
			want int
		}{
			{"auction not found", auction.ErrAuctionNotFound, http.StatusNotFound},
			{"resolver not allowed", auction.ErrResolverNotAllowed, http.StatusForbidden},
			{"below min fill", fills.ErrBelowMinFill, http.StatusBadRequest},
			{"partials disabled", fills.ErrPartialFillsDisabled, http.StatusBadRequest},
			{"order terminal", orders.ErrOrderTerminal, http.StatusConflict},
			{"unexpected", assert.AnError, http.StatusInternalServerError},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				stub := &stubCoordinator{
					placeBid: func(ctx context.Context, auctionID, resolver string, price decimal.Decimal, gasEstimate uint64, fillAmount money.Money) (auction.BidResult, error) {
						return auction.BidResult{}, tc.err
					},
				}
				body := PlaceBidRequest{Resolver: "resolver-a", Price: decimal.NewFromInt(5)}
				rec := doRequest(t, NewServer(stub).Handler(), http.MethodPost, "/auctions/auc-1/bids", body)

				assert.Equal(t, tc.want, rec.Code)
			})
		}
	})
}
