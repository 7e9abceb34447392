package rpc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/fusionbridge/swapd/auction"
	"github.com/fusionbridge/swapd/daemon"
	"github.com/fusionbridge/swapd/database/models"
	"github.com/fusionbridge/swapd/money"
	"github.com/fusionbridge/swapd/orders"
)

// Coordinator is the slice of the daemon the HTTP API exposes.
type Coordinator interface {
	SubmitOrder(ctx context.Context, intent daemon.OrderIntent) (string, error)
	GetOrder(orderHash string) (orders.OrderView, error)
	ListOrders(statuses ...models.OrderStatus) []models.SwapOrder
	CancelOrder(ctx context.Context, orderHash string) error
	RevealSecret(ctx context.Context, orderHash, secretHex string) error
	PlaceBid(ctx context.Context, auctionID, resolver string, price decimal.Decimal, gasEstimate uint64, fillAmount money.Money) (auction.BidResult, error)
	ListActiveAuctions() []auction.Auction
}

type Server struct {
	coordinator Coordinator
	httpServer  *http.Server
	now         func() time.Time
}

func NewServer(coordinator Coordinator) *Server {
	return &Server{
		coordinator: coordinator,
		now:         time.Now,
	}
}

// Handler builds the router. Exposed separately so tests can drive it
// through httptest without binding a port.
func (server *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/health", server.handleHealth)
	router.Route("/orders", func(r chi.Router) {
		r.Post("/", server.handleCreateOrder)
		r.Get("/", server.handleListOrders)
		r.Route("/{orderHash}", func(r chi.Router) {
			r.Get("/", server.handleGetOrder)
			r.Delete("/", server.handleCancelOrder)
			r.Post("/secret", server.handleRevealSecret)
		})
	})
	router.Route("/auctions", func(r chi.Router) {
		r.Get("/", server.handleListAuctions)
		r.Post("/{auctionID}/bids", server.handlePlaceBid)
	})

	return router
}

func (server *Server) ListenAndServe(port string) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return fmt.Errorf("failed to listen to port: %w", err)
	}
	server.httpServer = &http.Server{Handler: server.Handler()}
	log.Infof("API listening on port %s", port)
	if err := server.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve http: %w", err)
	}

	return nil
}

func (server *Server) Shutdown(ctx context.Context) error {
	if server.httpServer == nil {
		return nil
	}

	return server.httpServer.Shutdown(ctx)
}
