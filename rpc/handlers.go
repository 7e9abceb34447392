package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/fusionbridge/swapd/auction"
	"github.com/fusionbridge/swapd/daemon"
	"github.com/fusionbridge/swapd/database/models"
	"github.com/fusionbridge/swapd/fills"
	"github.com/fusionbridge/swapd/orders"
	"github.com/fusionbridge/swapd/relay"
	"github.com/fusionbridge/swapd/utils"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{StatusCode: status, Message: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, auction.ErrAuctionNotFound):
		return http.StatusNotFound
	case errors.Is(err, auction.ErrResolverNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, daemon.ErrNotCancellable),
		errors.Is(err, daemon.ErrNoFundedDestination),
		errors.Is(err, daemon.ErrRevealWindowClosed),
		errors.Is(err, orders.ErrOrderTerminal),
		errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, daemon.ErrInvalidIntent),
		errors.Is(err, relay.ErrSecretMismatch),
		errors.Is(err, fills.ErrZeroFill),
		errors.Is(err, fills.ErrPartialFillsDisabled),
		errors.Is(err, fills.ErrBelowMinFill),
		errors.Is(err, fills.ErrInsufficientRemainingCapacity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (server *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (server *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	intent, err := req.toIntent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	orderHash, err := server.coordinator.SubmitOrder(r.Context(), intent)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, CreateOrderResponse{OrderHash: orderHash})
}

func (server *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := server.coordinator.GetOrder(chi.URLParam(r, "orderHash"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(view))
}

func (server *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var statuses []models.OrderStatus
	for _, raw := range r.URL.Query()["status"] {
		status := models.OrderStatus(strings.ToUpper(raw))
		if !status.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown order status: %s", raw))
			return
		}
		statuses = append(statuses, status)
	}
	listed := server.coordinator.ListOrders(statuses...)
	resp := make([]OrderResponse, 0, len(listed))
	for _, order := range listed {
		resp = append(resp, toOrderResponse(orders.OrderView{Order: order}))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (server *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if err := server.coordinator.CancelOrder(r.Context(), chi.URLParam(r, "orderHash")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (server *Server) handleRevealSecret(w http.ResponseWriter, r *http.Request) {
	var req RevealSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := server.coordinator.RevealSecret(r.Context(), chi.URLParam(r, "orderHash"), req.Secret); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (server *Server) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	now := server.now()
	active := server.coordinator.ListActiveAuctions()
	resp := make([]AuctionResponse, 0, len(active))
	for _, auc := range active {
		resp = append(resp, toAuctionResponse(auc, now))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (server *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	fillAmount, err := utils.SafeDecimalToMoney(req.FillAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := server.coordinator.PlaceBid(r.Context(), chi.URLParam(r, "auctionID"), req.Resolver, req.Price, req.GasEstimate, fillAmount)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	// A losing bid is a normal auction outcome, not an API failure.
	writeJSON(w, http.StatusOK, PlaceBidResponse{Accepted: result.Accepted, Price: result.Price})
}
