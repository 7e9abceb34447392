package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a thin HTTP client for the daemon API, used by the CLI commands.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	response, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 {
		var bodyResponse ErrorResponse
		if err := json.NewDecoder(response.Body).Decode(&bodyResponse); err != nil {
			return fmt.Errorf("%d - %s", response.StatusCode, response.Status)
		}

		return fmt.Errorf("%d - %s", bodyResponse.StatusCode, bodyResponse.Message)
	}
	if out == nil {
		return nil
	}

	return json.NewDecoder(response.Body).Decode(out)
}

func (c *Client) SubmitOrder(ctx context.Context, orderReq CreateOrderRequest) (*CreateOrderResponse, error) {
	var resp CreateOrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", orderReq, &resp); err != nil {
		return nil, fmt.Errorf("failed to submit order: %w", err)
	}

	return &resp, nil
}

func (c *Client) GetOrder(ctx context.Context, orderHash string) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%s", orderHash), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return &resp, nil
}

func (c *Client) ListOrders(ctx context.Context, statuses ...string) ([]OrderResponse, error) {
	path := "/orders"
	if len(statuses) > 0 {
		query := url.Values{}
		for _, status := range statuses {
			query.Add("status", status)
		}
		path += "?" + query.Encode()
	}
	var resp []OrderResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	return resp, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderHash string) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/orders/%s", orderHash), nil, nil); err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	return nil
}

func (c *Client) RevealSecret(ctx context.Context, orderHash, secret string) error {
	body := RevealSecretRequest{Secret: secret}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%s/secret", orderHash), body, nil); err != nil {
		return fmt.Errorf("failed to reveal secret: %w", err)
	}

	return nil
}

func (c *Client) ListAuctions(ctx context.Context) ([]AuctionResponse, error) {
	var resp []AuctionResponse
	if err := c.do(ctx, http.MethodGet, "/auctions", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}

	return resp, nil
}

func (c *Client) PlaceBid(ctx context.Context, auctionID string, bidReq PlaceBidRequest) (*PlaceBidResponse, error) {
	var resp PlaceBidResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/auctions/%s/bids", auctionID), bidReq, &resp); err != nil {
		return nil, fmt.Errorf("failed to place bid: %w", err)
	}

	return &resp, nil
}
