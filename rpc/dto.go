package rpc

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fusionbridge/swapd/auction"
	"github.com/fusionbridge/swapd/daemon"
	"github.com/fusionbridge/swapd/database/models"
	"github.com/fusionbridge/swapd/orders"
	"github.com/fusionbridge/swapd/utils"
)

// Amounts cross the API as decimal strings of base units; the engine-side
// money type never leaks a float through JSON.

type CreateOrderRequest struct {
	Maker              string          `json:"maker"`
	MakerAsset         string          `json:"makerAsset"`
	MakerAmount        decimal.Decimal `json:"makerAmount"`
	TakerAsset         string          `json:"takerAsset"`
	TakerAmount        decimal.Decimal `json:"takerAmount"`
	SourceChain        string          `json:"sourceChain"`
	DestinationChain   string          `json:"destinationChain"`
	DestinationAddress string          `json:"destinationAddress"`
	Hashlock           string          `json:"hashlock,omitempty"`
	AllowPartialFills  bool            `json:"allowPartialFills,omitempty"`
	MinFillAmount      decimal.Decimal `json:"minFillAmount,omitempty"`
	Deadline           *time.Time      `json:"deadline,omitempty"`
	StartPrice         decimal.Decimal `json:"startPrice,omitempty"`
	EndPrice           decimal.Decimal `json:"endPrice,omitempty"`
}

func (r CreateOrderRequest) toIntent() (daemon.OrderIntent, error) {
	makerAmount, err := utils.SafeDecimalToMoney(r.MakerAmount)
	if err != nil {
		return daemon.OrderIntent{}, err
	}
	takerAmount, err := utils.SafeDecimalToMoney(r.TakerAmount)
	if err != nil {
		return daemon.OrderIntent{}, err
	}
	minFill, err := utils.SafeDecimalToMoney(r.MinFillAmount)
	if err != nil {
		return daemon.OrderIntent{}, err
	}

	intent := daemon.OrderIntent{
		Maker:              r.Maker,
		MakerAsset:         r.MakerAsset,
		MakerAmount:        makerAmount,
		TakerAsset:         r.TakerAsset,
		TakerAmount:        takerAmount,
		SourceChain:        models.Chain(r.SourceChain),
		DestinationChain:   models.Chain(r.DestinationChain),
		DestinationAddress: r.DestinationAddress,
		Hashlock:           r.Hashlock,
		AllowPartialFills:  r.AllowPartialFills,
		MinFillAmount:      minFill,
		StartPrice:         r.StartPrice,
		EndPrice:           r.EndPrice,
	}
	if r.Deadline != nil {
		intent.Deadline = *r.Deadline
	}

	return intent, nil
}

type CreateOrderResponse struct {
	OrderHash string `json:"orderHash"`
}

type OrderResponse struct {
	OrderHash          string           `json:"orderHash"`
	Maker              string           `json:"maker"`
	MakerAsset         string           `json:"makerAsset"`
	MakerAmount        decimal.Decimal  `json:"makerAmount"`
	TakerAsset         string           `json:"takerAsset"`
	TakerAmount        decimal.Decimal  `json:"takerAmount"`
	SourceChain        string           `json:"sourceChain"`
	DestinationChain   string           `json:"destinationChain"`
	DestinationAddress string           `json:"destinationAddress"`
	Hashlock           string           `json:"hashlock"`
	AllowPartialFills  bool             `json:"allowPartialFills"`
	MinFillAmount      decimal.Decimal  `json:"minFillAmount"`
	RemainingAmount    decimal.Decimal  `json:"remainingAmount"`
	Status             string           `json:"status"`
	WinningResolver    string           `json:"winningResolver,omitempty"`
	WinningRate        decimal.Decimal  `json:"winningRate,omitempty"`
	Deadline           time.Time        `json:"deadline"`
	CreatedAt          time.Time        `json:"createdAt"`
	Escrows            []EscrowResponse `json:"escrows"`
	Fills              []FillResponse   `json:"fills"`
}

type EscrowResponse struct {
	EscrowID      string          `json:"escrowId"`
	Chain         string          `json:"chain"`
	Side          string          `json:"side"`
	Resolver      string          `json:"resolver"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	Stage         string          `json:"stage"`
	WithdrawalAt  time.Time       `json:"withdrawalAt"`
	PublicAt      time.Time       `json:"publicAt"`
	CancellableAt time.Time       `json:"cancellableAt"`
	FundingTxID   string          `json:"fundingTxId,omitempty"`
	ReleaseTxID   string          `json:"releaseTxId,omitempty"`
	RefundTxID    string          `json:"refundTxId,omitempty"`
}

type FillResponse struct {
	Resolver  string          `json:"resolver"`
	Amount    decimal.Decimal `json:"amount"`
	Rate      decimal.Decimal `json:"rate"`
	CreatedAt time.Time       `json:"createdAt"`
}

type AuctionResponse struct {
	AuctionID    string          `json:"auctionId"`
	OrderHash    string          `json:"orderHash"`
	StartPrice   decimal.Decimal `json:"startPrice"`
	EndPrice     decimal.Decimal `json:"endPrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	StartedAt    time.Time       `json:"startedAt"`
	EndsAt       time.Time       `json:"endsAt"`
}

type PlaceBidRequest struct {
	Resolver    string          `json:"resolver"`
	Price       decimal.Decimal `json:"price"`
	GasEstimate uint64          `json:"gasEstimate,omitempty"`
	FillAmount  decimal.Decimal `json:"fillAmount,omitempty"`
}

type PlaceBidResponse struct {
	Accepted bool            `json:"accepted"`
	Price    decimal.Decimal `json:"price"`
}

type RevealSecretRequest struct {
	Secret string `json:"secret"`
}

type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func toOrderResponse(view orders.OrderView) OrderResponse {
	order := view.Order
	resp := OrderResponse{
		OrderHash:          order.OrderHash,
		Maker:              order.Maker,
		MakerAsset:         order.MakerAsset,
		MakerAmount:        order.MakerAmount.Decimal(),
		TakerAsset:         order.TakerAsset,
		TakerAmount:        order.TakerAmount.Decimal(),
		SourceChain:        order.SourceChain.String(),
		DestinationChain:   order.DestinationChain.String(),
		DestinationAddress: order.DestinationAddress,
		Hashlock:           order.Hashlock,
		AllowPartialFills:  order.AllowPartialFills,
		MinFillAmount:      order.MinFillAmount.Decimal(),
		RemainingAmount:    order.RemainingAmount.Decimal(),
		Status:             order.Status.String(),
		WinningResolver:    order.WinningResolver,
		WinningRate:        order.WinningRate,
		Deadline:           order.Deadline,
		CreatedAt:          order.CreatedAt,
		Escrows:            make([]EscrowResponse, 0, len(view.Escrows)),
		Fills:              make([]FillResponse, 0, len(view.Fills)),
	}
	for _, esc := range view.Escrows {
		resp.Escrows = append(resp.Escrows, EscrowResponse{
			EscrowID:      esc.EscrowID,
			Chain:         esc.Chain.String(),
			Side:          esc.Side.String(),
			Resolver:      esc.Resolver,
			Amount:        esc.Amount.Decimal(),
			Status:        esc.Status.String(),
			Stage:         esc.Stage.String(),
			WithdrawalAt:  esc.WithdrawalAt,
			PublicAt:      esc.PublicAt,
			CancellableAt: esc.CancellableAt,
			FundingTxID:   esc.FundingTxID,
			ReleaseTxID:   esc.ReleaseTxID,
			RefundTxID:    esc.RefundTxID,
		})
	}
	for _, fill := range view.Fills {
		resp.Fills = append(resp.Fills, FillResponse{
			Resolver:  fill.Resolver,
			Amount:    fill.Amount.Decimal(),
			Rate:      fill.Rate,
			CreatedAt: fill.CreatedAt,
		})
	}

	return resp
}

func toAuctionResponse(auc auction.Auction, now time.Time) AuctionResponse {
	return AuctionResponse{
		AuctionID:    auc.ID,
		OrderHash:    auc.OrderHash,
		StartPrice:   auc.StartPrice,
		EndPrice:     auc.EndPrice,
		CurrentPrice: auc.PriceAt(now),
		StartedAt:    auc.StartedAt,
		EndsAt:       auc.StartedAt.Add(auc.Duration),
	}
}
