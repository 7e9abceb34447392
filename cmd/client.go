package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"

	"github.com/fusionbridge/swapd/rpc"
)

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))

	return nil
}

func parseDecimalFlag(cmd *cli.Command, name string) (decimal.Decimal, error) {
	raw := cmd.String(name)
	if raw == "" {
		return decimal.Decimal{}, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s: %w", name, err)
	}

	return value, nil
}

func orderCommands() *cli.Command {
	return &cli.Command{
		Name:  "order",
		Usage: "Order operations against a running daemon",
		Commands: []*cli.Command{
			{
				Name:  "submit",
				Usage: "Submit a swap order",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "maker", Usage: "Maker address on the source chain", Required: true},
					&cli.StringFlag{Name: "maker-asset", Usage: "Asset the maker sells", Required: true},
					&cli.StringFlag{Name: "maker-amount", Usage: "Amount sold, in base units", Required: true},
					&cli.StringFlag{Name: "taker-asset", Usage: "Asset the maker buys", Required: true},
					&cli.StringFlag{Name: "taker-amount", Usage: "Amount expected, in base units", Required: true},
					&cli.StringFlag{Name: "source-chain", Usage: "Chain holding the maker funds", Required: true},
					&cli.StringFlag{Name: "destination-chain", Usage: "Chain the maker is paid on", Required: true},
					&cli.StringFlag{Name: "destination-address", Usage: "Maker payout address on the destination chain", Required: true},
					&cli.StringFlag{Name: "hashlock", Usage: "sha256 of a maker-held secret, hex; omit to let the daemon hold the secret"},
					&cli.BoolFlag{Name: "allow-partial-fills", Usage: "Allow resolvers to fill the order in parts"},
					&cli.StringFlag{Name: "min-fill-amount", Usage: "Smallest acceptable partial fill, in base units"},
					&cli.DurationFlag{Name: "deadline", Usage: "How long the order stays fillable; daemon default when omitted"},
					&cli.StringFlag{Name: "start-price", Usage: "Pin the auction start price instead of deriving it"},
					&cli.StringFlag{Name: "end-price", Usage: "Pin the auction end price instead of deriving it"},
				},
				Action: submitOrder,
			},
			{
				Name:      "get",
				Usage:     "Fetch one order with its escrows and fills",
				ArgsUsage: "<order-hash>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					orderHash := cmd.Args().First()
					if orderHash == "" {
						return fmt.Errorf("order hash argument is required")
					}
					resp, err := rpc.NewClient(cmd.String("api-url")).GetOrder(ctx, orderHash)
					if err != nil {
						return err
					}

					return printJSON(resp)
				},
			},
			{
				Name:  "list",
				Usage: "List orders, optionally filtered by status",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "status", Usage: "Order status filter, repeatable"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					resp, err := rpc.NewClient(cmd.String("api-url")).ListOrders(ctx, cmd.StringSlice("status")...)
					if err != nil {
						return err
					}

					return printJSON(resp)
				},
			},
			{
				Name:      "cancel",
				Usage:     "Cancel an order that has no fills or escrows yet",
				ArgsUsage: "<order-hash>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					orderHash := cmd.Args().First()
					if orderHash == "" {
						return fmt.Errorf("order hash argument is required")
					}
					if err := rpc.NewClient(cmd.String("api-url")).CancelOrder(ctx, orderHash); err != nil {
						return err
					}
					fmt.Println("order cancelled")

					return nil
				},
			},
			{
				Name:      "reveal",
				Usage:     "Reveal a maker-held secret once the destination escrow is funded",
				ArgsUsage: "<order-hash>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "secret", Usage: "Secret preimage, hex", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					orderHash := cmd.Args().First()
					if orderHash == "" {
						return fmt.Errorf("order hash argument is required")
					}
					if err := rpc.NewClient(cmd.String("api-url")).RevealSecret(ctx, orderHash, cmd.String("secret")); err != nil {
						return err
					}
					fmt.Println("secret accepted")

					return nil
				},
			},
		},
	}
}

func submitOrder(ctx context.Context, cmd *cli.Command) error {
	makerAmount, err := parseDecimalFlag(cmd, "maker-amount")
	if err != nil {
		return err
	}
	takerAmount, err := parseDecimalFlag(cmd, "taker-amount")
	if err != nil {
		return err
	}
	minFill, err := parseDecimalFlag(cmd, "min-fill-amount")
	if err != nil {
		return err
	}
	startPrice, err := parseDecimalFlag(cmd, "start-price")
	if err != nil {
		return err
	}
	endPrice, err := parseDecimalFlag(cmd, "end-price")
	if err != nil {
		return err
	}

	req := rpc.CreateOrderRequest{
		Maker:              cmd.String("maker"),
		MakerAsset:         cmd.String("maker-asset"),
		MakerAmount:        makerAmount,
		TakerAsset:         cmd.String("taker-asset"),
		TakerAmount:        takerAmount,
		SourceChain:        cmd.String("source-chain"),
		DestinationChain:   cmd.String("destination-chain"),
		DestinationAddress: cmd.String("destination-address"),
		Hashlock:           cmd.String("hashlock"),
		AllowPartialFills:  cmd.Bool("allow-partial-fills"),
		MinFillAmount:      minFill,
		StartPrice:         startPrice,
		EndPrice:           endPrice,
	}
	if d := cmd.Duration("deadline"); d > 0 {
		deadline := time.Now().Add(d)
		req.Deadline = &deadline
	}

	resp, err := rpc.NewClient(cmd.String("api-url")).SubmitOrder(ctx, req)
	if err != nil {
		return err
	}

	return printJSON(resp)
}

func auctionCommands() *cli.Command {
	return &cli.Command{
		Name:  "auction",
		Usage: "Auction operations against a running daemon",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List open auctions with their current prices",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					resp, err := rpc.NewClient(cmd.String("api-url")).ListAuctions(ctx)
					if err != nil {
						return err
					}

					return printJSON(resp)
				},
			},
			{
				Name:      "bid",
				Usage:     "Place a resolver bid on an open auction",
				ArgsUsage: "<auction-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "resolver", Usage: "Resolver address placing the bid", Required: true},
					&cli.StringFlag{Name: "price", Usage: "Offered rate", Required: true},
					&cli.StringFlag{Name: "fill-amount", Usage: "Partial fill size in base units; omit to fill the remainder"},
					&cli.IntFlag{Name: "gas-estimate", Usage: "Gas estimate used for tie-breaking"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					auctionID := cmd.Args().First()
					if auctionID == "" {
						return fmt.Errorf("auction id argument is required")
					}
					price, err := parseDecimalFlag(cmd, "price")
					if err != nil {
						return err
					}
					fillAmount, err := parseDecimalFlag(cmd, "fill-amount")
					if err != nil {
						return err
					}
					gasEstimate := cmd.Int("gas-estimate")
					if gasEstimate < 0 {
						return fmt.Errorf("gas estimate must be non-negative")
					}

					resp, err := rpc.NewClient(cmd.String("api-url")).PlaceBid(ctx, auctionID, rpc.PlaceBidRequest{
						Resolver:    cmd.String("resolver"),
						Price:       price,
						GasEstimate: uint64(gasEstimate),
						FillAmount:  fillAmount,
					})
					if err != nil {
						return err
					}

					return printJSON(resp)
				},
			},
		},
	}
}
