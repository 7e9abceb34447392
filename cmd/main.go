package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/fusionbridge/swapd/chain"
	"github.com/fusionbridge/swapd/daemon"
	"github.com/fusionbridge/swapd/database"
	"github.com/fusionbridge/swapd/database/models"
	"github.com/fusionbridge/swapd/orders"
	"github.com/fusionbridge/swapd/rates"
	"github.com/fusionbridge/swapd/rpc"
	"github.com/fusionbridge/swapd/utils"

	_ "github.com/fusionbridge/swapd/logging"
	_ "github.com/lib/pq"
)

func validatePort(port int64) (uint32, error) {
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("port number %d is invalid: must be between 0 and 65535", port)
	}

	return uint32(port), nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found")
	}

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info("Received signal, shutting down")
		cancel()

		// Wait for the daemon to shutdown
	}()

	app := &cli.Command{
		Name:  "swapd",
		Usage: "A CLI for the swapd cross-chain swap daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db-host",
				Usage: "Database host",
				Value: "embedded",
			},
			&cli.StringFlag{
				Name:  "db-user",
				Usage: "Database username",
				Value: "myuser",
			},
			&cli.StringFlag{
				Name:  "db-password",
				Usage: "Database password",
				Value: "mypassword",
			},
			&cli.StringFlag{
				Name:  "db-name",
				Usage: "Database name",
				Value: "postgres",
			},
			&cli.IntFlag{
				Name:  "db-port",
				Usage: "Database port",
				Value: 5433,
			},
			&cli.StringFlag{
				Name:  "db-data-path",
				Usage: "Database path",
				Value: "./.data",
			},
			&apiPort,
			&apiURL,
		},
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start the swapd daemon",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "resolver",
						Usage:    "Resolver address allowed to bid, repeatable",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "chain",
						Usage: "Chain backend to run, repeatable",
						Value: []string{"ethereum", "algorand"},
					},
					&cli.StringSliceFlag{
						Name:  "rate",
						Usage: "Static exchange rate as BASE/QUOTE=VALUE, repeatable",
						Value: []string{"ETH/ALGO=20"},
					},
					&cli.DurationFlag{
						Name:  "auction-duration",
						Usage: "Length of one Dutch auction round",
						Value: 3 * time.Minute,
					},
					&cli.IntFlag{
						Name:  "max-auction-rounds",
						Usage: "Re-auction attempts for a partially filled order",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "min-timelock",
						Usage: "Lower bound on escrow timelock schedules and order deadlines",
						Value: time.Hour,
					},
					&cli.DurationFlag{
						Name:  "max-timelock",
						Usage: "Upper bound on escrow timelock schedules and order deadlines",
						Value: 48 * time.Hour,
					},
					&cli.IntFlag{
						Name:  "dust-fold-limit",
						Usage: "Remainders at or below this many base units fold into a fill",
						Value: 0,
					},
					&cli.DurationFlag{
						Name:  "order-retention",
						Usage: "Prune settled orders older than this, 0 disables pruning",
						Value: 0,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return startDaemon(ctx, c)
				},
			},
			{
				Name:  "database",
				Usage: "Database operations",
				Commands: []*cli.Command{
					{
						Name:  "migrate",
						Usage: "Migrate the database",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							db, closeDb, err := StartDatabase(cmd)
							if err != nil {
								return fmt.Errorf("❌ Could not connect to database: %w", err)
							}
							defer func() {
								if err := closeDb(); err != nil {
									log.Errorf("❌ Could not close database: %v", err)
								}
							}()

							return db.MigrateDatabase()
						},
					},
					{
						Name:  "reset",
						Usage: "Reset the database",
						Action: func(ctx context.Context, cmd *cli.Command) error {
							db, closeDb, err := StartDatabase(cmd)
							if err != nil {
								return fmt.Errorf("❌ Could not connect to database: %w", err)
							}
							defer func() {
								if err := closeDb(); err != nil {
									log.Errorf("❌ Could not close database: %v", err)
								}
							}()

							return db.ResetDatabase()
						},
					},
				},
			},
			orderCommands(),
			auctionCommands(),
			{
				Name:  "help",
				Usage: "Show help",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := cli.ShowAppHelp(cmd); err != nil {
						return err
					}

					return nil
				},
			},
		},
	}

	app_err := app.Run(ctx, os.Args)
	if app_err != nil {
		log.Fatal(app_err)
	}
}

var apiPort = cli.IntFlag{
	Name:  "api-port",
	Usage: "HTTP API port for client to daemon communication",
	Value: 8080,
}

var apiURL = cli.StringFlag{
	Name:  "api-url",
	Usage: "Base URL of a running daemon, used by client commands",
	Value: "http://localhost:8080",
}

func startDaemon(ctx context.Context, c *cli.Command) error {
	port, err := validatePort(c.Int("api-port"))
	if err != nil {
		return err
	}

	db, closeDb, err := StartDatabase(c)
	if err != nil {
		return fmt.Errorf("❌ Could not connect to database: %w", err)
	}
	defer func() {
		if err := closeDb(); err != nil {
			log.Errorf("❌ Could not close database: %v", err)
		}
	}()

	if c.String("db-host") == database.EmbeddedHost {
		if err := db.MigrateDatabase(); err != nil {
			return err
		}
	} else {
		log.Info("🔍 Skipping database migration")
	}

	config, err := daemonConfig(c)
	if err != nil {
		return err
	}

	clients := make(map[models.Chain]chain.Client)
	for _, name := range c.StringSlice("chain") {
		chainName := models.Chain(name)
		if !chainName.IsValid() {
			return fmt.Errorf("unsupported chain: %s", name)
		}
		clients[chainName] = chain.NewFake(chain.ID(chainName))
	}

	pairs, err := parseRates(c.StringSlice("rate"))
	if err != nil {
		return err
	}

	store := orders.NewStore(db, config.DustFoldLimit)
	loaded, err := store.LoadFromRepository(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover orders: %w", err)
	}
	if loaded > 0 {
		log.Infof("Recovered %d orders from the database", loaded)
	}

	coordinator, err := daemon.New(config, store, clients, rates.NewStatic(pairs), nil)
	if err != nil {
		return err
	}
	server := rpc.NewServer(coordinator)

	errs := make(chan error, 2)
	go func() {
		errs <- coordinator.Run(ctx)
	}()
	go func() {
		errs <- server.ListenAndServe(fmt.Sprintf("%d", port))
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Failed to shut down API server: %v", err)
		}

		return nil
	case err := <-errs:
		return err
	}
}

func daemonConfig(c *cli.Command) (*daemon.Config, error) {
	config := daemon.NewConfig()
	config.Resolvers = c.StringSlice("resolver")
	config.AuctionDuration = c.Duration("auction-duration")
	config.MaxAuctionRounds = int(c.Int("max-auction-rounds"))
	config.MinTimelock = c.Duration("min-timelock")
	config.MaxTimelock = c.Duration("max-timelock")
	config.OrderRetention = c.Duration("order-retention")

	dustFoldLimit, err := utils.SafeInt64ToMoney(c.Int("dust-fold-limit"))
	if err != nil {
		return nil, fmt.Errorf("invalid dust fold limit: %w", err)
	}
	config.DustFoldLimit = dustFoldLimit

	return config, nil
}

func parseRates(pairs []string) (map[string]decimal.Decimal, error) {
	parsed := make(map[string]decimal.Decimal, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid rate %q: expected BASE/QUOTE=VALUE", pair)
		}
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("invalid rate %q: %w", pair, err)
		}
		parsed[key] = rate
	}

	return parsed, nil
}

func StartDatabase(cmd *cli.Command) (*database.Database, func() error, error) {
	port, err := validatePort(cmd.Int("db-port"))
	if err != nil {
		return nil, nil, err
	}

	db, closeDb, err := database.NewDatabase(
		cmd.String("db-user"),
		cmd.String("db-password"),
		cmd.String("db-name"),
		port,
		cmd.String("db-data-path"),
		cmd.String("db-host"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("❌ Could not connect to database: %w", err)
	}

	return db, closeDb, nil
}
