// Package integration boots the full swap stack in one process: embedded
// postgres, fake chain backends, the coordinator and the HTTP API. The suite
// is skipped in short mode because starting postgres takes seconds.
package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fusionbridge/swapd/chain"
	"github.com/fusionbridge/swapd/daemon"
	"github.com/fusionbridge/swapd/database"
	"github.com/fusionbridge/swapd/database/models"
	"github.com/fusionbridge/swapd/orders"
	"github.com/fusionbridge/swapd/rates"
	"github.com/fusionbridge/swapd/rpc"
)

const embeddedPort = 5440

// Harness owns the embedded postgres shared by every daemon instance in the
// suite.
type Harness struct {
	DB      *database.Database
	closeDB func() error
}

func NewHarness(dataPath string) (*Harness, error) {
	db, closeDB, err := database.NewDatabase("swapd", "swapd", "postgres", embeddedPort, dataPath, database.EmbeddedHost)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateDatabase(); err != nil {
		if closeErr := closeDB(); closeErr != nil {
			return nil, fmt.Errorf("failed to migrate: %w (and failed to close database: %v)", err, closeErr)
		}

		return nil, err
	}

	return &Harness{DB: db, closeDB: closeDB}, nil
}

func (h *Harness) Close() error {
	return h.closeDB()
}

// DaemonInstance is one running daemon: coordinator, fake chains and the
// HTTP API, all backed by the harness database.
type DaemonInstance struct {
	Coordinator *daemon.Coordinator
	Store       *orders.Store
	Ethereum    *chain.Fake
	Algorand    *chain.Fake
	Client      *rpc.Client

	server *httptest.Server
	cancel context.CancelFunc
	done   chan error
}

// StartDaemon builds a daemon on the shared database, recovers persisted
// orders and serves the API on an ephemeral port. Stopping one instance and
// starting another models a daemon restart.
func (h *Harness) StartDaemon(mutate func(*daemon.Config)) (*DaemonInstance, error) {
	config := daemon.NewConfig()
	config.Resolvers = []string{"resolver-1"}
	config.ScanInterval = 20 * time.Millisecond
	config.SweepInterval = 20 * time.Millisecond
	if mutate != nil {
		mutate(config)
	}

	store := orders.NewStore(h.DB, config.DustFoldLimit)
	if _, err := store.LoadFromRepository(context.Background()); err != nil {
		return nil, err
	}

	eth := chain.NewFake("ethereum")
	algo := chain.NewFake("algorand")
	clients := map[models.Chain]chain.Client{
		models.ChainEthereum: eth,
		models.ChainAlgorand: algo,
	}
	oracle := rates.NewStatic(map[string]decimal.Decimal{
		"ETH/ALGO": decimal.NewFromInt(5),
	})

	coordinator, err := daemon.New(config, store, clients, oracle, nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- coordinator.Run(ctx)
	}()
	server := httptest.NewServer(rpc.NewServer(coordinator).Handler())

	instance := &DaemonInstance{
		Coordinator: coordinator,
		Store:       store,
		Ethereum:    eth,
		Algorand:    algo,
		Client:      rpc.NewClient(server.URL),
		server:      server,
		cancel:      cancel,
		done:        done,
	}
	if err := instance.waitReady(); err != nil {
		stopErr := instance.Stop()

		return nil, fmt.Errorf("daemon never became ready: %w (stop: %v)", err, stopErr)
	}

	return instance, nil
}

func (instance *DaemonInstance) waitReady() error {
	deadline := time.After(10 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return fmt.Errorf("timeout waiting for /health")
		case <-ticker.C:
			resp, err := http.Get(instance.server.URL + "/health")
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

func (instance *DaemonInstance) Stop() error {
	instance.server.Close()
	instance.cancel()

	return <-instance.done
}
