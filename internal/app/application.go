// Package app assembles the reward workflows over a storage backend and
// manages their lifecycle.
package app

import (
	"context"
	"fmt"

	"github.com/greencycle-id/rewards-core/internal/app/domain/exchange"
	"github.com/greencycle-id/rewards-core/internal/app/metrics"
	"github.com/greencycle-id/rewards-core/internal/app/saga"
	depositsvc "github.com/greencycle-id/rewards-core/internal/app/services/deposit"
	exchangesvc "github.com/greencycle-id/rewards-core/internal/app/services/exchange"
	ledgersvc "github.com/greencycle-id/rewards-core/internal/app/services/ledger"
	missionsvc "github.com/greencycle-id/rewards-core/internal/app/services/missions"
	"github.com/greencycle-id/rewards-core/internal/app/storage"
	"github.com/greencycle-id/rewards-core/internal/app/storage/memory"
	"github.com/greencycle-id/rewards-core/internal/app/system"
	"github.com/greencycle-id/rewards-core/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Ledger      storage.LedgerStore
	Collections storage.CollectionStore
	Missions    storage.MissionStore
	Exchange    storage.ExchangeStore
}

// Options tunes the application beyond its stores.
type Options struct {
	// Catalog is the exchange method catalog. Nil means no methods are
	// offered and every exchange is rejected as unknown.
	Catalog exchange.Catalog
	// JournalSize caps the reconciliation journal; zero keeps the default.
	JournalSize int
	// JournalSink receives reconciliation entries for durable persistence.
	JournalSink ledgersvc.Sink
}

// Application ties the reward services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Ledger   *ledgersvc.Service
	Deposits *depositsvc.Service
	Missions *missionsvc.Service
	Exchange *exchangesvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Collections == nil {
		stores.Collections = mem
	}
	if stores.Missions == nil {
		stores.Missions = mem
	}
	if stores.Exchange == nil {
		stores.Exchange = mem
	}

	catalog := opts.Catalog
	if catalog == nil {
		catalog = exchange.StaticCatalog(nil)
	}

	engine := saga.NewEngine(log, metrics.SagaMetrics{})
	journal := ledgersvc.NewJournal(opts.JournalSize, opts.JournalSink)

	ledgerService := ledgersvc.New(stores.Ledger, journal, log)
	depositService := depositsvc.New(stores.Collections, ledgerService, engine, log)
	missionService := missionsvc.New(stores.Missions, ledgerService, engine, log)
	exchangeService := exchangesvc.New(stores.Exchange, catalog, ledgerService, engine, log)

	manager := system.NewManager()
	for _, name := range []string{"ledger", "deposits", "missions", "exchange"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	return &Application{
		manager:  manager,
		log:      log,
		Ledger:   ledgerService,
		Deposits: depositService,
		Missions: missionService,
		Exchange: exchangeService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
