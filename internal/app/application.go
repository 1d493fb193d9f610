// Package app wires the oracle-layer services together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stellar-swipe/oracle-layer/internal/app/auth"
	"github.com/stellar-swipe/oracle-layer/internal/app/clock"
	"github.com/stellar-swipe/oracle-layer/internal/app/events"
	consensussvc "github.com/stellar-swipe/oracle-layer/internal/app/services/consensus"
	governancesvc "github.com/stellar-swipe/oracle-layer/internal/app/services/governance"
	"github.com/stellar-swipe/oracle-layer/internal/app/services/monitor"
	registrysvc "github.com/stellar-swipe/oracle-layer/internal/app/services/registry"
	signalssvc "github.com/stellar-swipe/oracle-layer/internal/app/services/signals"
	"github.com/stellar-swipe/oracle-layer/internal/app/storage"
	"github.com/stellar-swipe/oracle-layer/internal/app/storage/memory"
	"github.com/stellar-swipe/oracle-layer/internal/app/system"
	"github.com/stellar-swipe/oracle-layer/pkg/logger"
)

// GovernanceCaller is the internal identity executed proposals act under. It
// always carries the admin role with the application's verifier.
const GovernanceCaller = "governance-executor"

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Sources     storage.SourceStore
	Submissions storage.SubmissionStore
	Consensus   storage.ConsensusStore
	Governance  storage.GovernanceStore
}

// Options tunes optional application behaviour.
type Options struct {
	// Verifier authorises privileged registry calls. Nil rejects all
	// external callers; the governance executor is always authorised.
	Verifier auth.Verifier
	// Attestor verifies submission signatures. Nil accepts everything.
	Attestor consensussvc.Attestor
	// Clock overrides wall-clock time, mainly for tests.
	Clock clock.Clock
	// Schedule is the cron spec for automatic round closing. Empty
	// disables the scheduler; rounds then close via the API only.
	Schedule string
	// MonitorInterval is the health sampling cadence; zero means 15s.
	MonitorInterval time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Bus        *events.Bus
	Registry   *registrysvc.Service
	Consensus  *consensussvc.Service
	Governance *governancesvc.Service
	Signals    *signalssvc.Service
	Monitor    *monitor.Monitor
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Sources == nil {
		stores.Sources = mem
	}
	if stores.Submissions == nil {
		stores.Submissions = mem
	}
	if stores.Consensus == nil {
		stores.Consensus = mem
	}
	if stores.Governance == nil {
		stores.Governance = mem
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}

	// The governance executor bypasses the external verifier so executed
	// proposals cannot be blocked by credential configuration.
	external := opts.Verifier
	verifier := auth.VerifierFunc(func(caller, role string) bool {
		if caller == GovernanceCaller && role == auth.RoleAdmin {
			return true
		}
		if external == nil {
			return false
		}
		return external.Verify(caller, role)
	})

	bus := events.NewBus()
	instrumentBus(bus)
	manager := system.NewManager()

	// Registry and consensus mutate the same source set; one lock keeps
	// the quorum-floor check and the per-round reputation writes from
	// interleaving.
	stateLock := &sync.Mutex{}

	registryService := registrysvc.New(stores.Sources, stateLock, verifier, clk, bus, log.Named("registry"))
	consensusService := consensussvc.New(stores.Sources, stores.Submissions, stores.Consensus,
		stateLock, opts.Attestor, clk, bus, log.Named("consensus"))
	governanceService := governancesvc.New(stores.Governance, registryService, consensusService,
		GovernanceCaller, clk, bus, log.Named("governance"))
	signalsService := signalssvc.New(stores.Consensus, clk, log.Named("signals"))
	healthMonitor := monitor.New(stores.Sources, stores.Consensus, clk, opts.MonitorInterval,
		log.Named("monitor"))

	for _, name := range []string{"registry", "consensus", "governance"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	if err := manager.Register(healthMonitor); err != nil {
		return nil, fmt.Errorf("register monitor: %w", err)
	}
	if opts.Schedule != "" {
		scheduler := consensussvc.NewScheduler(consensusService, opts.Schedule, log.Named("scheduler"))
		if err := manager.Register(scheduler); err != nil {
			return nil, fmt.Errorf("register scheduler: %w", err)
		}
	}

	return &Application{
		manager:    manager,
		log:        log,
		Bus:        bus,
		Registry:   registryService,
		Consensus:  consensusService,
		Governance: governanceService,
		Signals:    signalsService,
		Monitor:    healthMonitor,
	}, nil
}

// Attach registers an additional lifecycle-managed service.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start launches all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop shuts down all registered services in reverse order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
