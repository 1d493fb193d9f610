// Package monitor periodically samples the health of the oracle layer and
// publishes it to the metrics registry and over a snapshot API.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/stellar-swipe/oracle-layer/internal/app/clock"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/internal/app/metrics"
	"github.com/stellar-swipe/oracle-layer/internal/app/storage"
	"github.com/stellar-swipe/oracle-layer/internal/app/system"
	"github.com/stellar-swipe/oracle-layer/pkg/logger"
)

var _ system.Service = (*Monitor)(nil)

// Snapshot is one observation of system health.
type Snapshot struct {
	ActiveSources     int                   `json:"active_sources"`
	TotalSources      int                   `json:"total_sources"`
	AverageReputation float64               `json:"average_reputation"`
	Paused            bool                  `json:"paused"`
	HasConsensus      bool                  `json:"has_consensus"`
	ConsensusAge      time.Duration         `json:"consensus_age_ns"`
	Staleness         oracle.StalenessLevel `json:"staleness,omitempty"`
	ObservedAt        time.Time             `json:"observed_at"`
}

// Monitor samples registry and consensus state on an interval.
type Monitor struct {
	sources   storage.SourceStore
	consensus storage.ConsensusStore
	clk       clock.Clock
	log       *logger.Logger
	interval  time.Duration

	mu      sync.Mutex
	latest  *Snapshot
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a monitor sampling at the given interval; zero means 15s.
func New(sources storage.SourceStore, consensus storage.ConsensusStore, clk clock.Clock, interval time.Duration, log *logger.Logger) *Monitor {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.NewDefault("monitor")
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		sources:   sources,
		consensus: consensus,
		clk:       clk,
		log:       log,
		interval:  interval,
	}
}

func (m *Monitor) Name() string { return "health-monitor" }

func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.tick(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.tick(runCtx)
			}
		}
	}()

	m.log.Info("health monitor started")
	return nil
}

func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.log.Info("health monitor stopped")
	return nil
}

// Latest returns the most recent snapshot, observing on demand when the
// background sampler has not run yet.
func (m *Monitor) Latest(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	cached := m.latest
	m.mu.Unlock()

	if cached != nil {
		return *cached, nil
	}
	return m.observe(ctx)
}

func (m *Monitor) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	snap, err := m.observe(ctx)
	if err != nil {
		m.log.WithError(err).Warn("health sample failed")
		return
	}

	m.mu.Lock()
	m.latest = &snap
	m.mu.Unlock()

	metrics.SetRegistryHealth(snap.ActiveSources, snap.AverageReputation)
	if snap.HasConsensus {
		metrics.SetConsensusAge(snap.ConsensusAge)
	}
}

func (m *Monitor) observe(ctx context.Context) (Snapshot, error) {
	all, err := m.sources.ListSources(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		TotalSources: len(all),
		ObservedAt:   m.clk.Now(),
	}
	scoreSum := 0
	for _, src := range all {
		if src.Active() {
			snap.ActiveSources++
		}
		scoreSum += src.ReputationScore
	}
	if len(all) > 0 {
		snap.AverageReputation = float64(scoreSum) / float64(len(all))
	}

	paused, err := m.consensus.Paused(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Paused = paused

	res, ok, err := m.consensus.LatestResult(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if ok {
		snap.HasConsensus = true
		snap.ConsensusAge = snap.ObservedAt.Sub(res.Timestamp)
		snap.Staleness = oracle.StalenessFor(snap.ConsensusAge)
	}
	return snap, nil
}
