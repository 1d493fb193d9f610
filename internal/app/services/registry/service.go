// Package registry manages the set of registered price sources: admission,
// suspension, reinstatement and reputation lookups. Privileged operations are
// gated by an injected auth capability; the service itself never inspects
// credentials.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stellar-swipe/oracle-layer/internal/app/auth"
	"github.com/stellar-swipe/oracle-layer/internal/app/clock"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/internal/app/events"
	"github.com/stellar-swipe/oracle-layer/internal/app/storage"
	"github.com/stellar-swipe/oracle-layer/pkg/logger"
)

// Service implements the source registry.
type Service struct {
	mu       *sync.Mutex
	sources  storage.SourceStore
	verifier auth.Verifier
	clk      clock.Clock
	bus      *events.Bus
	log      *logger.Logger
}

// New creates a registry service. The lock serialises source mutations with
// every other service sharing the same store, so checks like the quorum
// floor hold across service boundaries; nil creates a private lock. A nil
// verifier rejects every privileged call; nil clock, bus and logger fall
// back to working defaults.
func New(sources storage.SourceStore, lock *sync.Mutex, verifier auth.Verifier, clk clock.Clock, bus *events.Bus, log *logger.Logger) *Service {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	if verifier == nil {
		verifier = auth.VerifierFunc(func(string, string) bool { return false })
	}
	if clk == nil {
		clk = clock.System{}
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if log == nil {
		log = logger.NewDefault("registry")
	}
	return &Service{
		mu:       lock,
		sources:  sources,
		verifier: verifier,
		clk:      clk,
		bus:      bus,
		log:      log,
	}
}

// Register admits a new source with the conservative registration defaults:
// score 50, weight 1.
func (s *Service) Register(ctx context.Context, caller, sourceID string) (oracle.Source, error) {
	if !s.verifier.Verify(caller, auth.RoleAdmin) {
		return oracle.Source{}, oracle.ErrNotAuthorized
	}
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return oracle.Source{}, fmt.Errorf("source id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.sources.GetSource(ctx, sourceID); err == nil {
		return oracle.Source{}, oracle.ErrAlreadyRegistered
	}

	now := s.clk.Now()
	src := oracle.Source{
		ID:              sourceID,
		ReputationScore: oracle.RegistrationScore,
		Weight:          oracle.WeightForScore(oracle.RegistrationScore),
		RegisteredAt:    now,
		UpdatedAt:       now,
	}

	created, err := s.sources.CreateSource(ctx, src)
	if err != nil {
		return oracle.Source{}, fmt.Errorf("create source: %w", err)
	}

	s.log.WithField("source_id", created.ID).Info("source registered")
	s.bus.Emit(events.TypeSourceRegistered, created.ID, map[string]any{
		"reputation_score": created.ReputationScore,
		"weight":           created.Weight,
	})
	return created, nil
}

// Remove suspends a source. The record is retained with weight 0 and its
// reputation reset, preserving the audit trail. Removal is refused when it
// would drop the number of active sources below the quorum floor.
func (s *Service) Remove(ctx context.Context, caller, sourceID string) error {
	if !s.verifier.Verify(caller, auth.RoleAdmin) {
		return oracle.ErrNotAuthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return oracle.ErrSourceNotRegistered
	}

	if src.Active() {
		active, err := s.activeCount(ctx)
		if err != nil {
			return err
		}
		if active-1 < oracle.MinActiveSources {
			return oracle.ErrBelowMinimumQuorum
		}
	}

	src.ReputationScore = oracle.MinReputation
	src.Weight = oracle.WeightForScore(src.ReputationScore)
	if _, err := s.sources.UpdateSource(ctx, src); err != nil {
		return fmt.Errorf("update source: %w", err)
	}

	s.log.WithField("source_id", sourceID).Info("source removed")
	s.bus.Emit(events.TypeSourceRemoved, sourceID, nil)
	return nil
}

// Reinstate returns a suspended source to service with the registration
// defaults. Its submission history restarts from zero.
func (s *Service) Reinstate(ctx context.Context, caller, sourceID string) (oracle.Source, error) {
	if !s.verifier.Verify(caller, auth.RoleAdmin) {
		return oracle.Source{}, oracle.ErrNotAuthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return oracle.Source{}, oracle.ErrSourceNotRegistered
	}

	src.ReputationScore = oracle.RegistrationScore
	src.Weight = oracle.WeightForScore(src.ReputationScore)
	src.TotalSubmissions = 0
	src.AccurateSubmissions = 0
	src.AvgDeviationBps = 0
	src.LastSlashAt = nil

	updated, err := s.sources.UpdateSource(ctx, src)
	if err != nil {
		return oracle.Source{}, fmt.Errorf("update source: %w", err)
	}

	s.log.WithField("source_id", sourceID).Info("source reinstated")
	s.bus.Emit(events.TypeSourceReinstated, sourceID, map[string]any{
		"reputation_score": updated.ReputationScore,
		"weight":           updated.Weight,
	})
	return updated, nil
}

// List returns every registered source, active and suspended, in registration
// order.
func (s *Service) List(ctx context.Context) ([]oracle.Source, error) {
	return s.sources.ListSources(ctx)
}

// GetReputation returns the full reputation record for a source.
func (s *Service) GetReputation(ctx context.Context, sourceID string) (oracle.Source, error) {
	src, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return oracle.Source{}, oracle.ErrSourceNotRegistered
	}
	return src, nil
}

func (s *Service) activeCount(ctx context.Context) (int, error) {
	all, err := s.sources.ListSources(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sources: %w", err)
	}
	count := 0
	for _, src := range all {
		if src.Active() {
			count++
		}
	}
	return count, nil
}
