// Package consensus implements the submission ledger, the weighted-median
// consensus calculation and the reputation engine that feeds source weights.
// All state transitions run under a state lock shared with the registry
// service, so every operation observes and produces a consistent snapshot
// and cross-service sequences cannot interleave mid-transition.
package consensus

import (
	"context"
	"fmt"
	"sync"

	"github.com/stellar-swipe/oracle-layer/internal/app/clock"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/internal/app/events"
	"github.com/stellar-swipe/oracle-layer/internal/app/storage"
	"github.com/stellar-swipe/oracle-layer/pkg/logger"
)

// Service is the consensus core.
type Service struct {
	mu          *sync.Mutex
	sources     storage.SourceStore
	submissions storage.SubmissionStore
	consensus   storage.ConsensusStore
	attestor    Attestor
	clk         clock.Clock
	bus         *events.Bus
	log         *logger.Logger
}

// New creates the consensus service. The lock serialises source mutations
// with every other service sharing the same store; nil creates a private
// lock. A nil attestor accepts every submission; nil clock, bus and logger
// fall back to working defaults.
func New(sources storage.SourceStore, submissions storage.SubmissionStore, consensusStore storage.ConsensusStore, lock *sync.Mutex, attestor Attestor, clk clock.Clock, bus *events.Bus, log *logger.Logger) *Service {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	if attestor == nil {
		attestor = AcceptAll{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if log == nil {
		log = logger.NewDefault("consensus")
	}
	return &Service{
		mu:          lock,
		sources:     sources,
		submissions: submissions,
		consensus:   consensusStore,
		attestor:    attestor,
		clk:         clk,
		bus:         bus,
		log:         log,
	}
}

// Submit records a price observation for the current round. A later
// submission from the same source replaces the earlier one. An attestation
// failure slashes the source and rejects the submission.
func (s *Service) Submit(ctx context.Context, sourceID string, price int64, signature []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paused, err := s.consensus.Paused(ctx)
	if err != nil {
		return fmt.Errorf("read pause flag: %w", err)
	}
	if paused {
		return oracle.ErrSubmissionsPaused
	}

	src, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return oracle.ErrSourceNotRegistered
	}
	if !src.Active() {
		return oracle.ErrSourceSuspended
	}
	if price <= 0 {
		return oracle.ErrInvalidPrice
	}

	round, err := s.consensus.CurrentRound(ctx)
	if err != nil {
		return fmt.Errorf("read current round: %w", err)
	}

	if err := s.attestor.Verify(sourceID, price, round, signature); err != nil {
		if slashErr := s.penalizeVerificationFailure(ctx, src); slashErr != nil {
			s.log.WithError(slashErr).WithField("source_id", sourceID).Error("failed to apply verification penalty")
		}
		return fmt.Errorf("%w: %v", oracle.ErrVerificationFailed, err)
	}

	sub := oracle.Submission{
		SourceID:    sourceID,
		Price:       price,
		RoundID:     round,
		SubmittedAt: s.clk.Now(),
	}
	if err := s.submissions.UpsertSubmission(ctx, sub); err != nil {
		return fmt.Errorf("record submission: %w", err)
	}

	s.bus.Emit(events.TypeSubmissionRecorded, sourceID, map[string]any{
		"price":    price,
		"round_id": round,
	})
	return nil
}

// GetLatest returns the most recent consensus result. It fails with
// ErrInsufficientData when no round has ever completed.
func (s *Service) GetLatest(ctx context.Context) (oracle.Result, error) {
	res, ok, err := s.consensus.LatestResult(ctx)
	if err != nil {
		return oracle.Result{}, fmt.Errorf("read latest result: %w", err)
	}
	if !ok {
		return oracle.Result{}, oracle.ErrInsufficientData
	}
	return res, nil
}

// Staleness classifies the age of the latest result against the freshness
// bands. It fails when no result exists yet.
func (s *Service) Staleness(ctx context.Context) (oracle.StalenessLevel, error) {
	res, err := s.GetLatest(ctx)
	if err != nil {
		return "", err
	}
	return oracle.StalenessFor(s.clk.Now().Sub(res.Timestamp)), nil
}

// CurrentRound returns the identifier of the round currently accepting
// submissions.
func (s *Service) CurrentRound(ctx context.Context) (uint64, error) {
	return s.consensus.CurrentRound(ctx)
}

// Params returns the live consensus parameters.
func (s *Service) Params(ctx context.Context) (oracle.Params, error) {
	return s.consensus.Params(ctx)
}

// SetParams replaces the live consensus parameters. Called by governance on
// an executed update_param proposal.
func (s *Service) SetParams(ctx context.Context, params oracle.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consensus.SetParams(ctx, params)
}

// Paused reports whether submissions are currently refused.
func (s *Service) Paused(ctx context.Context) (bool, error) {
	return s.consensus.Paused(ctx)
}

// SetPaused toggles the submission pause flag. Called by governance on an
// executed emergency_pause proposal and on resume.
func (s *Service) SetPaused(ctx context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consensus.SetPaused(ctx, paused); err != nil {
		return fmt.Errorf("set pause flag: %w", err)
	}
	s.bus.Emit(events.TypeSubmissionsPaused, "", map[string]any{"paused": paused})
	s.log.WithField("paused", paused).Warn("submission pause flag changed")
	return nil
}

// penalizeVerificationFailure applies the flat verification penalty to a
// source, remaps its weight and lets the quorum guard override a suspension
// that would leave too few active sources. Caller holds the state lock.
func (s *Service) penalizeVerificationFailure(ctx context.Context, src oracle.Source) error {
	now := s.clk.Now()
	wasActive := src.Active()
	oldWeight := src.Weight

	src.ReputationScore -= oracle.VerificationPenalty
	if src.ReputationScore < oracle.MinReputation {
		src.ReputationScore = oracle.MinReputation
	}
	src.LastSlashAt = &now
	src.Weight = oracle.WeightForScore(src.ReputationScore)

	override := false
	if wasActive && !src.Active() {
		all, err := s.sources.ListSources(ctx)
		if err != nil {
			return fmt.Errorf("list sources: %w", err)
		}
		active := 0
		for _, other := range all {
			if other.ID != src.ID && other.Active() {
				active++
			}
		}
		if active < oracle.MinActiveSources {
			src.Weight = 1
			override = true
		}
	}

	if _, err := s.sources.UpdateSource(ctx, src); err != nil {
		return fmt.Errorf("update source: %w", err)
	}

	s.bus.Emit(events.TypeSourceSlashed, src.ID, map[string]any{
		"reason":           string(oracle.SlashVerificationFailure),
		"magnitude":        oracle.VerificationPenalty,
		"reputation_score": src.ReputationScore,
	})
	if src.Weight != oldWeight {
		s.bus.Emit(events.TypeWeightAdjusted, src.ID, map[string]any{
			"old_weight":       oldWeight,
			"new_weight":       src.Weight,
			"reputation_score": src.ReputationScore,
			"quorum_override":  override,
		})
	}
	if !src.Active() {
		s.bus.Emit(events.TypeSourceSuspended, src.ID, nil)
	}
	s.log.WithField("source_id", src.ID).Warn("source slashed for verification failure")
	return nil
}
