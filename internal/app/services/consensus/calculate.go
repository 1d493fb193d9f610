package consensus

import (
	"context"
	"fmt"
	"sort"

	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/internal/app/events"
)

// entry pairs a submission with a snapshot of its source taken at
// calculation time.
type entry struct {
	sub oracle.Submission
	src oracle.Source
}

// Calculate closes the current round: it computes the weighted-median
// consensus over the round's submissions, updates every submitter's
// reputation and weight, publishes the result and opens the next round.
// With fewer than the minimum number of active submitters it fails with
// ErrInsufficientData and leaves all state untouched.
func (s *Service) Calculate(ctx context.Context) (oracle.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	params, err := s.consensus.Params(ctx)
	if err != nil {
		return oracle.Result{}, fmt.Errorf("read params: %w", err)
	}
	round, err := s.consensus.CurrentRound(ctx)
	if err != nil {
		return oracle.Result{}, fmt.Errorf("read current round: %w", err)
	}
	subs, err := s.submissions.ListSubmissions(ctx, round)
	if err != nil {
		return oracle.Result{}, fmt.Errorf("list submissions: %w", err)
	}
	all, err := s.sources.ListSources(ctx)
	if err != nil {
		return oracle.Result{}, fmt.Errorf("list sources: %w", err)
	}

	byID := make(map[string]oracle.Source, len(all))
	for _, src := range all {
		byID[src.ID] = src
	}

	// Submissions from sources suspended since they submitted carry no
	// weight and are dropped from the round.
	entries := make([]entry, 0, len(subs))
	for _, sub := range subs {
		src, ok := byID[sub.SourceID]
		if !ok || !src.Active() {
			continue
		}
		entries = append(entries, entry{sub: sub, src: src})
	}

	if len(entries) < params.MinSources {
		return oracle.Result{}, oracle.ErrInsufficientData
	}

	price, totalWeight := weightedMedian(entries)
	now := s.clk.Now()
	result := oracle.Result{
		Price:       price,
		Timestamp:   now,
		NumSources:  len(entries),
		TotalWeight: totalWeight,
		RoundID:     round,
	}

	updated, slashes := s.applyReputation(entries, result, params, now)
	guarded := enforceQuorum(all, updated)

	if err := s.consensus.SetLatestResult(ctx, result); err != nil {
		return oracle.Result{}, fmt.Errorf("store result: %w", err)
	}
	for _, src := range updated {
		if _, err := s.sources.UpdateSource(ctx, src); err != nil {
			return oracle.Result{}, fmt.Errorf("update source %s: %w", src.ID, err)
		}
	}
	if err := s.submissions.ClearSubmissions(ctx, round); err != nil {
		return oracle.Result{}, fmt.Errorf("clear round: %w", err)
	}
	if err := s.consensus.SetCurrentRound(ctx, round+1); err != nil {
		return oracle.Result{}, fmt.Errorf("advance round: %w", err)
	}

	s.publishRoundEvents(result, entries, updated, slashes, guarded)

	s.log.WithField("round_id", round).
		WithField("price", price).
		WithField("num_sources", len(entries)).
		Info("consensus reached")
	return result, nil
}

// weightedMedian returns the weighted median over the entries and the total
// weight. The median is the lowest price whose cumulative weight reaches
// half the total, so price ties resolve toward the lower price.
func weightedMedian(entries []entry) (int64, int) {
	sorted := make([]entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].sub.Price == sorted[j].sub.Price {
			return sorted[i].sub.SourceID < sorted[j].sub.SourceID
		}
		return sorted[i].sub.Price < sorted[j].sub.Price
	})

	total := 0
	for _, e := range sorted {
		total += e.src.Weight
	}

	cumulative := 0
	for _, e := range sorted {
		cumulative += e.src.Weight
		if cumulative*2 >= total {
			return e.sub.Price, total
		}
	}
	// Unreachable with positive weights; guard against an empty slice.
	return 0, total
}

func (s *Service) publishRoundEvents(result oracle.Result, entries []entry, updated []oracle.Source, slashes []oracle.SlashEvent, guarded map[string]bool) {
	s.bus.Emit(events.TypeConsensusReached, "", map[string]any{
		"price":        result.Price,
		"round_id":     result.RoundID,
		"num_sources":  result.NumSources,
		"total_weight": result.TotalWeight,
	})

	before := make(map[string]oracle.Source, len(entries))
	for _, e := range entries {
		before[e.src.ID] = e.src
	}

	for _, slash := range slashes {
		s.bus.Emit(events.TypeSourceSlashed, slash.SourceID, map[string]any{
			"reason":    string(slash.Reason),
			"magnitude": slash.Magnitude,
		})
	}
	for _, src := range updated {
		prev := before[src.ID]
		if src.Weight != prev.Weight {
			s.bus.Emit(events.TypeWeightAdjusted, src.ID, map[string]any{
				"old_weight":       prev.Weight,
				"new_weight":       src.Weight,
				"reputation_score": src.ReputationScore,
				"quorum_override":  guarded[src.ID],
			})
		}
		if prev.Active() && !src.Active() {
			s.bus.Emit(events.TypeSourceSuspended, src.ID, nil)
		}
	}
}
