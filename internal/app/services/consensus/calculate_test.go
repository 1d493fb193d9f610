package consensus

import (
	"context"
	"errors"
	"testing"

	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
)

func TestWeightedMedianFavorsHeavySource(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()

	// Weights 10, 5, 2 via the score bands.
	seedSource(t, store, "oracle-a", 90)
	seedSource(t, store, "oracle-b", 75)
	seedSource(t, store, "oracle-c", 60)

	mustSubmit(t, svc, "oracle-a", 100)
	mustSubmit(t, svc, "oracle-b", 101)
	mustSubmit(t, svc, "oracle-c", 99)

	res, err := svc.Calculate(ctx)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if res.Price != 100 {
		t.Errorf("expected weighted median 100, got %d", res.Price)
	}
	if res.TotalWeight != 17 {
		t.Errorf("expected total weight 17, got %d", res.TotalWeight)
	}
}

func TestWeightedMedianEvenSplitTakesLower(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()

	seedSource(t, store, "oracle-a", 50)
	seedSource(t, store, "oracle-b", 50)

	mustSubmit(t, svc, "oracle-a", 100)
	mustSubmit(t, svc, "oracle-b", 102)

	res, err := svc.Calculate(ctx)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if res.Price != 100 {
		t.Errorf("expected even split to resolve to the lower price, got %d", res.Price)
	}
}

func TestCalculateEndToEnd(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()

	for _, id := range []string{"oracle-a", "oracle-b", "oracle-c"} {
		seedSource(t, store, id, 50)
	}

	mustSubmit(t, svc, "oracle-a", 100)
	mustSubmit(t, svc, "oracle-b", 101)
	mustSubmit(t, svc, "oracle-c", 99)

	res, err := svc.Calculate(ctx)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}
	if res.Price != 100 {
		t.Errorf("expected consensus 100, got %d", res.Price)
	}
	if res.NumSources != 3 {
		t.Errorf("expected 3 sources, got %d", res.NumSources)
	}

	// 100 is exact, 101 lands at ~99 bps (accurate), 99 at ~101 bps
	// (moderate).
	checks := []struct {
		id       string
		accurate int64
	}{
		{"oracle-a", 1},
		{"oracle-b", 1},
		{"oracle-c", 0},
	}
	for _, c := range checks {
		src, err := store.GetSource(ctx, c.id)
		if err != nil {
			t.Fatalf("GetSource %s: %v", c.id, err)
		}
		if src.TotalSubmissions != 1 {
			t.Errorf("%s: expected total_submissions 1, got %d", c.id, src.TotalSubmissions)
		}
		if src.AccurateSubmissions != c.accurate {
			t.Errorf("%s: expected accurate_submissions %d, got %d", c.id, c.accurate, src.AccurateSubmissions)
		}
	}

	// The round closed: the next submission lands in round 2.
	round, _ := store.CurrentRound(ctx)
	if round != 2 {
		t.Errorf("expected round 2 after calculation, got %d", round)
	}
	subs, _ := store.ListSubmissions(ctx, res.RoundID)
	if len(subs) != 0 {
		t.Errorf("expected the closed round to be cleared, got %d submissions", len(subs))
	}

	latest, err := svc.GetLatest(ctx)
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest.Price != 100 {
		t.Errorf("expected latest price 100, got %d", latest.Price)
	}
}

func TestCalculateInsufficientData(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()

	seedSource(t, store, "oracle-a", 50)
	seedSource(t, store, "oracle-b", 50)
	mustSubmit(t, svc, "oracle-a", 100)

	if _, err := svc.Calculate(ctx); !errors.Is(err, oracle.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}

	// The failed attempt must leave everything untouched.
	round, _ := store.CurrentRound(ctx)
	if round != 1 {
		t.Errorf("expected round to stay at 1, got %d", round)
	}
	subs, _ := store.ListSubmissions(ctx, round)
	if len(subs) != 1 {
		t.Errorf("expected the pending submission to survive, got %d", len(subs))
	}
	if _, err := svc.GetLatest(ctx); !errors.Is(err, oracle.ErrInsufficientData) {
		t.Errorf("expected no latest result, got %v", err)
	}

	// The late submitter completes the round.
	mustSubmit(t, svc, "oracle-b", 101)
	if _, err := svc.Calculate(ctx); err != nil {
		t.Fatalf("Calculate after second submission failed: %v", err)
	}
}

func TestMajorDeviationSlash(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()

	seedSource(t, store, "oracle-a", 90)
	seedSource(t, store, "oracle-b", 50)
	seedSource(t, store, "oracle-c", 90)

	mustSubmit(t, svc, "oracle-a", 100)
	mustSubmit(t, svc, "oracle-b", 200) // 5000 bps off consensus
	mustSubmit(t, svc, "oracle-c", 100)

	if _, err := svc.Calculate(ctx); err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	src, _ := store.GetSource(ctx, "oracle-b")
	// Blend: accuracy 0, deviation term 50, consistency 100 → 25; the
	// slash takes exactly 20 more.
	if src.ReputationScore != 5 {
		t.Errorf("expected score 5 after slash, got %d", src.ReputationScore)
	}
	if src.Active() {
		t.Errorf("expected suspension, got weight %d", src.Weight)
	}
	if src.LastSlashAt == nil {
		t.Error("expected last_slash_at to be set")
	}
}

func TestSlashFloorsAtZero(t *testing.T) {
	svc, store, clk := newTestService(t, nil)
	ctx := context.Background()

	seedSource(t, store, "oracle-a", 90)
	seedSource(t, store, "oracle-c", 90)

	// A source with a bad record and a fresh slash: the blend lands below
	// the penalty, so the slash floors at zero.
	now := clk.Now()
	_, err := store.CreateSource(ctx, oracle.Source{
		ID:                  "oracle-b",
		ReputationScore:     50,
		Weight:              1,
		TotalSubmissions:    9,
		AccurateSubmissions: 0,
		AvgDeviationBps:     9000,
		LastSlashAt:         &now,
	})
	if err != nil {
		t.Fatalf("seed oracle-b: %v", err)
	}

	mustSubmit(t, svc, "oracle-a", 100)
	mustSubmit(t, svc, "oracle-b", 200)
	mustSubmit(t, svc, "oracle-c", 100)

	if _, err := svc.Calculate(ctx); err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	src, _ := store.GetSource(ctx, "oracle-b")
	if src.ReputationScore != 0 {
		t.Errorf("expected score floored at 0, got %d", src.ReputationScore)
	}
}

func TestQuorumGuardRetainsBestSuspended(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()

	seedSource(t, store, "oracle-a", 90)
	seedSource(t, store, "oracle-b", 50)
	seedSource(t, store, "oracle-c", 50)

	mustSubmit(t, svc, "oracle-a", 100)
	mustSubmit(t, svc, "oracle-b", 250) // wildly high
	mustSubmit(t, svc, "oracle-c", 30)  // wildly low

	if _, err := svc.Calculate(ctx); err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	// Both deviants earn suspension, but that would leave one active
	// source. The higher-scoring one is retained at weight 1.
	b, _ := store.GetSource(ctx, "oracle-b")
	c, _ := store.GetSource(ctx, "oracle-c")
	if b.Weight != 1 {
		t.Errorf("expected oracle-b retained at weight 1, got %d", b.Weight)
	}
	if c.Weight != 0 {
		t.Errorf("expected oracle-c suspended, got weight %d", c.Weight)
	}

	active := 0
	all, _ := store.ListSources(ctx)
	for _, src := range all {
		if src.Active() {
			active++
		}
	}
	if active != 2 {
		t.Errorf("expected exactly 2 active sources, got %d", active)
	}
}

func mustSubmit(t *testing.T, svc *Service, id string, price int64) {
	t.Helper()
	if err := svc.Submit(context.Background(), id, price, nil); err != nil {
		t.Fatalf("Submit %s=%d failed: %v", id, price, err)
	}
}
