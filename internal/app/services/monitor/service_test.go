package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stellar-swipe/oracle-layer/internal/app/clock"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/internal/app/storage/memory"
)

func TestLatestObservesOnDemand(t *testing.T) {
	store := memory.New()
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for id, score := range map[string]int{"oracle-a": 90, "oracle-b": 50, "oracle-c": 10} {
		_, err := store.CreateSource(ctx, oracle.Source{
			ID:              id,
			ReputationScore: score,
			Weight:          oracle.WeightForScore(score),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	if err := store.SetLatestResult(ctx, oracle.Result{Price: 100, Timestamp: clk.Now()}); err != nil {
		t.Fatalf("SetLatestResult failed: %v", err)
	}
	clk.Advance(3 * time.Minute)

	m := New(store, store, clk, 0, nil)
	snap, err := m.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}

	if snap.TotalSources != 3 || snap.ActiveSources != 2 {
		t.Errorf("expected 3 total / 2 active, got %d/%d", snap.TotalSources, snap.ActiveSources)
	}
	if snap.AverageReputation != 50 {
		t.Errorf("expected average reputation 50, got %f", snap.AverageReputation)
	}
	if !snap.HasConsensus || snap.Staleness != oracle.StalenessAging {
		t.Errorf("expected aging consensus, got %+v", snap)
	}
}

func TestMonitorLifecycle(t *testing.T) {
	store := memory.New()
	m := New(store, store, nil, 10*time.Millisecond, nil)

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	snap, err := m.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if snap.ObservedAt.IsZero() {
		t.Error("expected a cached snapshot after the sampler ran")
	}
}
