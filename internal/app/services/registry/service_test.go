package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stellar-swipe/oracle-layer/internal/app/auth"
	"github.com/stellar-swipe/oracle-layer/internal/app/clock"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/internal/app/events"
	"github.com/stellar-swipe/oracle-layer/internal/app/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store, *events.Bus) {
	t.Helper()

	store := memory.New()
	verifier := auth.NewStaticVerifier()
	verifier.Grant("admin", auth.RoleAdmin)
	bus := events.NewBus()
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := New(store, nil, verifier, clk, bus, nil)
	return svc, store, bus
}

func TestRegisterDefaults(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	src, err := svc.Register(ctx, "admin", "oracle-a")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if src.ReputationScore != 50 {
		t.Errorf("expected registration score 50, got %d", src.ReputationScore)
	}
	if src.Weight != 1 {
		t.Errorf("expected registration weight 1, got %d", src.Weight)
	}
	if src.TotalSubmissions != 0 || src.AccurateSubmissions != 0 {
		t.Errorf("expected zeroed counters, got %d/%d", src.TotalSubmissions, src.AccurateSubmissions)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "admin", "oracle-a"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := svc.Register(ctx, "admin", "oracle-a"); !errors.Is(err, oracle.ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegisterUnauthorized(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Register(context.Background(), "nobody", "oracle-a"); !errors.Is(err, oracle.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestRemoveRespectsQuorumFloor(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"oracle-a", "oracle-b"} {
		if _, err := svc.Register(ctx, "admin", id); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}

	if err := svc.Remove(ctx, "admin", "oracle-a"); !errors.Is(err, oracle.ErrBelowMinimumQuorum) {
		t.Fatalf("expected ErrBelowMinimumQuorum, got %v", err)
	}

	// A third active source makes removal legal again.
	if _, err := svc.Register(ctx, "admin", "oracle-c"); err != nil {
		t.Fatalf("Register oracle-c failed: %v", err)
	}
	if err := svc.Remove(ctx, "admin", "oracle-a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	// Removal suspends, it does not delete.
	src, err := svc.GetReputation(ctx, "oracle-a")
	if err != nil {
		t.Fatalf("GetReputation failed: %v", err)
	}
	if src.Active() {
		t.Errorf("removed source should be suspended, got weight %d", src.Weight)
	}
}

func TestRemoveUnknownSource(t *testing.T) {
	svc, _, _ := newTestService(t)

	if err := svc.Remove(context.Background(), "admin", "ghost"); !errors.Is(err, oracle.ErrSourceNotRegistered) {
		t.Fatalf("expected ErrSourceNotRegistered, got %v", err)
	}
}

func TestReinstateResetsToDefaults(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "admin", "oracle-a"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Drive the source into suspension directly.
	src, _ := store.GetSource(ctx, "oracle-a")
	src.ReputationScore = 10
	src.Weight = oracle.WeightForScore(src.ReputationScore)
	src.TotalSubmissions = 42
	if _, err := store.UpdateSource(ctx, src); err != nil {
		t.Fatalf("UpdateSource failed: %v", err)
	}

	restored, err := svc.Reinstate(ctx, "admin", "oracle-a")
	if err != nil {
		t.Fatalf("Reinstate failed: %v", err)
	}
	if restored.ReputationScore != 50 || restored.Weight != 1 {
		t.Errorf("expected defaults 50/1, got %d/%d", restored.ReputationScore, restored.Weight)
	}
	if restored.TotalSubmissions != 0 {
		t.Errorf("expected submission history reset, got %d", restored.TotalSubmissions)
	}
}

// Remove shares a state lock with the consensus service, so its quorum-floor
// check cannot observe source state mid-way through a consensus round.
func TestRemoveWaitsForSharedLock(t *testing.T) {
	lock := &sync.Mutex{}
	store := memory.New()
	verifier := auth.NewStaticVerifier()
	verifier.Grant("admin", auth.RoleAdmin)
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := New(store, lock, verifier, clk, events.NewBus(), nil)
	ctx := context.Background()

	for _, id := range []string{"oracle-a", "oracle-b", "oracle-c"} {
		if _, err := svc.Register(ctx, "admin", id); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}

	lock.Lock()
	done := make(chan error, 1)
	go func() { done <- svc.Remove(ctx, "admin", "oracle-a") }()

	select {
	case <-done:
		t.Fatal("Remove ran while another service held the state lock")
	case <-time.After(50 * time.Millisecond):
	}

	lock.Unlock()
	if err := <-done; err != nil {
		t.Fatalf("Remove failed after the lock was released: %v", err)
	}
}

func TestRegistryEvents(t *testing.T) {
	svc, _, bus := newTestService(t)
	ctx := context.Background()

	var seen []events.Type
	bus.Subscribe(func(evt events.Event) { seen = append(seen, evt.Type) })

	if _, err := svc.Register(ctx, "admin", "oracle-a"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if len(seen) != 1 || seen[0] != events.TypeSourceRegistered {
		t.Fatalf("expected a single source.registered event, got %v", seen)
	}
}
