package governance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stellar-swipe/oracle-layer/internal/app/auth"
	"github.com/stellar-swipe/oracle-layer/internal/app/clock"
	domain "github.com/stellar-swipe/oracle-layer/internal/app/domain/governance"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/internal/app/events"
	"github.com/stellar-swipe/oracle-layer/internal/app/services/consensus"
	"github.com/stellar-swipe/oracle-layer/internal/app/services/registry"
	"github.com/stellar-swipe/oracle-layer/internal/app/storage/memory"
)

const stakeUnit = int64(10_000_000)

type fixture struct {
	svc       *Service
	registry  *registry.Service
	consensus *consensus.Service
	store     *memory.Store
	clk       *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := events.NewBus()

	verifier := auth.NewStaticVerifier()
	verifier.Grant("governance", auth.RoleAdmin)

	lock := &sync.Mutex{}
	reg := registry.New(store, lock, verifier, clk, bus, nil)
	cons := consensus.New(store, store, store, lock, nil, clk, bus, nil)
	svc := New(store, reg, cons, "governance", clk, bus, nil)

	return &fixture{svc: svc, registry: reg, consensus: cons, store: store, clk: clk}
}

func (f *fixture) deposit(t *testing.T, staker string, amount int64) {
	t.Helper()
	if _, err := f.svc.Deposit(context.Background(), staker, amount); err != nil {
		t.Fatalf("Deposit %s failed: %v", staker, err)
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Deposit(ctx, "alice", 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero deposit: expected ErrInvalidAmount, got %v", err)
	}

	f.deposit(t, "alice", 500*stakeUnit)
	balance, err := f.svc.Withdraw(ctx, "alice", 200*stakeUnit)
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if balance != 300*stakeUnit {
		t.Errorf("expected balance 300 units, got %d", balance)
	}

	if _, err := f.svc.Withdraw(ctx, "alice", 1_000*stakeUnit); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("overdraw: expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreateProposalRequiresDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deposit(t, "alice", 500*stakeUnit) // below the 1000-unit deposit
	_, err := f.svc.CreateProposal(ctx, "alice", domain.ProposalAddSource, "add", []byte(`{"source_id":"oracle-x"}`))
	if !errors.Is(err, domain.ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
}

func TestCreateProposalLocksDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deposit(t, "alice", 3_000*stakeUnit)
	_, err := f.svc.CreateProposal(ctx, "alice", domain.ProposalAddSource, "add", []byte(`{"source_id":"oracle-x"}`))
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}

	stake, _ := f.svc.StakeOf(ctx, "alice")
	if stake != 2_000*stakeUnit {
		t.Errorf("expected deposit locked, stake 2000 units, got %d", stake)
	}
}

func TestCreateProposalRejectsBadPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, "alice", 3_000*stakeUnit)

	cases := []struct {
		kind    domain.ProposalType
		payload string
	}{
		{domain.ProposalAddSource, `{}`},
		{domain.ProposalUpdateParam, `{"param":"bogus","value":3}`},
		{domain.ProposalUpdateParam, `{"param":"min_sources","value":0}`},
		{"bogus_type", `{}`},
	}
	for _, c := range cases {
		_, err := f.svc.CreateProposal(ctx, "alice", c.kind, "x", []byte(c.payload))
		if !errors.Is(err, domain.ErrInvalidPayload) {
			t.Errorf("%s %s: expected ErrInvalidPayload, got %v", c.kind, c.payload, err)
		}
	}
}

func TestVoteRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deposit(t, "alice", 3_000*stakeUnit)
	f.deposit(t, "bob", 1_000*stakeUnit)
	proposal, err := f.svc.CreateProposal(ctx, "alice", domain.ProposalAddSource, "add", []byte(`{"source_id":"oracle-x"}`))
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}

	if err := f.svc.Vote(ctx, proposal.ID, "carol", true); !errors.Is(err, domain.ErrNoStake) {
		t.Errorf("stakeless voter: expected ErrNoStake, got %v", err)
	}
	// An AGAINST ballot keeps the proposal active.
	if err := f.svc.Vote(ctx, proposal.ID, "bob", false); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	if err := f.svc.Vote(ctx, proposal.ID, "bob", true); !errors.Is(err, domain.ErrAlreadyVoted) {
		t.Errorf("double vote: expected ErrAlreadyVoted, got %v", err)
	}

	f.clk.Advance(domain.VotingPeriod + time.Hour)
	if err := f.svc.Vote(ctx, proposal.ID, "alice", true); !errors.Is(err, domain.ErrVotingClosed) {
		t.Errorf("late vote: expected ErrVotingClosed, got %v", err)
	}
}

func TestVoteAutoExecutesApprovedProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deposit(t, "alice", 3_000*stakeUnit)
	f.deposit(t, "bob", 1_000*stakeUnit)
	proposal, err := f.svc.CreateProposal(ctx, "alice", domain.ProposalAddSource, "add oracle-x", []byte(`{"source_id":"oracle-x"}`))
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}

	// Alice's 2000 units are two thirds of the staked total, so quorum
	// and the approval threshold clear on the first ballot and the
	// proposal executes without waiting out the voting window.
	if err := f.svc.Vote(ctx, proposal.ID, "alice", true); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}

	resolved, err := f.svc.GetProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("GetProposal failed: %v", err)
	}
	if resolved.Status != domain.StatusExecuted {
		t.Fatalf("expected immediate execution, got %s", resolved.Status)
	}

	src, err := f.registry.GetReputation(ctx, "oracle-x")
	if err != nil {
		t.Fatalf("expected oracle-x registered: %v", err)
	}
	if src.ReputationScore != 50 || src.Weight != 1 {
		t.Errorf("expected registration defaults, got %d/%d", src.ReputationScore, src.Weight)
	}

	// Deposit returned on execution.
	stake, _ := f.svc.StakeOf(ctx, "alice")
	if stake != 3_000*stakeUnit {
		t.Errorf("expected deposit returned, stake 3000 units, got %d", stake)
	}
	if err := f.svc.Vote(ctx, proposal.ID, "bob", true); !errors.Is(err, domain.ErrProposalNotActive) {
		t.Errorf("vote on executed proposal: expected ErrProposalNotActive, got %v", err)
	}
}

func TestFinalizeExecutesWhenQuorumArrivesLate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deposit(t, "alice", 3_000*stakeUnit)
	f.deposit(t, "whale", 20_000*stakeUnit)
	proposal, err := f.svc.CreateProposal(ctx, "alice", domain.ProposalAddSource, "add oracle-x", []byte(`{"source_id":"oracle-x"}`))
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}

	// Alice's 2000 units miss the 10% quorum of the 22000 staked, so the
	// ballot alone does not execute the proposal.
	if err := f.svc.Vote(ctx, proposal.ID, "alice", true); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	open, err := f.svc.GetProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("GetProposal failed: %v", err)
	}
	if open.Status != domain.StatusActive {
		t.Fatalf("expected proposal still active below quorum, got %s", open.Status)
	}

	if _, err := f.svc.Finalize(ctx, proposal.ID); err == nil {
		t.Fatal("expected finalize before the window closes to fail")
	}

	// The whale unstakes; the earlier turnout clears quorum at the
	// window end.
	if _, err := f.svc.Withdraw(ctx, "whale", 16_000*stakeUnit); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	f.clk.Advance(domain.VotingPeriod + time.Hour)
	resolved, err := f.svc.Finalize(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if resolved.Status != domain.StatusExecuted {
		t.Fatalf("expected executed, got %s", resolved.Status)
	}
	if _, err := f.registry.GetReputation(ctx, "oracle-x"); err != nil {
		t.Fatalf("expected oracle-x registered: %v", err)
	}
	stake, _ := f.svc.StakeOf(ctx, "alice")
	if stake != 3_000*stakeUnit {
		t.Errorf("expected deposit returned, stake 3000 units, got %d", stake)
	}
}

func TestFinalizeBurnsDepositOnRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deposit(t, "alice", 3_000*stakeUnit)
	f.deposit(t, "bob", 5_000*stakeUnit)
	proposal, err := f.svc.CreateProposal(ctx, "alice", domain.ProposalAddSource, "add", []byte(`{"source_id":"oracle-x"}`))
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}
	if err := f.svc.Vote(ctx, proposal.ID, "bob", false); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}

	f.clk.Advance(domain.VotingPeriod + time.Hour)
	resolved, err := f.svc.Finalize(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if resolved.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", resolved.Status)
	}

	stake, _ := f.svc.StakeOf(ctx, "alice")
	if stake != 2_000*stakeUnit {
		t.Errorf("expected burned deposit, stake 2000 units, got %d", stake)
	}
}

func TestFinalizeRequiresQuorum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deposit(t, "alice", 3_000*stakeUnit)
	f.deposit(t, "whale", 100_000*stakeUnit)
	proposal, err := f.svc.CreateProposal(ctx, "alice", domain.ProposalAddSource, "add", []byte(`{"source_id":"oracle-x"}`))
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}
	// Alice alone is far below 10% turnout of the staked total.
	if err := f.svc.Vote(ctx, proposal.ID, "alice", true); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}

	f.clk.Advance(domain.VotingPeriod + time.Hour)
	resolved, err := f.svc.Finalize(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if resolved.Status != domain.StatusFailed {
		t.Fatalf("expected failed on missed quorum, got %s", resolved.Status)
	}
}

func TestUpdateParamProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deposit(t, "alice", 3_000*stakeUnit)
	proposal, err := f.svc.CreateProposal(ctx, "alice", domain.ProposalUpdateParam, "raise min sources",
		[]byte(`{"param":"min_sources","value":3}`))
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}

	// The sole staker's ballot is 100% of the turnout: executes at once.
	if err := f.svc.Vote(ctx, proposal.ID, "alice", true); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}

	resolved, err := f.svc.GetProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("GetProposal failed: %v", err)
	}
	if resolved.Status != domain.StatusExecuted {
		t.Fatalf("expected executed, got %s", resolved.Status)
	}
	params, _ := f.consensus.Params(ctx)
	if params.MinSources != 3 {
		t.Errorf("expected min_sources 3, got %d", params.MinSources)
	}
}

func TestEmergencyPauseProposal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deposit(t, "alice", 3_000*stakeUnit)
	proposal, err := f.svc.CreateProposal(ctx, "alice", domain.ProposalEmergencyPause, "halt", nil)
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}

	// The emergency window is one day, not seven.
	wantEnd := f.clk.Now().Add(domain.EmergencyVotingPeriod)
	if !proposal.VotingEnds.Equal(wantEnd) {
		t.Errorf("expected voting end %s, got %s", wantEnd, proposal.VotingEnds)
	}

	// The sole staker clears even the 80% emergency threshold alone.
	if err := f.svc.Vote(ctx, proposal.ID, "alice", true); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	resolved, err := f.svc.GetProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("GetProposal failed: %v", err)
	}
	if resolved.Status != domain.StatusExecuted {
		t.Fatalf("expected executed, got %s", resolved.Status)
	}

	paused, _ := f.consensus.Paused(ctx)
	if !paused {
		t.Error("expected submissions paused")
	}
}

func TestRetryAfterExecutionFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"oracle-a", "oracle-b"} {
		if _, err := f.registry.Register(ctx, "governance", id); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}

	f.deposit(t, "alice", 3_000*stakeUnit)
	proposal, err := f.svc.CreateProposal(ctx, "alice", domain.ProposalRemoveSource, "drop oracle-a",
		[]byte(`{"source_id":"oracle-a"}`))
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}

	// The vote passes but removal would breach the quorum floor, so
	// execution fails and the deposit stays locked.
	if err := f.svc.Vote(ctx, proposal.ID, "alice", true); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	resolved, err := f.svc.GetProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("GetProposal failed: %v", err)
	}
	if resolved.Status != domain.StatusExecutionFailed {
		t.Fatalf("expected execution_failed, got %s", resolved.Status)
	}
	stake, _ := f.svc.StakeOf(ctx, "alice")
	if stake != 2_000*stakeUnit {
		t.Errorf("expected deposit held, stake 2000 units, got %d", stake)
	}

	// Retrying against the unchanged registry fails the same way.
	if _, err := f.svc.Retry(ctx, proposal.ID); !errors.Is(err, oracle.ErrBelowMinimumQuorum) {
		t.Fatalf("expected ErrBelowMinimumQuorum, got %v", err)
	}

	// A third active source clears the blocking condition.
	if _, err := f.registry.Register(ctx, "governance", "oracle-c"); err != nil {
		t.Fatalf("Register oracle-c failed: %v", err)
	}
	retried, err := f.svc.Retry(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if retried.Status != domain.StatusExecuted {
		t.Fatalf("expected executed, got %s", retried.Status)
	}

	removed, err := f.registry.GetReputation(ctx, "oracle-a")
	if err != nil {
		t.Fatalf("GetReputation failed: %v", err)
	}
	if removed.Active() {
		t.Errorf("expected oracle-a suspended, got weight %d", removed.Weight)
	}
	stake, _ = f.svc.StakeOf(ctx, "alice")
	if stake != 3_000*stakeUnit {
		t.Errorf("expected deposit returned after retry, got %d", stake)
	}

	// A second retry has nothing to re-run.
	if _, err := f.svc.Retry(ctx, proposal.ID); !errors.Is(err, domain.ErrProposalNotActive) {
		t.Errorf("expected ErrProposalNotActive, got %v", err)
	}
}

func TestCancelReturnsDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deposit(t, "alice", 3_000*stakeUnit)
	proposal, err := f.svc.CreateProposal(ctx, "alice", domain.ProposalAddSource, "add", []byte(`{"source_id":"oracle-x"}`))
	if err != nil {
		t.Fatalf("CreateProposal failed: %v", err)
	}

	if err := f.svc.Cancel(ctx, proposal.ID, "mallory"); !errors.Is(err, oracle.ErrNotAuthorized) {
		t.Errorf("foreign cancel: expected ErrNotAuthorized, got %v", err)
	}
	if err := f.svc.Cancel(ctx, proposal.ID, "alice"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	stake, _ := f.svc.StakeOf(ctx, "alice")
	if stake != 3_000*stakeUnit {
		t.Errorf("expected deposit returned, got %d", stake)
	}
	if err := f.svc.Vote(ctx, proposal.ID, "alice", true); !errors.Is(err, domain.ErrProposalNotActive) {
		t.Errorf("vote on cancelled: expected ErrProposalNotActive, got %v", err)
	}
}
