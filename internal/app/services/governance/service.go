// Package governance runs the stake-weighted voting process that controls
// the source registry and the consensus parameters: deposits, proposals,
// ballots and execution of approved changes.
package governance

import (
	"context"
	"fmt"
	"sync"

	"github.com/stellar-swipe/oracle-layer/internal/app/clock"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/governance"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/internal/app/events"
	"github.com/stellar-swipe/oracle-layer/internal/app/storage"
	"github.com/stellar-swipe/oracle-layer/pkg/logger"
)

// Registry is the slice of the source registry that executed proposals act
// on. Calls authenticate with the caller identity the service was wired with.
type Registry interface {
	Register(ctx context.Context, caller, sourceID string) (oracle.Source, error)
	Remove(ctx context.Context, caller, sourceID string) error
	Reinstate(ctx context.Context, caller, sourceID string) (oracle.Source, error)
}

// Consensus is the slice of the consensus core that executed proposals act on.
type Consensus interface {
	Params(ctx context.Context) (oracle.Params, error)
	SetParams(ctx context.Context, params oracle.Params) error
	SetPaused(ctx context.Context, paused bool) error
}

// Service implements governance over the oracle layer.
type Service struct {
	mu        sync.Mutex
	store     storage.GovernanceStore
	registry  Registry
	consensus Consensus
	caller    string
	clk       clock.Clock
	bus       *events.Bus
	log       *logger.Logger
}

// New creates the governance service. The caller identity is used for
// registry operations performed by executed proposals and must carry the
// admin role with the registry's verifier.
func New(store storage.GovernanceStore, reg Registry, cons Consensus, caller string, clk clock.Clock, bus *events.Bus, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if log == nil {
		log = logger.NewDefault("governance")
	}
	return &Service{
		store:     store,
		registry:  reg,
		consensus: cons,
		caller:    caller,
		clk:       clk,
		bus:       bus,
		log:       log,
	}
}

// Deposit adds stake for a voter.
func (s *Service) Deposit(ctx context.Context, staker string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, governance.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.StakeOf(ctx, staker)
	if err != nil {
		return 0, fmt.Errorf("read stake: %w", err)
	}
	total, err := s.store.TotalStaked(ctx)
	if err != nil {
		return 0, fmt.Errorf("read total staked: %w", err)
	}

	updated := current + amount
	if err := s.store.SetStake(ctx, staker, updated); err != nil {
		return 0, fmt.Errorf("set stake: %w", err)
	}
	if err := s.store.SetTotalStaked(ctx, total+amount); err != nil {
		return 0, fmt.Errorf("set total staked: %w", err)
	}

	s.bus.Emit(events.TypeStakeChanged, "", map[string]any{
		"staker": staker,
		"stake":  updated,
	})
	return updated, nil
}

// Withdraw removes stake. The voter keeps any ballots already cast; future
// votes use the reduced stake.
func (s *Service) Withdraw(ctx context.Context, staker string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, governance.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.StakeOf(ctx, staker)
	if err != nil {
		return 0, fmt.Errorf("read stake: %w", err)
	}
	if amount > current {
		return 0, governance.ErrInvalidAmount
	}
	total, err := s.store.TotalStaked(ctx)
	if err != nil {
		return 0, fmt.Errorf("read total staked: %w", err)
	}

	updated := current - amount
	if err := s.store.SetStake(ctx, staker, updated); err != nil {
		return 0, fmt.Errorf("set stake: %w", err)
	}
	if err := s.store.SetTotalStaked(ctx, total-amount); err != nil {
		return 0, fmt.Errorf("set total staked: %w", err)
	}

	s.bus.Emit(events.TypeStakeChanged, "", map[string]any{
		"staker": staker,
		"stake":  updated,
	})
	return updated, nil
}

// StakeOf returns a voter's current stake.
func (s *Service) StakeOf(ctx context.Context, staker string) (int64, error) {
	return s.store.StakeOf(ctx, staker)
}

// CreateProposal opens a new proposal and locks the deposit from the
// proposer's stake. Emergency pauses get the short voting window.
func (s *Service) CreateProposal(ctx context.Context, proposer string, kind governance.ProposalType, description string, payload []byte) (governance.Proposal, error) {
	if !kind.Valid() {
		return governance.Proposal{}, fmt.Errorf("%w: unknown type %q", governance.ErrInvalidPayload, kind)
	}
	if err := validatePayload(kind, payload); err != nil {
		return governance.Proposal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stake, err := s.store.StakeOf(ctx, proposer)
	if err != nil {
		return governance.Proposal{}, fmt.Errorf("read stake: %w", err)
	}
	if stake < governance.ProposalDeposit {
		return governance.Proposal{}, governance.ErrInsufficientStake
	}

	now := s.clk.Now()
	period := governance.VotingPeriod
	if kind == governance.ProposalEmergencyPause {
		period = governance.EmergencyVotingPeriod
	}

	proposal := governance.Proposal{
		Proposer:    proposer,
		Type:        kind,
		Description: description,
		Payload:     payload,
		VotingEnds:  now.Add(period),
		Status:      governance.StatusActive,
		Deposit:     governance.ProposalDeposit,
		CreatedAt:   now,
	}

	created, err := s.store.CreateProposal(ctx, proposal)
	if err != nil {
		return governance.Proposal{}, fmt.Errorf("create proposal: %w", err)
	}

	// Lock the deposit out of the proposer's stake until resolution.
	total, err := s.store.TotalStaked(ctx)
	if err != nil {
		return governance.Proposal{}, fmt.Errorf("read total staked: %w", err)
	}
	if err := s.store.SetStake(ctx, proposer, stake-governance.ProposalDeposit); err != nil {
		return governance.Proposal{}, fmt.Errorf("lock deposit: %w", err)
	}
	if err := s.store.SetTotalStaked(ctx, total-governance.ProposalDeposit); err != nil {
		return governance.Proposal{}, fmt.Errorf("lock deposit: %w", err)
	}

	s.log.WithField("proposal_id", created.ID).WithField("type", string(kind)).Info("proposal created")
	s.bus.Emit(events.TypeProposalCreated, "", map[string]any{
		"proposal_id": created.ID,
		"proposer":    proposer,
		"type":        string(kind),
	})
	return created, nil
}

// Vote casts a stake-weighted ballot. Each voter gets one ballot per
// proposal at the stake held when the ballot is cast.
func (s *Service) Vote(ctx context.Context, proposalID uint64, voter string, support bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.Status != governance.StatusActive {
		return governance.ErrProposalNotActive
	}
	if !s.clk.Now().Before(proposal.VotingEnds) {
		return governance.ErrVotingClosed
	}

	stake, err := s.store.StakeOf(ctx, voter)
	if err != nil {
		return fmt.Errorf("read stake: %w", err)
	}
	if stake <= 0 {
		return governance.ErrNoStake
	}

	voted, err := s.store.HasVoted(ctx, proposalID, voter)
	if err != nil {
		return fmt.Errorf("read ballot: %w", err)
	}
	if voted {
		return governance.ErrAlreadyVoted
	}

	if support {
		proposal.VotesFor += stake
	} else {
		proposal.VotesAgainst += stake
	}
	if err := s.store.UpdateProposal(ctx, proposal); err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	if err := s.store.MarkVoted(ctx, proposalID, voter); err != nil {
		return fmt.Errorf("mark voted: %w", err)
	}

	s.bus.Emit(events.TypeVoteCast, "", map[string]any{
		"proposal_id": proposalID,
		"voter":       voter,
		"support":     support,
		"stake":       stake,
	})

	// A proposal executes the moment the tally clears both quorum and the
	// approval threshold. The voting window only matters for proposals
	// that never get there.
	total, err := s.store.TotalStaked(ctx)
	if err != nil {
		return fmt.Errorf("read total staked: %w", err)
	}
	if proposal.QuorumReached(total) && proposal.Approved() {
		if _, err := s.resolveApproved(ctx, proposal); err != nil {
			return err
		}
	}
	return nil
}

// Finalize resolves a proposal after its voting window closes: approved
// proposals execute and return the deposit, rejected ones burn it. Proposals
// that cleared quorum and threshold mid-window have already executed from
// Vote and resolve here as not active.
func (s *Service) Finalize(ctx context.Context, proposalID uint64) (governance.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return governance.Proposal{}, err
	}
	if proposal.Status != governance.StatusActive {
		return governance.Proposal{}, governance.ErrProposalNotActive
	}
	if s.clk.Now().Before(proposal.VotingEnds) {
		return governance.Proposal{}, fmt.Errorf("voting is still open until %s", proposal.VotingEnds)
	}

	total, err := s.store.TotalStaked(ctx)
	if err != nil {
		return governance.Proposal{}, fmt.Errorf("read total staked: %w", err)
	}

	if !proposal.QuorumReached(total) || !proposal.Approved() {
		proposal.Status = governance.StatusFailed
		if err := s.store.UpdateProposal(ctx, proposal); err != nil {
			return governance.Proposal{}, fmt.Errorf("update proposal: %w", err)
		}
		// Deposit is burned: never returned to the proposer.
		s.log.WithField("proposal_id", proposalID).Info("proposal failed")
		s.bus.Emit(events.TypeProposalFailed, "", map[string]any{"proposal_id": proposalID})
		return proposal, nil
	}

	return s.resolveApproved(ctx, proposal)
}

// Retry re-runs the execution of an approved proposal whose previous
// attempt failed, typically after the blocking condition has been cleared.
// The deposit stays locked until execution succeeds.
func (s *Service) Retry(ctx context.Context, proposalID uint64) (governance.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return governance.Proposal{}, err
	}
	if proposal.Status != governance.StatusExecutionFailed {
		return governance.Proposal{}, governance.ErrProposalNotActive
	}

	if execErr := s.execute(ctx, proposal); execErr != nil {
		s.log.WithError(execErr).WithField("proposal_id", proposalID).Warn("proposal retry failed")
		return governance.Proposal{}, execErr
	}

	proposal.Status = governance.StatusExecuted
	if err := s.store.UpdateProposal(ctx, proposal); err != nil {
		return governance.Proposal{}, fmt.Errorf("update proposal: %w", err)
	}
	if err := s.returnDeposit(ctx, proposal); err != nil {
		return governance.Proposal{}, err
	}

	s.bus.Emit(events.TypeProposalExecuted, "", map[string]any{"proposal_id": proposalID})
	return proposal, nil
}

// resolveApproved executes an approved proposal and settles its deposit:
// returned on success, held for Retry when execution fails. Caller holds the
// service mutex.
func (s *Service) resolveApproved(ctx context.Context, proposal governance.Proposal) (governance.Proposal, error) {
	if execErr := s.execute(ctx, proposal); execErr != nil {
		proposal.Status = governance.StatusExecutionFailed
		s.log.WithError(execErr).WithField("proposal_id", proposal.ID).Error("proposal execution failed")
	} else {
		proposal.Status = governance.StatusExecuted
	}
	if err := s.store.UpdateProposal(ctx, proposal); err != nil {
		return governance.Proposal{}, fmt.Errorf("update proposal: %w", err)
	}

	if proposal.Status == governance.StatusExecuted {
		if err := s.returnDeposit(ctx, proposal); err != nil {
			return governance.Proposal{}, err
		}
		s.bus.Emit(events.TypeProposalExecuted, "", map[string]any{"proposal_id": proposal.ID})
	} else {
		s.bus.Emit(events.TypeProposalFailed, "", map[string]any{
			"proposal_id": proposal.ID,
			"execution":   "failed",
		})
	}
	return proposal, nil
}

// Cancel lets the proposer withdraw an active proposal; the deposit is
// returned.
func (s *Service) Cancel(ctx context.Context, proposalID uint64, caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.Status != governance.StatusActive {
		return governance.ErrProposalNotActive
	}
	if proposal.Proposer != caller {
		return oracle.ErrNotAuthorized
	}

	proposal.Status = governance.StatusCancelled
	if err := s.store.UpdateProposal(ctx, proposal); err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	if err := s.returnDeposit(ctx, proposal); err != nil {
		return err
	}

	s.bus.Emit(events.TypeProposalCancelled, "", map[string]any{"proposal_id": proposalID})
	return nil
}

// GetProposal returns one proposal.
func (s *Service) GetProposal(ctx context.Context, proposalID uint64) (governance.Proposal, error) {
	return s.store.GetProposal(ctx, proposalID)
}

// ListProposals returns all proposals in creation order.
func (s *Service) ListProposals(ctx context.Context) ([]governance.Proposal, error) {
	return s.store.ListProposals(ctx)
}

func (s *Service) returnDeposit(ctx context.Context, proposal governance.Proposal) error {
	stake, err := s.store.StakeOf(ctx, proposal.Proposer)
	if err != nil {
		return fmt.Errorf("read stake: %w", err)
	}
	total, err := s.store.TotalStaked(ctx)
	if err != nil {
		return fmt.Errorf("read total staked: %w", err)
	}
	if err := s.store.SetStake(ctx, proposal.Proposer, stake+proposal.Deposit); err != nil {
		return fmt.Errorf("return deposit: %w", err)
	}
	if err := s.store.SetTotalStaked(ctx, total+proposal.Deposit); err != nil {
		return fmt.Errorf("return deposit: %w", err)
	}
	return nil
}
