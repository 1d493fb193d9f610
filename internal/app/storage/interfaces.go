package storage

import (
	"context"

	"github.com/stellar-swipe/oracle-layer/internal/app/domain/governance"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
)

// SourceStore persists oracle source records. Sources are never physically
// deleted; suspension is weight zero so history survives for audit.
type SourceStore interface {
	CreateSource(ctx context.Context, src oracle.Source) (oracle.Source, error)
	UpdateSource(ctx context.Context, src oracle.Source) (oracle.Source, error)
	GetSource(ctx context.Context, id string) (oracle.Source, error)
	ListSources(ctx context.Context) ([]oracle.Source, error)
}

// SubmissionStore holds the live submissions of a round, one per source.
type SubmissionStore interface {
	UpsertSubmission(ctx context.Context, sub oracle.Submission) error
	ListSubmissions(ctx context.Context, roundID uint64) ([]oracle.Submission, error)
	ClearSubmissions(ctx context.Context, roundID uint64) error
}

// ConsensusStore retains the single latest consensus result, the current
// round counter, the pause flag and the tunable consensus parameters.
type ConsensusStore interface {
	SetLatestResult(ctx context.Context, res oracle.Result) error
	LatestResult(ctx context.Context) (oracle.Result, bool, error)
	CurrentRound(ctx context.Context) (uint64, error)
	SetCurrentRound(ctx context.Context, id uint64) error
	Paused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
	Params(ctx context.Context) (oracle.Params, error)
	SetParams(ctx context.Context, params oracle.Params) error
}

// GovernanceStore persists stake balances, proposals and ballots.
type GovernanceStore interface {
	StakeOf(ctx context.Context, addr string) (int64, error)
	SetStake(ctx context.Context, addr string, amount int64) error
	TotalStaked(ctx context.Context) (int64, error)
	SetTotalStaked(ctx context.Context, amount int64) error

	CreateProposal(ctx context.Context, p governance.Proposal) (governance.Proposal, error)
	UpdateProposal(ctx context.Context, p governance.Proposal) error
	GetProposal(ctx context.Context, id uint64) (governance.Proposal, error)
	ListProposals(ctx context.Context) ([]governance.Proposal, error)

	HasVoted(ctx context.Context, proposalID uint64, voter string) (bool, error)
	MarkVoted(ctx context.Context, proposalID uint64, voter string) error
}
