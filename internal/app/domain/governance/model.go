package governance

import (
	"encoding/json"
	"errors"
	"time"
)

// Voting parameters, in basis points out of 10_000.
const (
	QuorumBps             = 1_000
	ApprovalThresholdBps  = 6_600
	EmergencyThresholdBps = 8_000

	VotingPeriod          = 7 * 24 * time.Hour
	EmergencyVotingPeriod = 24 * time.Hour

	// ProposalDeposit is locked from the proposer's stake at creation. It
	// is returned on successful execution, stays locked while a failed
	// execution awaits a retry, and is burned when the vote itself fails.
	ProposalDeposit = int64(1_000 * 10_000_000)
)

// ProposalType is the kind of change a proposal requests.
type ProposalType string

const (
	ProposalAddSource      ProposalType = "add_source"
	ProposalRemoveSource   ProposalType = "remove_source"
	ProposalUpdateParam    ProposalType = "update_param"
	ProposalEmergencyPause ProposalType = "emergency_pause"
)

// Valid reports whether the proposal type is one of the known kinds.
func (t ProposalType) Valid() bool {
	switch t {
	case ProposalAddSource, ProposalRemoveSource, ProposalUpdateParam, ProposalEmergencyPause:
		return true
	}
	return false
}

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	StatusActive          ProposalStatus = "active"
	StatusFailed          ProposalStatus = "failed"
	StatusExecuted        ProposalStatus = "executed"
	StatusExecutionFailed ProposalStatus = "execution_failed"
	StatusCancelled       ProposalStatus = "cancelled"
)

// Proposal is a requested configuration change put to a stake-weighted vote.
// Payload is a JSON document interpreted according to Type:
//
//	add_source / remove_source → {"source_id": "..."}
//	update_param               → {"param": "...", "value": N}
//	emergency_pause            → empty
type Proposal struct {
	ID           uint64          `json:"id"`
	Proposer     string          `json:"proposer"`
	Type         ProposalType    `json:"type"`
	Description  string          `json:"description"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	VotesFor     int64           `json:"votes_for"`
	VotesAgainst int64           `json:"votes_against"`
	VotingEnds   time.Time       `json:"voting_ends"`
	Status       ProposalStatus  `json:"status"`
	Deposit      int64           `json:"deposit"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Threshold returns the approval threshold for the proposal type.
func (p Proposal) Threshold() int64 {
	if p.Type == ProposalEmergencyPause {
		return EmergencyThresholdBps
	}
	return ApprovalThresholdBps
}

// QuorumReached reports whether total turnout meets the quorum fraction of
// total staked tokens.
func (p Proposal) QuorumReached(totalStaked int64) bool {
	if totalStaked == 0 {
		return false
	}
	turnout := p.VotesFor + p.VotesAgainst
	return turnout*10_000 >= QuorumBps*totalStaked
}

// Approved reports whether the FOR share of the turnout meets the threshold.
func (p Proposal) Approved() bool {
	turnout := p.VotesFor + p.VotesAgainst
	if turnout == 0 {
		return false
	}
	return p.VotesFor*10_000 >= p.Threshold()*turnout
}

// Governance error kinds.
var (
	ErrProposalNotFound  = errors.New("proposal not found")
	ErrProposalNotActive = errors.New("proposal is not active")
	ErrAlreadyVoted      = errors.New("voter already cast a ballot on this proposal")
	ErrNoStake           = errors.New("voter has no stake")
	ErrInsufficientStake = errors.New("stake does not cover the proposal deposit")
	ErrInvalidAmount     = errors.New("amount must be positive and within balance")
	ErrVotingClosed      = errors.New("voting window has closed")
	ErrInvalidPayload    = errors.New("invalid proposal payload")
)
