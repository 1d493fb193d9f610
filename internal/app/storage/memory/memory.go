package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stellar-swipe/oracle-layer/internal/app/domain/governance"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu          sync.RWMutex
	sources     map[string]oracle.Source
	submissions map[uint64]map[string]oracle.Submission
	latest      *oracle.Result
	round       uint64
	paused      bool
	params      oracle.Params

	stakes       map[string]int64
	totalStaked  int64
	nextProposal uint64
	proposals    map[uint64]governance.Proposal
	ballots      map[uint64]map[string]bool
}

var _ storage.SourceStore = (*Store)(nil)
var _ storage.SubmissionStore = (*Store)(nil)
var _ storage.ConsensusStore = (*Store)(nil)
var _ storage.GovernanceStore = (*Store)(nil)

// New creates an empty store with default consensus parameters.
func New() *Store {
	return &Store{
		sources:      make(map[string]oracle.Source),
		submissions:  make(map[uint64]map[string]oracle.Submission),
		round:        1,
		params:       oracle.DefaultParams(),
		stakes:       make(map[string]int64),
		nextProposal: 1,
		proposals:    make(map[uint64]governance.Proposal),
		ballots:      make(map[uint64]map[string]bool),
	}
}

// SourceStore implementation ---------------------------------------------------

func (s *Store) CreateSource(_ context.Context, src oracle.Source) (oracle.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sources[src.ID]; exists {
		return oracle.Source{}, fmt.Errorf("source %s already exists", src.ID)
	}

	now := time.Now().UTC()
	if src.RegisteredAt.IsZero() {
		src.RegisteredAt = now
	}
	src.UpdatedAt = now

	s.sources[src.ID] = src
	return src, nil
}

func (s *Store) UpdateSource(_ context.Context, src oracle.Source) (oracle.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.sources[src.ID]
	if !ok {
		return oracle.Source{}, fmt.Errorf("source %s not found", src.ID)
	}

	src.RegisteredAt = original.RegisteredAt
	src.UpdatedAt = time.Now().UTC()

	s.sources[src.ID] = src
	return src, nil
}

func (s *Store) GetSource(_ context.Context, id string) (oracle.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[id]
	if !ok {
		return oracle.Source{}, fmt.Errorf("source %s not found", id)
	}
	return src, nil
}

func (s *Store) ListSources(_ context.Context) ([]oracle.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]oracle.Source, 0, len(s.sources))
	for _, src := range s.sources {
		result = append(result, src)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].RegisteredAt.Equal(result[j].RegisteredAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].RegisteredAt.Before(result[j].RegisteredAt)
	})
	return result, nil
}

// SubmissionStore implementation -----------------------------------------------

func (s *Store) UpsertSubmission(_ context.Context, sub oracle.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.submissions[sub.RoundID]
	if !ok {
		round = make(map[string]oracle.Submission)
		s.submissions[sub.RoundID] = round
	}
	round[sub.SourceID] = sub
	return nil
}

func (s *Store) ListSubmissions(_ context.Context, roundID uint64) ([]oracle.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	round := s.submissions[roundID]
	result := make([]oracle.Submission, 0, len(round))
	for _, sub := range round {
		result = append(result, sub)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SourceID < result[j].SourceID })
	return result, nil
}

func (s *Store) ClearSubmissions(_ context.Context, roundID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.submissions, roundID)
	return nil
}

// ConsensusStore implementation ------------------------------------------------

func (s *Store) SetLatestResult(_ context.Context, res oracle.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = &res
	return nil
}

func (s *Store) LatestResult(_ context.Context) (oracle.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return oracle.Result{}, false, nil
	}
	return *s.latest, true, nil
}

func (s *Store) CurrentRound(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round, nil
}

func (s *Store) SetCurrentRound(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round = id
	return nil
}

func (s *Store) Paused(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused, nil
}

func (s *Store) SetPaused(_ context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	return nil
}

func (s *Store) Params(_ context.Context) (oracle.Params, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params, nil
}

func (s *Store) SetParams(_ context.Context, params oracle.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = params
	return nil
}

// GovernanceStore implementation -----------------------------------------------

func (s *Store) StakeOf(_ context.Context, addr string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stakes[addr], nil
}

func (s *Store) SetStake(_ context.Context, addr string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount == 0 {
		delete(s.stakes, addr)
		return nil
	}
	s.stakes[addr] = amount
	return nil
}

func (s *Store) TotalStaked(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalStaked, nil
}

func (s *Store) SetTotalStaked(_ context.Context, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalStaked = amount
	return nil
}

func (s *Store) CreateProposal(_ context.Context, p governance.Proposal) (governance.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.ID = s.nextProposal
	s.nextProposal++
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Payload = append([]byte(nil), p.Payload...)

	s.proposals[p.ID] = p
	return p, nil
}

func (s *Store) UpdateProposal(_ context.Context, p governance.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.proposals[p.ID]
	if !ok {
		return fmt.Errorf("proposal %d not found", p.ID)
	}
	p.CreatedAt = original.CreatedAt
	p.Payload = append([]byte(nil), p.Payload...)
	s.proposals[p.ID] = p
	return nil
}

func (s *Store) GetProposal(_ context.Context, id uint64) (governance.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return governance.Proposal{}, governance.ErrProposalNotFound
	}
	return p, nil
}

func (s *Store) ListProposals(_ context.Context) ([]governance.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]governance.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) HasVoted(_ context.Context, proposalID uint64, voter string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ballots[proposalID][voter], nil
}

func (s *Store) MarkVoted(_ context.Context, proposalID uint64, voter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	votes, ok := s.ballots[proposalID]
	if !ok {
		votes = make(map[string]bool)
		s.ballots[proposalID] = votes
	}
	votes[voter] = true
	return nil
}
