// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stellar-swipe/oracle-layer/internal/app/domain/governance"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/internal/app/storage"
)

// Store implements the storage interfaces over a database handle.
type Store struct {
	db *sql.DB
}

var _ storage.SourceStore = (*Store)(nil)
var _ storage.SubmissionStore = (*Store)(nil)
var _ storage.ConsensusStore = (*Store)(nil)
var _ storage.GovernanceStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- SourceStore ------------------------------------------------------------

func (s *Store) CreateSource(ctx context.Context, src oracle.Source) (oracle.Source, error) {
	now := time.Now().UTC()
	if src.RegisteredAt.IsZero() {
		src.RegisteredAt = now
	}
	src.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oracle_sources
			(id, reputation_score, weight, total_submissions, accurate_submissions,
			 avg_deviation_bps, last_slash_at, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, src.ID, src.ReputationScore, src.Weight, src.TotalSubmissions, src.AccurateSubmissions,
		src.AvgDeviationBps, src.LastSlashAt, src.RegisteredAt, src.UpdatedAt)
	if err != nil {
		return oracle.Source{}, err
	}
	return src, nil
}

func (s *Store) UpdateSource(ctx context.Context, src oracle.Source) (oracle.Source, error) {
	src.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE oracle_sources
		SET reputation_score = $2, weight = $3, total_submissions = $4,
		    accurate_submissions = $5, avg_deviation_bps = $6, last_slash_at = $7,
		    updated_at = $8
		WHERE id = $1
	`, src.ID, src.ReputationScore, src.Weight, src.TotalSubmissions,
		src.AccurateSubmissions, src.AvgDeviationBps, src.LastSlashAt, src.UpdatedAt)
	if err != nil {
		return oracle.Source{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return oracle.Source{}, sql.ErrNoRows
	}
	return src, nil
}

func (s *Store) GetSource(ctx context.Context, id string) (oracle.Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, reputation_score, weight, total_submissions, accurate_submissions,
		       avg_deviation_bps, last_slash_at, registered_at, updated_at
		FROM oracle_sources
		WHERE id = $1
	`, id)
	return scanSource(row)
}

func (s *Store) ListSources(ctx context.Context) ([]oracle.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reputation_score, weight, total_submissions, accurate_submissions,
		       avg_deviation_bps, last_slash_at, registered_at, updated_at
		FROM oracle_sources
		ORDER BY registered_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []oracle.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (oracle.Source, error) {
	var src oracle.Source
	var lastSlash sql.NullTime
	err := row.Scan(&src.ID, &src.ReputationScore, &src.Weight, &src.TotalSubmissions,
		&src.AccurateSubmissions, &src.AvgDeviationBps, &lastSlash, &src.RegisteredAt, &src.UpdatedAt)
	if err != nil {
		return oracle.Source{}, err
	}
	if lastSlash.Valid {
		t := lastSlash.Time.UTC()
		src.LastSlashAt = &t
	}
	return src, nil
}

// --- SubmissionStore --------------------------------------------------------

func (s *Store) UpsertSubmission(ctx context.Context, sub oracle.Submission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oracle_submissions (round_id, source_id, price, submitted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (round_id, source_id)
		DO UPDATE SET price = EXCLUDED.price, submitted_at = EXCLUDED.submitted_at
	`, sub.RoundID, sub.SourceID, sub.Price, sub.SubmittedAt)
	return err
}

func (s *Store) ListSubmissions(ctx context.Context, roundID uint64) ([]oracle.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT round_id, source_id, price, submitted_at
		FROM oracle_submissions
		WHERE round_id = $1
		ORDER BY source_id
	`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []oracle.Submission
	for rows.Next() {
		var sub oracle.Submission
		if err := rows.Scan(&sub.RoundID, &sub.SourceID, &sub.Price, &sub.SubmittedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) ClearSubmissions(ctx context.Context, roundID uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM oracle_submissions WHERE round_id = $1`, roundID)
	return err
}

// --- ConsensusStore ---------------------------------------------------------

func (s *Store) SetLatestResult(ctx context.Context, res oracle.Result) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE consensus_state
		SET latest_price = $1, latest_timestamp = $2, latest_num_sources = $3,
		    latest_total_weight = $4, latest_round_id = $5
		WHERE id = 1
	`, res.Price, res.Timestamp, res.NumSources, res.TotalWeight, res.RoundID)
	return err
}

func (s *Store) LatestResult(ctx context.Context) (oracle.Result, bool, error) {
	var price sql.NullInt64
	var ts sql.NullTime
	var numSources, totalWeight sql.NullInt32
	var roundID sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT latest_price, latest_timestamp, latest_num_sources,
		       latest_total_weight, latest_round_id
		FROM consensus_state
		WHERE id = 1
	`).Scan(&price, &ts, &numSources, &totalWeight, &roundID)
	if err != nil {
		return oracle.Result{}, false, err
	}
	if !price.Valid {
		return oracle.Result{}, false, nil
	}
	return oracle.Result{
		Price:       price.Int64,
		Timestamp:   ts.Time.UTC(),
		NumSources:  int(numSources.Int32),
		TotalWeight: int(totalWeight.Int32),
		RoundID:     uint64(roundID.Int64),
	}, true, nil
}

func (s *Store) CurrentRound(ctx context.Context) (uint64, error) {
	var round uint64
	err := s.db.QueryRowContext(ctx, `SELECT current_round FROM consensus_state WHERE id = 1`).Scan(&round)
	return round, err
}

func (s *Store) SetCurrentRound(ctx context.Context, id uint64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE consensus_state SET current_round = $1 WHERE id = 1`, id)
	return err
}

func (s *Store) Paused(ctx context.Context) (bool, error) {
	var paused bool
	err := s.db.QueryRowContext(ctx, `SELECT paused FROM consensus_state WHERE id = 1`).Scan(&paused)
	return paused, err
}

func (s *Store) SetPaused(ctx context.Context, paused bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE consensus_state SET paused = $1 WHERE id = 1`, paused)
	return err
}

func (s *Store) Params(ctx context.Context) (oracle.Params, error) {
	var params oracle.Params
	var ttlSeconds int64
	err := s.db.QueryRowContext(ctx, `
		SELECT min_sources, price_ttl_seconds, max_deviation_bps
		FROM consensus_state
		WHERE id = 1
	`).Scan(&params.MinSources, &ttlSeconds, &params.MaxDeviationBps)
	if err != nil {
		return oracle.Params{}, err
	}
	params.PriceTTL = time.Duration(ttlSeconds) * time.Second
	return params, nil
}

func (s *Store) SetParams(ctx context.Context, params oracle.Params) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE consensus_state
		SET min_sources = $1, price_ttl_seconds = $2, max_deviation_bps = $3
		WHERE id = 1
	`, params.MinSources, int64(params.PriceTTL/time.Second), params.MaxDeviationBps)
	return err
}

// --- GovernanceStore --------------------------------------------------------

func (s *Store) StakeOf(ctx context.Context, addr string) (int64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx, `SELECT amount FROM governance_stakes WHERE staker = $1`, addr).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return amount, err
}

func (s *Store) SetStake(ctx context.Context, addr string, amount int64) error {
	if amount == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM governance_stakes WHERE staker = $1`, addr)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO governance_stakes (staker, amount)
		VALUES ($1, $2)
		ON CONFLICT (staker) DO UPDATE SET amount = EXCLUDED.amount
	`, addr, amount)
	return err
}

func (s *Store) TotalStaked(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT total_staked FROM governance_state WHERE id = 1`).Scan(&total)
	return total, err
}

func (s *Store) SetTotalStaked(ctx context.Context, amount int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE governance_state SET total_staked = $1 WHERE id = 1`, amount)
	return err
}

func (s *Store) CreateProposal(ctx context.Context, p governance.Proposal) (governance.Proposal, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	payload := p.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO governance_proposals
			(proposer, type, description, payload, votes_for, votes_against,
			 voting_ends, status, deposit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, p.Proposer, string(p.Type), p.Description, payload, p.VotesFor, p.VotesAgainst,
		p.VotingEnds, string(p.Status), p.Deposit, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return governance.Proposal{}, err
	}
	return p, nil
}

func (s *Store) UpdateProposal(ctx context.Context, p governance.Proposal) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE governance_proposals
		SET votes_for = $2, votes_against = $3, status = $4
		WHERE id = $1
	`, p.ID, p.VotesFor, p.VotesAgainst, string(p.Status))
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return governance.ErrProposalNotFound
	}
	return nil
}

func (s *Store) GetProposal(ctx context.Context, id uint64) (governance.Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, proposer, type, description, payload, votes_for, votes_against,
		       voting_ends, status, deposit, created_at
		FROM governance_proposals
		WHERE id = $1
	`, id)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return governance.Proposal{}, governance.ErrProposalNotFound
	}
	return p, err
}

func (s *Store) ListProposals(ctx context.Context) ([]governance.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposer, type, description, payload, votes_for, votes_against,
		       voting_ends, status, deposit, created_at
		FROM governance_proposals
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proposals []governance.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func scanProposal(row rowScanner) (governance.Proposal, error) {
	var p governance.Proposal
	var kind, status string
	err := row.Scan(&p.ID, &p.Proposer, &kind, &p.Description, &p.Payload,
		&p.VotesFor, &p.VotesAgainst, &p.VotingEnds, &status, &p.Deposit, &p.CreatedAt)
	if err != nil {
		return governance.Proposal{}, err
	}
	p.Type = governance.ProposalType(kind)
	p.Status = governance.ProposalStatus(status)
	p.VotingEnds = p.VotingEnds.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (s *Store) HasVoted(ctx context.Context, proposalID uint64, voter string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM governance_ballots WHERE proposal_id = $1 AND voter = $2
		)
	`, proposalID, voter).Scan(&exists)
	return exists, err
}

func (s *Store) MarkVoted(ctx context.Context, proposalID uint64, voter string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO governance_ballots (proposal_id, voter)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, proposalID, voter)
	return err
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}
