package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/stellar-swipe/oracle-layer/internal/app/domain/governance"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestGetSource(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "reputation_score", "weight", "total_submissions", "accurate_submissions",
		"avg_deviation_bps", "last_slash_at", "registered_at", "updated_at",
	}).AddRow("oracle-a", 90, 10, int64(12), int64(11), int64(40), nil, now, now)

	mock.ExpectQuery(`SELECT .+ FROM oracle_sources`).WithArgs("oracle-a").WillReturnRows(rows)

	src, err := store.GetSource(context.Background(), "oracle-a")
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if src.ReputationScore != 90 || src.Weight != 10 {
		t.Errorf("unexpected source %+v", src)
	}
	if src.LastSlashAt != nil {
		t.Errorf("expected nil last_slash_at, got %v", src.LastSlashAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertSubmission(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO oracle_submissions`).
		WithArgs(uint64(7), "oracle-a", int64(100), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertSubmission(context.Background(), oracle.Submission{
		RoundID:     7,
		SourceID:    "oracle-a",
		Price:       100,
		SubmittedAt: now,
	})
	if err != nil {
		t.Fatalf("UpsertSubmission failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLatestResultAbsent(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"latest_price", "latest_timestamp", "latest_num_sources",
		"latest_total_weight", "latest_round_id",
	}).AddRow(nil, nil, nil, nil, nil)
	mock.ExpectQuery(`SELECT .+ FROM consensus_state`).WillReturnRows(rows)

	_, ok, err := store.LatestResult(context.Background())
	if err != nil {
		t.Fatalf("LatestResult failed: %v", err)
	}
	if ok {
		t.Error("expected no result before the first round")
	}
}

func TestStakeOfMissingVoter(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT amount FROM governance_stakes`).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}))

	stake, err := store.StakeOf(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("StakeOf failed: %v", err)
	}
	if stake != 0 {
		t.Errorf("expected zero stake, got %d", stake)
	}
}

func TestUpdateProposalNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE governance_proposals`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateProposal(context.Background(), governance.Proposal{ID: 99})
	if !errors.Is(err, governance.ErrProposalNotFound) {
		t.Fatalf("expected ErrProposalNotFound, got %v", err)
	}
}
