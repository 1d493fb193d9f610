// Package signals validates externally proposed prices against the oracle's
// latest consensus before they are acted on downstream.
package signals

import (
	"context"
	"fmt"

	"github.com/stellar-swipe/oracle-layer/internal/app/clock"
	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/internal/app/storage"
	"github.com/stellar-swipe/oracle-layer/pkg/logger"
)

// Verdict is the outcome of validating a proposed price.
type Verdict struct {
	Valid          bool                 `json:"valid"`
	Reason         string               `json:"reason,omitempty"`
	ConsensusPrice int64                `json:"consensus_price"`
	DeviationBps   int64                `json:"deviation_bps"`
	Staleness      oracle.StalenessLevel `json:"staleness"`
}

// Service checks proposed prices against the latest consensus.
type Service struct {
	consensus storage.ConsensusStore
	clk       clock.Clock
	log       *logger.Logger
}

// New creates a signal validation service.
func New(consensus storage.ConsensusStore, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.NewDefault("signals")
	}
	return &Service{consensus: consensus, clk: clk, log: log}
}

// Validate accepts a proposed price when the latest consensus is younger
// than the configured TTL and the proposal deviates from it by no more than
// toleranceBps. A missing consensus fails with ErrInsufficientData.
func (s *Service) Validate(ctx context.Context, proposed int64, toleranceBps int64) (Verdict, error) {
	if proposed <= 0 {
		return Verdict{}, oracle.ErrInvalidPrice
	}
	if toleranceBps <= 0 {
		return Verdict{}, fmt.Errorf("tolerance must be positive")
	}

	res, ok, err := s.consensus.LatestResult(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("read latest result: %w", err)
	}
	if !ok {
		return Verdict{}, oracle.ErrInsufficientData
	}
	params, err := s.consensus.Params(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("read params: %w", err)
	}

	age := s.clk.Now().Sub(res.Timestamp)
	verdict := Verdict{
		ConsensusPrice: res.Price,
		DeviationBps:   oracle.DeviationBps(proposed, res.Price),
		Staleness:      oracle.StalenessFor(age),
	}

	if age > params.PriceTTL {
		verdict.Reason = "consensus price is too old"
		return verdict, nil
	}
	if verdict.DeviationBps > toleranceBps {
		verdict.Reason = "proposed price deviates beyond tolerance"
		return verdict, nil
	}

	verdict.Valid = true
	return verdict, nil
}
