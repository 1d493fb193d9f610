package consensus

import (
	"time"

	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
)

// applyReputation scores every entry against the consensus price and returns
// the updated source records plus the slashes incurred. It works on copies;
// nothing is persisted here.
//
// Per source the update runs in a fixed order: classify the deviation, bump
// the counters and the running mean, recompute the blended score, then apply
// any slash before the final weight mapping. Slash and weight mapping land as
// one transition.
func (s *Service) applyReputation(entries []entry, result oracle.Result, params oracle.Params, now time.Time) ([]oracle.Source, []oracle.SlashEvent) {
	updated := make([]oracle.Source, 0, len(entries))
	var slashes []oracle.SlashEvent

	for _, e := range entries {
		src := e.src
		dev := oracle.DeviationBps(e.sub.Price, result.Price)

		src.TotalSubmissions++
		if oracle.Classify(dev) == oracle.Accurate {
			src.AccurateSubmissions++
		}
		src.AvgDeviationBps = (src.AvgDeviationBps*(src.TotalSubmissions-1) + dev) / src.TotalSubmissions

		score := blendedScore(src, now)

		if dev > params.MaxDeviationBps {
			score -= oracle.MajorDeviationPenalty
			if score < oracle.MinReputation {
				score = oracle.MinReputation
			}
			slashAt := now
			src.LastSlashAt = &slashAt
			slashes = append(slashes, oracle.SlashEvent{
				SourceID:  src.ID,
				Reason:    oracle.SlashMajorDeviation,
				Magnitude: oracle.MajorDeviationPenalty,
				At:        now,
			})
		}

		src.ReputationScore = score
		src.Weight = oracle.WeightForScore(score)
		updated = append(updated, src)
	}

	return updated, slashes
}

// blendedScore recomputes the reputation blend from the source's counters:
// 60% accuracy rate, 30% deviation penalty, 10% consistency.
func blendedScore(src oracle.Source, now time.Time) int {
	accuracyRate := int64(0)
	if src.TotalSubmissions > 0 {
		accuracyRate = 100 * src.AccurateSubmissions / src.TotalSubmissions
	}

	avgPct := src.AvgDeviationBps / 100
	if avgPct > 100 {
		avgPct = 100
	}
	deviationTerm := 100 - avgPct

	consistency := consistencyTerm(src.LastSlashAt, now)

	score := (60*accuracyRate + 30*deviationTerm + 10*consistency) / 100
	if score < oracle.MinReputation {
		return oracle.MinReputation
	}
	if score > oracle.MaxReputation {
		return oracle.MaxReputation
	}
	return int(score)
}

// consistencyTerm is 100 with no slash inside the trailing window, otherwise
// it recovers linearly with the time elapsed since the last slash.
func consistencyTerm(lastSlashAt *time.Time, now time.Time) int64 {
	if lastSlashAt == nil {
		return 100
	}
	elapsed := now.Sub(*lastSlashAt)
	if elapsed >= oracle.ConsistencyWindow {
		return 100
	}
	if elapsed <= 0 {
		return 0
	}
	return 100 * int64(elapsed) / int64(oracle.ConsistencyWindow)
}
