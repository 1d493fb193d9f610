package consensus

import (
	"testing"
	"time"

	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
)

func TestConsistencyTermRecovery(t *testing.T) {
	now := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)

	if got := consistencyTerm(nil, now); got != 100 {
		t.Errorf("no slash: expected 100, got %d", got)
	}

	fresh := now
	if got := consistencyTerm(&fresh, now); got != 0 {
		t.Errorf("slash just now: expected 0, got %d", got)
	}

	halfway := now.Add(-oracle.ConsistencyWindow / 2)
	if got := consistencyTerm(&halfway, now); got != 50 {
		t.Errorf("slash half a window ago: expected 50, got %d", got)
	}

	old := now.Add(-oracle.ConsistencyWindow)
	if got := consistencyTerm(&old, now); got != 100 {
		t.Errorf("slash a full window ago: expected 100, got %d", got)
	}
}

func TestBlendedScorePerfectRecord(t *testing.T) {
	now := time.Now().UTC()
	src := oracle.Source{
		TotalSubmissions:    10,
		AccurateSubmissions: 10,
		AvgDeviationBps:     0,
	}
	if got := blendedScore(src, now); got != 100 {
		t.Errorf("perfect record: expected 100, got %d", got)
	}
}

func TestBlendedScoreCapsDeviation(t *testing.T) {
	now := time.Now().UTC()
	src := oracle.Source{
		TotalSubmissions:    10,
		AccurateSubmissions: 10,
		AvgDeviationBps:     50_000, // far beyond the 100% cap
	}
	// 60% accuracy + 0% deviation term + 10% consistency.
	if got := blendedScore(src, now); got != 70 {
		t.Errorf("capped deviation: expected 70, got %d", got)
	}
}
