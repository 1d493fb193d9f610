package consensus

import (
	"sort"

	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
)

// enforceQuorum inspects the post-update picture and, when a round's
// suspensions would leave fewer than the minimum number of active sources,
// retains the highest-scoring freshly suspended sources at weight 1 (ties
// resolve to the lower source ID). The updated slice is modified in place;
// the returned set names the sources whose suspension was overridden.
func enforceQuorum(all []oracle.Source, updated []oracle.Source) map[string]bool {
	touched := make(map[string]int, len(updated))
	for i, src := range updated {
		touched[src.ID] = i
	}

	active := 0
	for _, src := range all {
		if i, ok := touched[src.ID]; ok {
			if updated[i].Active() {
				active++
			}
			continue
		}
		if src.Active() {
			active++
		}
	}

	if active >= oracle.MinActiveSources {
		return nil
	}

	// Candidates: sources suspended by this very update.
	wasActive := make(map[string]bool, len(all))
	for _, src := range all {
		wasActive[src.ID] = src.Active()
	}
	var candidates []int
	for i, src := range updated {
		if !src.Active() && wasActive[src.ID] {
			candidates = append(candidates, i)
		}
	}
	sort.Slice(candidates, func(a, b int) bool {
		x, y := updated[candidates[a]], updated[candidates[b]]
		if x.ReputationScore == y.ReputationScore {
			return x.ID < y.ID
		}
		return x.ReputationScore > y.ReputationScore
	})

	guarded := make(map[string]bool)
	for _, i := range candidates {
		if active >= oracle.MinActiveSources {
			break
		}
		updated[i].Weight = 1
		guarded[updated[i].ID] = true
		active++
	}
	return guarded
}
