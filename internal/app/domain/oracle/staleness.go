package oracle

import "time"

// StalenessLevel classifies the age of the latest consensus result.
type StalenessLevel string

const (
	StalenessFresh    StalenessLevel = "fresh"    // < 2m
	StalenessAging    StalenessLevel = "aging"    // 2-5m
	StalenessStale    StalenessLevel = "stale"    // 5-15m
	StalenessCritical StalenessLevel = "critical" // > 15m
)

// StalenessFor maps the age of a result to its level.
func StalenessFor(age time.Duration) StalenessLevel {
	switch {
	case age < 2*time.Minute:
		return StalenessFresh
	case age < 5*time.Minute:
		return StalenessAging
	case age < 15*time.Minute:
		return StalenessStale
	default:
		return StalenessCritical
	}
}
