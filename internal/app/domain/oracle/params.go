package oracle

import "time"

// Params are the consensus parameters that governance may tune at runtime.
type Params struct {
	// MinSources is the minimum number of distinct submitting sources a
	// round needs before a consensus can be calculated.
	MinSources int
	// PriceTTL bounds how old the latest result may be before signal
	// validation refuses to use it.
	PriceTTL time.Duration
	// MaxDeviationBps is the deviation beyond which a submission draws a
	// major-deviation slash.
	MaxDeviationBps int64
}

// DefaultParams returns the shipped parameter set.
func DefaultParams() Params {
	return Params{
		MinSources:      MinActiveSources,
		PriceTTL:        15 * time.Minute,
		MaxDeviationBps: MajorDeviationBps,
	}
}
