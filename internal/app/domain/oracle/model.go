package oracle

import "time"

// Prices are fixed-point integers scaled by PriceScale. 7 decimal places
// matches the stroop convention of the settlement network.
const PriceScale = 10_000_000

// Reputation and weight bounds.
const (
	MinReputation = 0
	MaxReputation = 100
	MaxWeight     = 10

	// RegistrationScore is the conservative default for a newly admitted
	// source: limited influence until it earns trust.
	RegistrationScore = 50
)

// MinActiveSources is the quorum floor: the registry never lets automatic
// suspension reduce the number of weight>0 sources below this.
const MinActiveSources = 2

// Deviation classification boundaries, in basis points.
const (
	AccurateMaxBps = 100
	ModerateMaxBps = 500
)

// Slashing parameters.
const (
	MajorDeviationBps     = 2000
	MajorDeviationPenalty = 20
	VerificationPenalty   = 30

	// ConsistencyWindow is the trailing window in which a slash depresses
	// the consistency term of the reputation blend.
	ConsistencyWindow = 7 * 24 * time.Hour
)

// Source is a registered price oracle. Weight is always the image of
// ReputationScore under WeightForScore; it is never mutated independently.
type Source struct {
	ID                  string     `json:"id"`
	ReputationScore     int        `json:"reputation_score"`
	Weight              int        `json:"weight"`
	TotalSubmissions    int64      `json:"total_submissions"`
	AccurateSubmissions int64      `json:"accurate_submissions"`
	AvgDeviationBps     int64      `json:"avg_deviation_bps"`
	LastSlashAt         *time.Time `json:"last_slash_at,omitempty"`
	RegisteredAt        time.Time  `json:"registered_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Active reports whether the source currently carries consensus influence.
func (s Source) Active() bool { return s.Weight > 0 }

// WeightForScore maps a reputation score to consensus weight via the fixed
// band table. Band bounds are inclusive.
func WeightForScore(score int) int {
	switch {
	case score >= 90:
		return 10
	case score >= 75:
		return 5
	case score >= 60:
		return 2
	case score >= 50:
		return 1
	default:
		return 0
	}
}

// Submission is one price observation inside the current round. A later
// submission from the same source overwrites the earlier one.
type Submission struct {
	SourceID    string    `json:"source_id"`
	Price       int64     `json:"price"`
	RoundID     uint64    `json:"round_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Result is a published consensus price. Exactly one latest result is
// retained by the core.
type Result struct {
	Price       int64     `json:"price"`
	Timestamp   time.Time `json:"timestamp"`
	NumSources  int       `json:"num_sources"`
	TotalWeight int       `json:"total_weight"`
	RoundID     uint64    `json:"round_id"`
}

// SlashReason identifies why a source was penalised.
type SlashReason string

const (
	SlashMajorDeviation      SlashReason = "major_deviation"
	SlashVerificationFailure SlashReason = "verification_failure"
)

// SlashEvent is the observable effect of a penalty. It is transient state:
// surfaced on the event bus, not persisted by the core.
type SlashEvent struct {
	SourceID  string      `json:"source_id"`
	Reason    SlashReason `json:"reason"`
	Magnitude int         `json:"magnitude"`
	At        time.Time   `json:"at"`
}

// Accuracy is the per-round classification of a submission against the
// consensus price.
type Accuracy int

const (
	Accurate Accuracy = iota
	Moderate
	Inaccurate
)

func (a Accuracy) String() string {
	switch a {
	case Accurate:
		return "accurate"
	case Moderate:
		return "moderate"
	default:
		return "inaccurate"
	}
}

// Classify buckets a deviation by the fixed boundaries: accurate up to
// 100 bps inclusive, moderate up to 500 bps inclusive.
func Classify(deviationBps int64) Accuracy {
	switch {
	case deviationBps <= AccurateMaxBps:
		return Accurate
	case deviationBps <= ModerateMaxBps:
		return Moderate
	default:
		return Inaccurate
	}
}

// DeviationBps returns |price-consensus| expressed in basis points of the
// submitted price. Measuring against the submission makes an under-quote
// slightly more costly than an over-quote of the same absolute size.
func DeviationBps(price, consensus int64) int64 {
	diff := price - consensus
	if diff < 0 {
		diff = -diff
	}
	return diff * 10_000 / price
}
