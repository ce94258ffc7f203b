// Package decision maps risk scores to ALLOW / REVIEW / BLOCK verdicts.
package decision

import (
	"fmt"
	"time"

	"github.com/settlr/fraud-service/internal/rules"
)

// Verdict is the final classification applied to a transaction event.
type Verdict string

const (
	Allow  Verdict = "ALLOW"
	Review Verdict = "REVIEW"
	Block  Verdict = "BLOCK"
)

// Default thresholds on the 0–100 score scale.
const (
	DefaultReviewThreshold = 50.0
	DefaultBlockThreshold  = 90.0
)

// Decision flags set by the pipeline when a decision was made under
// degraded conditions.
const (
	FlagValidationFailed = "validation_failed"
	FlagStateUnavailable = "state_unavailable"
)

// ConfigurationError marks an invalid policy or rule setup. It is fatal at
// startup and never produced mid-flight.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Msg
}

// Policy holds the decision thresholds. Construct with NewPolicy so a bad
// policy fails at startup instead of silently misclassifying traffic.
type Policy struct {
	ReviewThreshold float64
	BlockThreshold  float64
}

// NewPolicy validates and returns a policy. reviewThreshold must not exceed
// blockThreshold and neither may be negative.
func NewPolicy(reviewThreshold, blockThreshold float64) (Policy, error) {
	if reviewThreshold < 0 || blockThreshold < 0 {
		return Policy{}, &ConfigurationError{Msg: "thresholds must be non-negative"}
	}
	if reviewThreshold > blockThreshold {
		return Policy{}, &ConfigurationError{
			Msg: fmt.Sprintf("review threshold %.2f exceeds block threshold %.2f", reviewThreshold, blockThreshold),
		}
	}
	return Policy{ReviewThreshold: reviewThreshold, BlockThreshold: blockThreshold}, nil
}

// DefaultPolicy returns the 50/90 policy.
func DefaultPolicy() Policy {
	p, err := NewPolicy(DefaultReviewThreshold, DefaultBlockThreshold)
	if err != nil {
		panic(err) // defaults are statically valid
	}
	return p
}

// Decision is the engine's final, immutable result for one event. It
// carries the full risk score for auditability.
type Decision struct {
	ID        string          `json:"id"`
	EventID   string          `json:"eventId"`
	EntityID  string          `json:"entityId"`
	Verdict   Verdict         `json:"verdict"`
	Score     rules.RiskScore `json:"score"`
	DecidedAt time.Time       `json:"decidedAt"`
}

// Engine bands scores into verdicts under a fixed policy.
type Engine struct {
	policy Policy
}

// NewEngine creates a decision engine for the given policy.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy { return e.policy }

// Decide maps a score to a verdict: score < review → ALLOW,
// review ≤ score < block → REVIEW, score ≥ block → BLOCK.
// The mapping is monotonic in the score.
func (e *Engine) Decide(score rules.RiskScore) Verdict {
	switch {
	case score.Value >= e.policy.BlockThreshold:
		return Block
	case score.Value >= e.policy.ReviewThreshold:
		return Review
	default:
		return Allow
	}
}
