// Package rules implements weighted fraud rule evaluation.
//
// Rules are pure, independent functions of the signal set: no rule may read
// another rule's outcome, so evaluation order never changes the score. Each
// triggered rule contributes contribution × weight points and is recorded in
// declaration order for explainability.
package rules

import (
	"math"

	"github.com/settlr/fraud-service/internal/signal"
)

// maxSeverity caps graded rule contributions so a single runaway signal
// cannot dwarf every other rule.
const maxSeverity = 2.0

// Rule is one fraud heuristic. Evaluate must be side-effect-free and
// deterministic for a given signal set.
type Rule interface {
	Name() string
	Weight() float64
	Evaluate(s signal.Set) (triggered bool, contribution float64)
}

// Contribution explains one triggered rule inside a RiskScore.
type Contribution struct {
	Rule         string  `json:"rule"`
	Contribution float64 `json:"contribution"`
	Weight       float64 `json:"weight"`
}

// RiskScore is the immutable result of evaluating one signal set.
type RiskScore struct {
	Value         float64        `json:"value"`
	Contributions []Contribution `json:"contributions"`
	Flags         []string       `json:"flags,omitempty"`
}

// Points returns contribution × weight for one entry.
func (c Contribution) Points() float64 { return c.Contribution * c.Weight }

// Config carries the data side of the built-in rules: limits and weights
// are configuration, not code.
type Config struct {
	HourlyCountLimit  float64
	HourlyAmountLimit float64
	DailyCountLimit   float64
	DailyAmountLimit  float64
	DeviationRatio    float64 // amount / historical mean that flags deviation
	DeviationStdDevs  float64 // stddev multiple that flags deviation

	HourlyCountWeight  float64
	HourlyAmountWeight float64
	DailyCountWeight   float64
	DailyAmountWeight  float64
	DeviationWeight    float64
	NewDeviceWeight    float64
	NewLocationWeight  float64
}

// DefaultConfig returns limits and weights calibrated for a 0–100 score
// scale with review at 50 and block at 90.
func DefaultConfig() Config {
	return Config{
		HourlyCountLimit:  10,
		HourlyAmountLimit: 10000,
		DailyCountLimit:   50,
		DailyAmountLimit:  50000,
		DeviationRatio:    3,
		DeviationStdDevs:  3,

		HourlyCountWeight:  25,
		HourlyAmountWeight: 25,
		DailyCountWeight:   15,
		DailyAmountWeight:  15,
		DeviationWeight:    20,
		NewDeviceWeight:    15,
		NewLocationWeight:  10,
	}
}

// Default returns the built-in rule list in its canonical order.
func Default(cfg Config) []Rule {
	return []Rule{
		&velocityCountRule{name: "hourly_velocity", window: signal.CountHourly, limit: cfg.HourlyCountLimit, weight: cfg.HourlyCountWeight},
		&velocityAmountRule{name: "hourly_volume", window: signal.AmountHourly, limit: cfg.HourlyAmountLimit, weight: cfg.HourlyAmountWeight},
		&velocityCountRule{name: "daily_velocity", window: signal.CountDaily, limit: cfg.DailyCountLimit, weight: cfg.DailyCountWeight},
		&velocityAmountRule{name: "daily_volume", window: signal.AmountDaily, limit: cfg.DailyAmountLimit, weight: cfg.DailyAmountWeight},
		&deviationRule{ratio: cfg.DeviationRatio, stdDevs: cfg.DeviationStdDevs, weight: cfg.DeviationWeight},
		&flagRule{name: "new_device", flag: signal.NewDevice, weight: cfg.NewDeviceWeight},
		&flagRule{name: "new_location", flag: signal.NewLocation, weight: cfg.NewLocationWeight},
	}
}

// severity grades how far past a limit a value landed, in [1, maxSeverity].
func severity(value, limit float64) float64 {
	if limit <= 0 {
		return 1
	}
	return math.Min(value/limit, maxSeverity)
}

// velocityCountRule triggers when the projected transaction count in a
// window reaches its limit. The projection includes the event being scored.
type velocityCountRule struct {
	name   string
	window string
	limit  float64
	weight float64
}

func (r *velocityCountRule) Name() string    { return r.name }
func (r *velocityCountRule) Weight() float64 { return r.weight }

func (r *velocityCountRule) Evaluate(s signal.Set) (bool, float64) {
	projected := s.Num(r.window) + 1
	if r.limit <= 0 || projected < r.limit {
		return false, 0
	}
	return true, severity(projected, r.limit)
}

// velocityAmountRule triggers when the projected amount total in a window
// reaches its limit.
type velocityAmountRule struct {
	name   string
	window string
	limit  float64
	weight float64
}

func (r *velocityAmountRule) Name() string    { return r.name }
func (r *velocityAmountRule) Weight() float64 { return r.weight }

func (r *velocityAmountRule) Evaluate(s signal.Set) (bool, float64) {
	projected := s.Num(r.window) + s.Num(signal.Amount)
	if r.limit <= 0 || projected < r.limit {
		return false, 0
	}
	return true, severity(projected, r.limit)
}

// deviationRule triggers when the amount departs from the entity's
// historical norm: either a fixed multiple of the mean, or a stddev
// multiple when enough history exists to define one.
type deviationRule struct {
	ratio   float64
	stdDevs float64
	weight  float64
}

func (r *deviationRule) Name() string    { return "amount_deviation" }
func (r *deviationRule) Weight() float64 { return r.weight }

func (r *deviationRule) Evaluate(s signal.Set) (bool, float64) {
	meanRatio := s.Num(signal.MeanRatio)
	stdDevs := s.Num(signal.StdDevs)

	byRatio := r.ratio > 0 && meanRatio >= r.ratio
	byStdDev := r.stdDevs > 0 && s.Num(signal.HistStdDev) > 0 && stdDevs >= r.stdDevs
	if !byRatio && !byStdDev {
		return false, 0
	}
	return true, severity(meanRatio, r.ratio)
}

// flagRule triggers on a boolean signal with a fixed contribution of 1.
type flagRule struct {
	name   string
	flag   string
	weight float64
}

func (r *flagRule) Name() string    { return r.name }
func (r *flagRule) Weight() float64 { return r.weight }

func (r *flagRule) Evaluate(s signal.Set) (bool, float64) {
	if !s.Flag(r.flag) {
		return false, 0
	}
	return true, 1
}
