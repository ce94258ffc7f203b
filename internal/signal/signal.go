// Package signal computes derived fraud signals from a transaction event
// and the entity's current aggregate state.
//
// Extraction is a pure function: the same event and state snapshot always
// produce the same fully populated signal set, so rule evaluation stays
// deterministic and replayable.
package signal

import (
	"time"

	"github.com/settlr/fraud-service/internal/event"
	"github.com/settlr/fraud-service/internal/state"
)

// Numeric signal names. Every extraction populates all of them.
const (
	Amount        = "amount"
	CountHourly   = "count_1h"
	AmountHourly  = "amount_1h"
	CountDaily    = "count_24h"
	AmountDaily   = "amount_24h"
	HistMean      = "hist_mean"
	HistStdDev    = "hist_stddev"
	MeanRatio     = "amount_mean_ratio" // amount / historical mean, 0 if no history
	StdDevs       = "amount_stddevs"    // (amount - mean) / stddev, 0 if undefined
	SinceLastSeen = "since_last_seen_s" // seconds since previous transaction, 0 if first
)

// Boolean signal names.
const (
	FirstSeen   = "first_seen"
	NewDevice   = "new_device"
	NewLocation = "new_location"
)

// Set is the ephemeral signal mapping consumed by the rule evaluator.
// Missing keys read as zero/false, but Extract always writes every key.
type Set struct {
	Numeric map[string]float64
	Flags   map[string]bool
}

// Num returns a numeric signal, 0 if absent.
func (s Set) Num(name string) float64 { return s.Numeric[name] }

// Flag returns a boolean signal, false if absent.
func (s Set) Flag(name string) bool { return s.Flags[name] }

// Windows configures the trailing aggregation windows.
type Windows struct {
	Hourly time.Duration
	Daily  time.Duration
}

// DefaultWindows returns the standard 1h/24h windows.
func DefaultWindows() Windows {
	return Windows{Hourly: time.Hour, Daily: 24 * time.Hour}
}

// Extractor derives signals from events and state snapshots.
type Extractor struct {
	windows Windows
}

// NewExtractor creates an extractor with the given windows.
func NewExtractor(w Windows) *Extractor {
	if w.Hourly <= 0 {
		w.Hourly = time.Hour
	}
	if w.Daily <= 0 {
		w.Daily = 24 * time.Hour
	}
	return &Extractor{windows: w}
}

// Extract computes the signal set for one event against a state snapshot.
// The event's own contribution is NOT in the state yet; rules that reason
// about projected totals add the event amount themselves. The event
// timestamp is the reference "now" so extraction stays pure.
func (x *Extractor) Extract(ev *event.TransactionEvent, st *state.EntityState) Set {
	now := ev.Timestamp

	countH, amountH := st.WindowStats(x.windows.Hourly, now)
	countD, amountD := st.WindowStats(x.windows.Daily, now)
	mean := st.HistoricalMean()
	stddev := st.HistoricalStdDev()

	meanRatio := 0.0
	if mean > 0 {
		meanRatio = ev.Amount / mean
	}
	stdDevs := 0.0
	if stddev > 0 {
		stdDevs = (ev.Amount - mean) / stddev
	}
	sinceLast := 0.0
	if !st.LastSeenAt.IsZero() {
		sinceLast = now.Sub(st.LastSeenAt).Seconds()
	}

	firstSeen := st.LifetimeCount == 0
	newDevice := !firstSeen && ev.Device != "" && st.LastDevice != "" && ev.Device != st.LastDevice
	newLocation := !firstSeen && ev.Location != "" && st.LastLocation != "" && ev.Location != st.LastLocation

	return Set{
		Numeric: map[string]float64{
			Amount:        ev.Amount,
			CountHourly:   float64(countH),
			AmountHourly:  amountH,
			CountDaily:    float64(countD),
			AmountDaily:   amountD,
			HistMean:      mean,
			HistStdDev:    stddev,
			MeanRatio:     meanRatio,
			StdDevs:       stdDevs,
			SinceLastSeen: sinceLast,
		},
		Flags: map[string]bool{
			FirstSeen:   firstSeen,
			NewDevice:   newDevice,
			NewLocation: newLocation,
		},
	}
}
