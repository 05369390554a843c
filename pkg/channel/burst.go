package channel

import (
	"math"
	"time"

	"github.com/relaycrew/relay/pkg/store"
)

// Burst/cooldown gating constants. A handful of interventions in quick
// succession is fine; past the ceiling the channel gets silence.
const (
	burstFloor   = 3
	burstCeiling = 7
	burstGap     = 5 * time.Minute

	burstPassThreshold    = 0.35
	interventionThreshold = 0.3
)

// Decision is the outcome of one intervention gate evaluation.
type Decision struct {
	Fire        bool
	Probability float64
	RecentCount int
	InBurst     bool
	Reason      string
}

// Gate decides whether an intervention of the given importance (1-10) may
// fire, based on the channel's recent intervention history.
//
// Below the burst floor the probability has a guaranteed high baseline; at
// or past the ceiling it is zero. In between, a sigmoid that rises with
// importance and elapsed time and falls with recent count. Inside a burst
// window the probability itself is the judgment; outside, it is scaled by
// importance/10 against the intervention threshold.
func Gate(history []store.InterventionEvent, importance int, now time.Time) Decision {
	recent := 0
	var last time.Time
	for _, e := range history {
		if now.Sub(e.At) <= burstGap {
			recent++
		}
		if e.At.After(last) {
			last = e.At
		}
	}

	if recent >= burstCeiling {
		return Decision{Probability: 0, RecentCount: recent, InBurst: true, Reason: "blocked at ceiling"}
	}

	p := probability(recent, importance, last, now)
	inBurst := !last.IsZero() && now.Sub(last) <= burstGap

	if inBurst {
		if p >= burstPassThreshold {
			return Decision{Fire: true, Probability: p, RecentCount: recent, InBurst: true, Reason: "burst pass"}
		}
		return Decision{Probability: p, RecentCount: recent, InBurst: true, Reason: "burst suppressed"}
	}

	score := float64(importance) / 10 * p
	if score >= interventionThreshold {
		return Decision{Fire: true, Probability: p, RecentCount: recent, Reason: "cooldown pass"}
	}
	return Decision{Probability: p, RecentCount: recent, Reason: "cooldown suppressed"}
}

func probability(recent, importance int, last, now time.Time) float64 {
	if recent < burstFloor {
		return clamp01(0.75 + float64(importance)/40)
	}
	minutes := burstGap.Minutes()
	if !last.IsZero() {
		minutes = now.Sub(last).Minutes()
	}
	x := 0.6*float64(importance) + 1.2*minutes - 1.5*float64(recent) - 3.0
	return clamp01(1 / (1 + math.Exp(-x)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
