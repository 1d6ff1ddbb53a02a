// Package trigger decides when a risk assessment should alert the user.
//
// Two independent one-shot latches fire at most once per sustained condition
// and re-arm only after the condition clears by a hysteresis margin:
//
//	proximity: fire when distance ≤ 100 m;             re-arm when distance > 120 m
//	push:      fire when distance ≤ 100 m and p ≥ 0.70; re-arm when distance > 100 m or p < 0.60
//
// The margins keep a device hovering at a threshold from flapping alerts.
package trigger

import (
	"math"

	"github.com/rewired-gh/slopewatch/internal/models"
)

// Thresholds configures both latches.
type Thresholds struct {
	ProximityMeters           float64
	ProximityHysteresisMeters float64
	PushRisk                  float64
	PushHysteresis            float64
}

// DefaultThresholds returns the 100 m / 20 m and 0.70 / 0.10 settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ProximityMeters:           100,
		ProximityHysteresisMeters: 20,
		PushRisk:                  0.70,
		PushHysteresis:            0.10,
	}
}

// Decision reports which latches fired on one evaluation.
type Decision struct {
	Proximity bool
	Push      bool
}

// Any reports whether at least one latch fired.
func (d Decision) Any() bool { return d.Proximity || d.Push }

// Policy holds the two latches. It is owned by a single evaluating goroutine
// and has no internal locking.
type Policy struct {
	th                Thresholds
	proximityNotified bool
	pushSent          bool
}

// NewPolicy returns a policy with both latches armed. A zero Thresholds value
// takes the defaults; individual non-positive arm thresholds do too.
func NewPolicy(th Thresholds) *Policy {
	def := DefaultThresholds()
	if th == (Thresholds{}) {
		th = def
	}
	if th.ProximityMeters <= 0 {
		th.ProximityMeters = def.ProximityMeters
	}
	if th.ProximityHysteresisMeters < 0 {
		th.ProximityHysteresisMeters = def.ProximityHysteresisMeters
	}
	if th.PushRisk <= 0 {
		th.PushRisk = def.PushRisk
	}
	if th.PushHysteresis < 0 {
		th.PushHysteresis = def.PushHysteresis
	}
	return &Policy{th: th}
}

// Thresholds returns the active configuration.
func (p *Policy) Thresholds() Thresholds { return p.th }

// Evaluate advances both latches for the latest distance and probability.
// A NaN distance counts as far away and a NaN probability as no risk.
func (p *Policy) Evaluate(distanceMeters, probability float64) Decision {
	if math.IsNaN(distanceMeters) {
		distanceMeters = models.MaxDistanceMeters
	}
	if math.IsNaN(probability) {
		probability = 0
	}

	var d Decision
	near := distanceMeters <= p.th.ProximityMeters

	switch {
	case near && !p.proximityNotified:
		p.proximityNotified = true
		d.Proximity = true
	case p.proximityNotified && distanceMeters > p.th.ProximityMeters+p.th.ProximityHysteresisMeters:
		p.proximityNotified = false
	}

	switch {
	case near && probability >= p.th.PushRisk && !p.pushSent:
		p.pushSent = true
		d.Push = true
	case p.pushSent && (!near || probability < p.th.PushRisk-p.th.PushHysteresis):
		p.pushSent = false
	}

	return d
}

// Latches returns the current latch values.
func (p *Policy) Latches() (proximityNotified, pushSent bool) {
	return p.proximityNotified, p.pushSent
}

// Reset re-arms both latches, e.g. at logout.
func (p *Policy) Reset() {
	p.proximityNotified = false
	p.pushSent = false
}
