// Package models defines the core domain entities for slopewatch.
// These models represent station sensor snapshots, factor calibration, risk
// assessments, field-check samples, and outgoing notifications.
// Models that cross a trust boundary carry a Validate method.
//
// Terminology:
//   - Factor: one of the four environmental inputs scored for landslide risk.
//   - Snapshot: a complete set of factor readings, always replaced as a whole.
//   - Assessment: the scored result of one snapshot (probability, band, forecast).
package models

import (
	"errors"
	"fmt"
	"math"
)

// Factor identifies one environmental input of the risk score.
type Factor string

const (
	SoilMoisture    Factor = "soilMoisture"
	SlopeAngle      Factor = "slopeAngle"
	Rainfall24h     Factor = "rainfall24h"
	GroundVibration Factor = "groundVibration"
)

// Factors is the canonical iteration order. Ties in dominant-factor selection
// resolve to the earliest entry.
var Factors = []Factor{SoilMoisture, SlopeAngle, Rainfall24h, GroundVibration}

// Unit returns the display unit of the factor's raw reading.
func (f Factor) Unit() string {
	switch f {
	case SoilMoisture:
		return "%"
	case SlopeAngle:
		return "°"
	case Rainfall24h:
		return "mm"
	case GroundVibration:
		return "cm/s²"
	default:
		return ""
	}
}

// Format renders a raw reading for display, e.g. "80%", "35°", "150 mm", "5.0 cm/s²".
func (f Factor) Format(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	switch f {
	case SoilMoisture:
		return fmt.Sprintf("%.0f%%", v)
	case SlopeAngle:
		return fmt.Sprintf("%.0f°", v)
	case Rainfall24h:
		return fmt.Sprintf("%.0f mm", v)
	case GroundVibration:
		return fmt.Sprintf("%.1f cm/s²", v)
	default:
		return fmt.Sprintf("%g", v)
	}
}

// Valid reports whether f is one of the four known factors.
func (f Factor) Valid() bool {
	for _, k := range Factors {
		if k == f {
			return true
		}
	}
	return false
}

// FactorRange holds the linear ramp used to normalize a raw reading.
// Values at or below StartRisk normalize to 0, at or above DangerThreshold to 1.
type FactorRange struct {
	StartRisk       float64 `json:"start_risk" mapstructure:"start_risk"`
	DangerThreshold float64 `json:"danger_threshold" mapstructure:"danger_threshold"`
}

// Validate checks that the ramp has a non-zero width.
func (r FactorRange) Validate() error {
	if math.IsNaN(r.StartRisk) || math.IsNaN(r.DangerThreshold) {
		return errors.New("range bounds must be numbers")
	}
	if r.DangerThreshold == r.StartRisk {
		return errors.New("danger threshold must differ from start risk")
	}
	return nil
}

// DefaultRanges returns the station's calibrated normalization ramps.
func DefaultRanges() map[Factor]FactorRange {
	return map[Factor]FactorRange{
		SoilMoisture:    {StartRisk: 60, DangerThreshold: 100},
		SlopeAngle:      {StartRisk: 25, DangerThreshold: 45},
		Rainfall24h:     {StartRisk: 80, DangerThreshold: 200},
		GroundVibration: {StartRisk: 4, DangerThreshold: 6.5},
	}
}

// weightSumTolerance absorbs float drift when weights are edited by hand.
const weightSumTolerance = 1e-6

// FactorWeights maps each factor to its share of the weighted score.
type FactorWeights map[Factor]float64

// DefaultWeights returns the calibrated factor weights. They sum to 1.0.
func DefaultWeights() FactorWeights {
	return FactorWeights{
		SoilMoisture:    0.24,
		SlopeAngle:      0.20,
		Rainfall24h:     0.24,
		GroundVibration: 0.32,
	}
}

// Sum returns the total of all weights in canonical order.
func (w FactorWeights) Sum() float64 {
	var sum float64
	for _, f := range Factors {
		sum += w[f]
	}
	return sum
}

// Validate checks that every factor has a non-negative weight and that the
// weights sum to 1.0. A drifted sum silently miscalibrates the probability.
func (w FactorWeights) Validate() error {
	for f := range w {
		if !f.Valid() {
			return fmt.Errorf("unknown factor %q", f)
		}
	}
	for _, f := range Factors {
		v, ok := w[f]
		if !ok {
			return fmt.Errorf("missing weight for %s", f)
		}
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("weight for %s must be non-negative", f)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}
