// Package risk turns a station snapshot into a landslide-risk assessment.
//
// Every factor is normalized onto [0,1] with a linear ramp, then combined:
//
//	weightedScore = Σ level[f] × weight[f]
//	probability   = clamp(0.18 + weightedScore × 0.92, 0, 1)
//
// The 0.18 baseline keeps a residual risk on screen even for a dry, flat, quiet
// site; the 0.92 gain still lets a saturated score reach 100%. Both constants
// and the forecast pressure weights are empirical calibration values, not
// physical constants.
//
// Probabilities map onto five ordered bands and are extrapolated over short
// horizons using the slow-moving factors (rainfall, slope, saturation) only.
// All functions here are pure; Engine composes them for one snapshot at a time.
package risk

import (
	"math"

	"github.com/rewired-gh/slopewatch/internal/models"
)

// Default calibration of the probability transform.
const (
	DefaultBaseline = 0.18
	DefaultGain     = 0.92
)

// Band lower bounds, inclusive.
const (
	CautionThreshold  = 0.28
	ElevatedThreshold = 0.45
	HighThreshold     = 0.65
	DangerThreshold   = 0.80
)

// Forecast pressure weights. Ground vibration is instantaneous and never
// drives the trend.
const (
	rainfallPressure = 0.18
	slopePressure    = 0.12
	soilPressure     = 0.10

	// pressureHorizonHours is the horizon at which the full pressure applies.
	pressureHorizonHours = 6.0
)

// DefaultHorizons are the forecast offsets in hours.
var DefaultHorizons = []float64{1, 3, 6}

// Levels holds one normalized risk level per factor.
type Levels map[models.Factor]float64

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Normalize maps raw onto [0,1] along the ramp from startRisk to dangerThreshold.
// A non-finite reading is replaced by 0 before it enters the ramp. A zero-width
// ramp yields 0; ranges are validated when an Engine is built.
func Normalize(raw, startRisk, dangerThreshold float64) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		raw = 0
	}
	span := dangerThreshold - startRisk
	if span == 0 {
		return 0
	}
	return clamp((raw-startRisk)/span, 0, 1)
}

// NormalizeSnapshot normalizes every factor of s. Factors without a configured
// range fall back to the default ramp.
func NormalizeSnapshot(s models.SensorSnapshot, ranges map[models.Factor]models.FactorRange) Levels {
	defaults := models.DefaultRanges()
	levels := make(Levels, len(models.Factors))
	for _, f := range models.Factors {
		r, ok := ranges[f]
		if !ok {
			r = defaults[f]
		}
		levels[f] = Normalize(s.Value(f), r.StartRisk, r.DangerThreshold)
	}
	return levels
}

// Aggregate returns Σ level×weight over the four factors in canonical order.
// The result stays in [0,1] as long as weights sum to 1 and levels are in [0,1].
func Aggregate(levels Levels, weights models.FactorWeights) float64 {
	var score float64
	for _, f := range models.Factors {
		score += levels[f] * weights[f]
	}
	return score
}

// Calibration is the affine transform from weighted score to probability.
type Calibration struct {
	Baseline float64
	Gain     float64
}

// DefaultCalibration returns the 0.18 / 0.92 transform.
func DefaultCalibration() Calibration {
	return Calibration{Baseline: DefaultBaseline, Gain: DefaultGain}
}

// Probability returns clamp(Baseline + score×Gain, 0, 1).
func (c Calibration) Probability(weightedScore float64) float64 {
	return clamp(c.Baseline+weightedScore*c.Gain, 0, 1)
}

// ToProbability applies the default calibration.
func ToProbability(weightedScore float64) float64 {
	return DefaultCalibration().Probability(weightedScore)
}

// Classify maps a probability to its band. Thresholds are inclusive lower
// bounds checked from the top, so a value exactly on a boundary takes the
// higher band. NaN classifies as Stable.
func Classify(p float64) models.RiskBand {
	switch {
	case p >= DangerThreshold:
		return models.BandDanger
	case p >= HighThreshold:
		return models.BandHigh
	case p >= ElevatedThreshold:
		return models.BandElevated
	case p >= CautionThreshold:
		return models.BandCaution
	default:
		return models.BandStable
	}
}

// Pressure is the per-six-hours growth rate of the probability.
func Pressure(levels Levels) float64 {
	return levels[models.Rainfall24h]*rainfallPressure +
		levels[models.SlopeAngle]*slopePressure +
		levels[models.SoilMoisture]*soilPressure
}

// Project extrapolates p linearly over each horizon:
//
//	projected = clamp(p + (h/6) × pressure, 0, 1)
//
// Output order matches horizons.
func Project(p float64, levels Levels, horizons []float64) []models.Forecast {
	pressure := Pressure(levels)
	forecasts := make([]models.Forecast, 0, len(horizons))
	for _, h := range horizons {
		projected := clamp(p+(h/pressureHorizonHours)*pressure, 0, 1)
		forecasts = append(forecasts, models.Forecast{
			HoursAhead:           h,
			ProjectedProbability: projected,
			Band:                 Classify(projected),
		})
	}
	return forecasts
}

// SelectDominant returns the factor with the largest level×weight. Ties go to
// the factor that comes first in models.Factors.
func SelectDominant(levels Levels, weights models.FactorWeights) models.Factor {
	best := models.Factors[0]
	bestScore := math.Inf(-1)
	for _, f := range models.Factors {
		score := levels[f] * weights[f]
		if score > bestScore {
			best = f
			bestScore = score
		}
	}
	return best
}
