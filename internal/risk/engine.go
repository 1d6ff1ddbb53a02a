package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/slopewatch/internal/models"
)

// Options configures an Engine. Zero-valued fields take the calibrated defaults.
type Options struct {
	Ranges      map[models.Factor]models.FactorRange
	Weights     models.FactorWeights
	Horizons    []float64
	Calibration Calibration
}

// Engine runs the full scoring pipeline for one snapshot:
// normalize → aggregate → classify → project → select dominant.
// It holds only validated, read-only calibration and is safe for concurrent use.
type Engine struct {
	ranges      map[models.Factor]models.FactorRange
	weights     models.FactorWeights
	horizons    []float64
	calibration Calibration
	now         func() time.Time
}

// NewEngine validates opts and returns an Engine.
func NewEngine(opts Options) (*Engine, error) {
	ranges := models.DefaultRanges()
	for f, r := range opts.Ranges {
		if !f.Valid() {
			return nil, fmt.Errorf("unknown factor %q in ranges", f)
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("invalid range for %s: %w", f, err)
		}
		ranges[f] = r
	}

	weights := opts.Weights
	if len(weights) == 0 {
		weights = models.DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weights: %w", err)
	}

	horizons := opts.Horizons
	if len(horizons) == 0 {
		horizons = DefaultHorizons
	}
	for _, h := range horizons {
		if h < 0 || math.IsNaN(h) {
			return nil, fmt.Errorf("invalid forecast horizon %v: must be non-negative", h)
		}
	}

	cal := opts.Calibration
	if cal == (Calibration{}) {
		cal = DefaultCalibration()
	}
	if cal.Gain <= 0 {
		return nil, fmt.Errorf("invalid calibration gain %v: must be positive", cal.Gain)
	}

	return &Engine{
		ranges:      ranges,
		weights:     weights,
		horizons:    append([]float64(nil), horizons...),
		calibration: cal,
		now:         time.Now,
	}, nil
}

// Weights returns the engine's factor weights.
func (e *Engine) Weights() models.FactorWeights {
	out := make(models.FactorWeights, len(e.weights))
	for f, w := range e.weights {
		out[f] = w
	}
	return out
}

// Levels normalizes a snapshot with the engine's ranges.
func (e *Engine) Levels(s models.SensorSnapshot) Levels {
	return NormalizeSnapshot(s, e.ranges)
}

// Assess scores a snapshot. The whole pipeline runs against the single value
// passed in, so a result never mixes readings from two snapshots.
func (e *Engine) Assess(s models.SensorSnapshot) models.Assessment {
	levels := e.Levels(s)
	score := Aggregate(levels, e.weights)
	p := e.calibration.Probability(score)

	factors := make([]models.FactorReading, 0, len(models.Factors))
	for _, f := range models.Factors {
		factors = append(factors, models.FactorReading{
			Key:             f,
			NormalizedLevel: levels[f],
			DisplayValue:    f.Format(s.Value(f)),
			Weight:          e.weights[f],
			Contribution:    levels[f] * e.weights[f],
		})
	}

	return models.Assessment{
		ID:                uuid.New().String(),
		Probability:       p,
		WeightedScore:     score,
		Band:              Classify(p),
		Forecasts:         Project(p, levels, e.horizons),
		Factors:           factors,
		DominantFactorKey: SelectDominant(levels, e.weights),
		Snapshot:          s,
		AssessedAt:        e.now(),
	}
}
