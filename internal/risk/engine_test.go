package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/slopewatch/internal/models"
)

func TestNewEngineDefaults(t *testing.T) {
	e, err := NewEngine(Options{})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultWeights(), e.Weights())
}

func TestNewEngineRejectsBadCalibration(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{
			name: "weights drift",
			opts: Options{Weights: models.FactorWeights{
				models.SoilMoisture: 0.4, models.SlopeAngle: 0.4, models.Rainfall24h: 0.4, models.GroundVibration: 0.4,
			}},
		},
		{
			name: "zero width range",
			opts: Options{Ranges: map[models.Factor]models.FactorRange{
				models.SlopeAngle: {StartRisk: 30, DangerThreshold: 30},
			}},
		},
		{
			name: "unknown factor range",
			opts: Options{Ranges: map[models.Factor]models.FactorRange{
				"humidity": {StartRisk: 0, DangerThreshold: 1},
			}},
		},
		{
			name: "negative horizon",
			opts: Options{Horizons: []float64{1, -3}},
		},
		{
			name: "non-positive gain",
			opts: Options{Calibration: Calibration{Baseline: 0.1, Gain: 0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestEngineAssess(t *testing.T) {
	e, err := NewEngine(Options{})
	require.NoError(t, err)

	a := e.Assess(referenceSnapshot())
	require.NoError(t, a.Validate())

	assert.NotEmpty(t, a.ID)
	assert.InDelta(t, 0.488, a.WeightedScore, 1e-9)
	assert.InDelta(t, 0.629, a.Probability, 1e-3)
	assert.Equal(t, models.BandElevated, a.Band)
	assert.Equal(t, models.Rainfall24h, a.DominantFactorKey)

	require.Len(t, a.Forecasts, 3)
	assert.Equal(t, []float64{1, 3, 6}, []float64{a.Forecasts[0].HoursAhead, a.Forecasts[1].HoursAhead, a.Forecasts[2].HoursAhead})

	require.Len(t, a.Factors, 4)
	soil, ok := a.Factor(models.SoilMoisture)
	require.True(t, ok)
	assert.Equal(t, "80%", soil.DisplayValue)
	assert.InDelta(t, 0.12, soil.Contribution, 1e-9)
}

func TestEngineAssessSanitizesNaN(t *testing.T) {
	e, err := NewEngine(Options{})
	require.NoError(t, err)

	s := referenceSnapshot()
	s.GroundVibration = math.NaN()
	a := e.Assess(s)

	vib, ok := a.Factor(models.GroundVibration)
	require.True(t, ok)
	assert.Equal(t, 0.0, vib.NormalizedLevel)
	assert.Equal(t, "n/a", vib.DisplayValue)
	assert.NoError(t, a.Validate())
}

func TestEngineCustomCalibration(t *testing.T) {
	e, err := NewEngine(Options{
		Horizons:    []float64{2},
		Calibration: Calibration{Baseline: 0.1, Gain: 0.5},
	})
	require.NoError(t, err)

	a := e.Assess(models.SensorSnapshot{})
	assert.InDelta(t, 0.1, a.Probability, 1e-12)
	require.Len(t, a.Forecasts, 1)
	assert.Equal(t, 2.0, a.Forecasts[0].HoursAhead)
}
