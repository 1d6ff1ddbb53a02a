// Package groundtruth estimates how far a station's fixed readings can be
// trusted, based on an on-site field check with the phone resting on the ground.
//
// A field check samples the accelerometer every 100 ms for up to five minutes.
// The trust score falls as the average combined-axis magnitude rises:
//
//	score = round(clamp(100 − mean(|ax|+|ay|+|az|) × 40, 0, 100))
//
// A calm placement scores near 100; sustained movement drives it to 0.
// Only the most recent samples (300 by default) count toward the score.
package groundtruth

import (
	"math"

	"github.com/rewired-gh/slopewatch/internal/models"
)

// magnitudePenalty is the trust lost per unit of average magnitude.
const magnitudePenalty = 40.0

// DefaultBufferSize is the number of recent samples kept for scoring.
const DefaultBufferSize = 300

// EstimateTrust returns the 0–100 trust score for samples. ok is false when
// there are no samples yet, which is distinct from a computed score of 0.
func EstimateTrust(samples []models.GroundSample) (score int, ok bool) {
	if len(samples) == 0 {
		return 0, false
	}

	var total float64
	for _, s := range samples {
		total += s.Magnitude()
	}
	avg := total / float64(len(samples))

	raw := math.Max(0, math.Min(100, 100-avg*magnitudePenalty))
	if math.IsNaN(raw) {
		return 0, true
	}
	return int(math.Round(raw)), true
}
