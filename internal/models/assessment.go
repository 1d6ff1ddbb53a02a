package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RiskBand is an ordered risk category. Higher values are more severe.
type RiskBand int

const (
	BandStable RiskBand = iota
	BandCaution
	BandElevated
	BandHigh
	BandDanger
)

var bandNames = [...]string{"Stable", "Caution", "Elevated", "High", "Danger"}

func (b RiskBand) String() string {
	if b < BandStable || b > BandDanger {
		return fmt.Sprintf("RiskBand(%d)", int(b))
	}
	return bandNames[b]
}

// ParseRiskBand is the inverse of String.
func ParseRiskBand(s string) (RiskBand, error) {
	for i, name := range bandNames {
		if name == s {
			return RiskBand(i), nil
		}
	}
	return BandStable, fmt.Errorf("unknown risk band %q", s)
}

// MarshalJSON encodes the band by name.
func (b RiskBand) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON decodes a band name.
func (b *RiskBand) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRiskBand(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Forecast is the projected risk at a fixed number of hours ahead.
type Forecast struct {
	HoursAhead           float64  `json:"hoursAhead"`
	ProjectedProbability float64  `json:"projectedProbability"`
	Band                 RiskBand `json:"band"`
}

// FactorReading is the per-factor breakdown shown next to the headline score.
type FactorReading struct {
	Key             Factor  `json:"key"`
	NormalizedLevel float64 `json:"normalizedLevel"`
	DisplayValue    string  `json:"displayValue"`
	Weight          float64 `json:"weight"`
	Contribution    float64 `json:"contribution"`
}

// Assessment is the scored result of a single snapshot.
type Assessment struct {
	ID                string          `json:"id"`
	Probability       float64         `json:"probability"`
	WeightedScore     float64         `json:"weightedScore"`
	Band              RiskBand        `json:"band"`
	Forecasts         []Forecast      `json:"forecasts"`
	Factors           []FactorReading `json:"factors"`
	DominantFactorKey Factor          `json:"dominantFactorKey"`
	Snapshot          SensorSnapshot  `json:"snapshot"`
	AssessedAt        time.Time       `json:"assessedAt"`
}

// Validate checks that all assessment fields are within their derived ranges.
func (a *Assessment) Validate() error {
	if a.ID == "" {
		return errors.New("assessment ID must not be empty")
	}
	if a.Probability < 0.0 || a.Probability > 1.0 {
		return errors.New("probability must be between 0.0 and 1.0")
	}
	if a.WeightedScore < 0.0 || a.WeightedScore > 1.0 {
		return errors.New("weighted score must be between 0.0 and 1.0")
	}
	if a.Band < BandStable || a.Band > BandDanger {
		return errors.New("band is out of range")
	}
	if !a.DominantFactorKey.Valid() {
		return errors.New("dominant factor must be a known factor")
	}
	for _, f := range a.Forecasts {
		if f.ProjectedProbability < 0.0 || f.ProjectedProbability > 1.0 {
			return fmt.Errorf("forecast at %gh out of range", f.HoursAhead)
		}
	}
	for _, r := range a.Factors {
		if r.NormalizedLevel < 0.0 || r.NormalizedLevel > 1.0 {
			return fmt.Errorf("level for %s out of range", r.Key)
		}
	}
	return nil
}

// Factor returns the breakdown entry for key, if present.
func (a *Assessment) Factor(key Factor) (FactorReading, bool) {
	for _, r := range a.Factors {
		if r.Key == key {
			return r, true
		}
	}
	return FactorReading{}, false
}
