package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"
)

// SnapshotSource records where a snapshot's readings came from.
type SnapshotSource string

const (
	SourceStatic  SnapshotSource = "static"
	SourceRemote  SnapshotSource = "remote"
	SourceWeather SnapshotSource = "weather"
	SourceStored  SnapshotSource = "stored"
)

// SensorSnapshot is one complete set of station readings. It is a value type:
// new readings produce a new snapshot, fields are never mutated in place.
//
// Readings that arrived as non-numbers are kept as NaN; the normalizer treats
// them as zero risk.
type SensorSnapshot struct {
	SoilMoisture    float64        // percent
	SlopeAngle      float64        // degrees
	Rainfall24h     float64        // millimetres over the last 24 hours
	GroundVibration float64        // cm/s²
	Source          SnapshotSource // origin of the readings
	ObservedAt      time.Time
}

// Value returns the raw reading for a factor. Unknown factors read as NaN.
func (s SensorSnapshot) Value(f Factor) float64 {
	switch f {
	case SoilMoisture:
		return s.SoilMoisture
	case SlopeAngle:
		return s.SlopeAngle
	case Rainfall24h:
		return s.Rainfall24h
	case GroundVibration:
		return s.GroundVibration
	default:
		return math.NaN()
	}
}

// WithRainfall returns a copy of s with the rainfall reading replaced.
// This is the only partial update the live weather feed is allowed to make.
func (s SensorSnapshot) WithRainfall(mm float64, at time.Time) SensorSnapshot {
	s.Rainfall24h = mm
	s.Source = SourceWeather
	s.ObservedAt = at
	return s
}

// Validate rejects snapshots whose readings are physically impossible.
// NaN readings are accepted because the scoring pipeline sanitizes them.
func (s *SensorSnapshot) Validate() error {
	if s.SoilMoisture < 0 || s.SoilMoisture > 100 {
		return errors.New("soil moisture must be between 0 and 100")
	}
	if s.SlopeAngle < 0 || s.SlopeAngle > 90 {
		return errors.New("slope angle must be between 0 and 90 degrees")
	}
	if s.Rainfall24h < 0 {
		return errors.New("rainfall must not be negative")
	}
	if s.GroundVibration < 0 {
		return errors.New("ground vibration must not be negative")
	}
	if s.ObservedAt.After(time.Now().Add(time.Minute)) {
		return errors.New("observed at must not be in the future")
	}
	return nil
}

type snapshotJSON struct {
	SoilMoisture    *float64       `json:"soilMoisture"`
	SlopeAngle      *float64       `json:"slopeAngle"`
	Rainfall24h     *float64       `json:"rainfall24h"`
	GroundVibration *float64       `json:"groundVibration"`
	Source          SnapshotSource `json:"source,omitempty"`
	ObservedAt      time.Time      `json:"observedAt"`
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// MarshalJSON writes non-finite readings as null.
func (s SensorSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		SoilMoisture:    nullable(s.SoilMoisture),
		SlopeAngle:      nullable(s.SlopeAngle),
		Rainfall24h:     nullable(s.Rainfall24h),
		GroundVibration: nullable(s.GroundVibration),
		Source:          s.Source,
		ObservedAt:      s.ObservedAt,
	})
}

// UnmarshalJSON decodes a snapshot payload leniently. Keys absent from the
// payload keep the receiver's current value, so decoding into a copy of a base
// snapshot yields a complete override. Present keys holding null, a boolean, or
// a non-numeric string decode to NaN. Numeric strings are accepted.
func (s *SensorSnapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	fields := map[string]*float64{
		string(SoilMoisture):    &s.SoilMoisture,
		string(SlopeAngle):      &s.SlopeAngle,
		string(Rainfall24h):     &s.Rainfall24h,
		string(GroundVibration): &s.GroundVibration,
	}
	for key, dst := range fields {
		msg, ok := raw[key]
		if !ok {
			continue
		}
		*dst = lenientNumber(msg)
	}

	if msg, ok := raw["source"]; ok {
		var src string
		if err := json.Unmarshal(msg, &src); err == nil {
			s.Source = SnapshotSource(src)
		}
	}
	if msg, ok := raw["observedAt"]; ok {
		var at time.Time
		if err := json.Unmarshal(msg, &at); err == nil {
			s.ObservedAt = at
		}
	}
	return nil
}

func lenientNumber(msg json.RawMessage) float64 {
	msg = bytes.TrimSpace(msg)
	if bytes.Equal(msg, []byte("null")) {
		return math.NaN()
	}
	var f float64
	if err := json.Unmarshal(msg, &f); err == nil {
		return f
	}
	var str string
	if err := json.Unmarshal(msg, &str); err == nil {
		if v, err := strconv.ParseFloat(str, 64); err == nil {
			return v
		}
	}
	return math.NaN()
}
