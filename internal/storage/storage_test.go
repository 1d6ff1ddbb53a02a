package storage

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/slopewatch/internal/models"
)

func testAssessment(at time.Time, p float64) models.Assessment {
	return models.Assessment{
		ID:                uuid.New().String(),
		Probability:       p,
		WeightedScore:     0.4,
		Band:              models.BandCaution,
		DominantFactorKey: models.SoilMoisture,
		AssessedAt:        at,
	}
}

func TestStorage_LastSnapshot(t *testing.T) {
	s := New(10, "", 0, 0)

	if _, ok := s.LastSnapshot(); ok {
		t.Fatal("expected no snapshot in fresh storage")
	}

	snap := models.SensorSnapshot{SoilMoisture: 70, SlopeAngle: 30, Rainfall24h: 20, GroundVibration: 1, Source: models.SourceRemote}
	if err := s.SetLastSnapshot(snap); err != nil {
		t.Fatalf("SetLastSnapshot failed: %v", err)
	}

	got, ok := s.LastSnapshot()
	if !ok {
		t.Fatal("expected snapshot")
	}
	if got.SoilMoisture != 70 || got.Source != models.SourceRemote {
		t.Errorf("unexpected snapshot: %+v", got)
	}

	if err := s.SetLastSnapshot(models.SensorSnapshot{SoilMoisture: 140}); err == nil {
		t.Error("expected error for invalid snapshot")
	}
}

func TestStorage_AssessmentHistory(t *testing.T) {
	s := New(3, "", 0, 0)
	now := time.Now()

	for i := 0; i < 5; i++ {
		a := testAssessment(now.Add(time.Duration(i)*time.Minute), 0.3+float64(i)*0.1)
		if err := s.AddAssessment(&a); err != nil {
			t.Fatalf("AddAssessment failed: %v", err)
		}
	}

	s.RotateAssessments()
	recent := s.GetRecentAssessments(10)
	if len(recent) != 3 {
		t.Fatalf("expected 3 assessments after rotation, got %d", len(recent))
	}
	if !recent[0].AssessedAt.After(recent[1].AssessedAt) {
		t.Error("expected newest first")
	}
	if recent[2].Probability < 0.49 || recent[2].Probability > 0.51 {
		t.Errorf("expected oldest kept probability 0.5, got %f", recent[2].Probability)
	}

	bad := testAssessment(now, 1.5)
	if err := s.AddAssessment(&bad); err == nil {
		t.Error("expected error for out of range probability")
	}
}

func TestStorage_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "slopewatch.json")

	s := New(10, path, 0o600, 0o755)
	snap := models.SensorSnapshot{SoilMoisture: 88, SlopeAngle: 33, Rainfall24h: 120, GroundVibration: 4.5, Source: models.SourceRemote}
	if err := s.SetLastSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	s.SetPushToken("123456789")
	a := testAssessment(time.Now(), 0.61)
	if err := s.AddAssessment(&a); err != nil {
		t.Fatal(err)
	}

	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after save")
	}

	restored := New(10, path, 0o600, 0o755)
	if err := restored.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	got, ok := restored.LastSnapshot()
	if !ok {
		t.Fatal("expected restored snapshot")
	}
	if got.SoilMoisture != 88 || got.GroundVibration != 4.5 {
		t.Errorf("unexpected restored snapshot: %+v", got)
	}
	if got.Source != models.SourceStored {
		t.Errorf("restored snapshot source = %q, expected stored", got.Source)
	}
	if restored.PushToken() != "123456789" {
		t.Errorf("push token = %q", restored.PushToken())
	}
	if n := len(restored.GetRecentAssessments(5)); n != 1 {
		t.Errorf("expected 1 restored assessment, got %d", n)
	}
}

func TestStorage_LoadMissingFileAndStaleTemp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path+".tmp", []byte("{partial"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := New(10, path, 0, 0)
	if err := s.Load(); err != nil {
		t.Fatalf("Load of missing file should succeed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("stale temp file should be removed")
	}
}

func TestStorage_LoadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"version":"9.9","assessments":[]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := New(10, path, 0, 0).Load(); err == nil {
		t.Error("expected version error")
	}
}

func TestStorage_Clear(t *testing.T) {
	s := New(10, "", 0, 0)
	_ = s.SetLastSnapshot(models.SensorSnapshot{SoilMoisture: 10})
	s.SetPushToken("abc")
	a := testAssessment(time.Now(), 0.2)
	_ = s.AddAssessment(&a)

	s.Clear()
	if s.PushToken() != "" {
		t.Error("push token should be cleared")
	}
	if len(s.GetRecentAssessments(10)) != 0 {
		t.Error("history should be cleared")
	}
	if _, ok := s.LastSnapshot(); !ok {
		t.Error("last known snapshot should survive Clear")
	}
}

func TestStorage_MemoryOnlySaveIsNoop(t *testing.T) {
	s := New(10, "", 0, 0)
	if err := s.Save(); err != nil {
		t.Errorf("Save: %v", err)
	}
	if err := s.Load(); err != nil {
		t.Errorf("Load: %v", err)
	}
}

func TestStorage_NaNReadingSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s := New(10, path, 0, 0)
	snap := models.SensorSnapshot{SoilMoisture: 70, SlopeAngle: 30, Rainfall24h: math.NaN(), GroundVibration: 1}
	if err := s.SetLastSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := New(10, path, 0, 0)
	if err := restored.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got, ok := restored.LastSnapshot()
	if !ok {
		t.Fatal("expected restored snapshot")
	}
	if !math.IsNaN(got.Rainfall24h) {
		t.Errorf("unknown rainfall should stay unknown after restart, got %v", got.Rainfall24h)
	}
	if got := models.Rainfall24h.Format(got.Rainfall24h); got != "n/a" {
		t.Errorf("restored rainfall displays as %q", got)
	}
}
