// Package storage provides thread-safe in-memory state with optional file-based
// persistence. It keeps the last known good station snapshot, the registered
// push token, and a bounded history of recent assessments.
//
// The last known snapshot is the fallback used when remote fetches fail, so it
// survives restarts. Writes are atomic: data goes to a temp file that is then
// renamed over the real one.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/slopewatch/internal/models"
)

const persistenceVersion = "1.0"

// Storage provides thread-safe in-memory storage with file-based persistence
type Storage struct {
	lastSnapshot *models.SensorSnapshot
	pushToken    string
	assessments  []models.Assessment
	mu           sync.RWMutex

	// Configuration
	maxHistory      int
	filePath        string
	filePermissions os.FileMode
	dirPermissions  os.FileMode
}

// PersistenceFile represents the file structure for JSON persistence
type PersistenceFile struct {
	Version      string                 `json:"version"`
	SavedAt      time.Time              `json:"saved_at"`
	LastSnapshot *models.SensorSnapshot `json:"last_snapshot,omitempty"`
	PushToken    string                 `json:"push_token,omitempty"`
	Assessments  []models.Assessment    `json:"assessments"`
}

// New creates a new Storage instance. An empty filePath keeps everything in
// memory and makes Save and Load no-ops.
func New(maxHistory int, filePath string, filePermissions, dirPermissions os.FileMode) *Storage {
	if maxHistory < 1 {
		maxHistory = 1
	}
	if filePermissions == 0 {
		filePermissions = 0o600
	}
	if dirPermissions == 0 {
		dirPermissions = 0o755
	}
	return &Storage{
		assessments:     make([]models.Assessment, 0),
		maxHistory:      maxHistory,
		filePath:        filePath,
		filePermissions: filePermissions,
		dirPermissions:  dirPermissions,
	}
}

// SetLastSnapshot records s as the last known good snapshot.
func (s *Storage) SetLastSnapshot(snapshot models.SensorSnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSnapshot = &snapshot
	return nil
}

// LastSnapshot returns the last known good snapshot, if any.
func (s *Storage) LastSnapshot() (models.SensorSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastSnapshot == nil {
		return models.SensorSnapshot{}, false
	}
	return *s.lastSnapshot, true
}

// SetPushToken stores the device's push token. An empty token clears it.
func (s *Storage) SetPushToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushToken = token
}

// PushToken returns the stored push token, or "" when none is registered.
func (s *Storage) PushToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pushToken
}

// AddAssessment appends an assessment to the history
func (s *Storage) AddAssessment(a *models.Assessment) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid assessment: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.assessments = append(s.assessments, *a)
	return nil
}

// GetRecentAssessments returns up to k assessments, newest first
func (s *Storage) GetRecentAssessments(k int) []models.Assessment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := make([]models.Assessment, len(s.assessments))
	copy(sorted, s.assessments)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AssessedAt.After(sorted[j].AssessedAt)
	})

	if k < 0 {
		k = 0
	}
	if k > len(sorted) {
		k = len(sorted)
	}
	return sorted[:k]
}

// RotateAssessments drops the oldest assessments beyond the history limit
func (s *Storage) RotateAssessments() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.assessments) > s.maxHistory {
		start := len(s.assessments) - s.maxHistory
		kept := make([]models.Assessment, s.maxHistory)
		copy(kept, s.assessments[start:])
		s.assessments = kept
	}
}

// Clear forgets the push token and history, keeping the last known snapshot.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushToken = ""
	s.assessments = make([]models.Assessment, 0)
}

// Save persists storage state to file
func (s *Storage) Save() error {
	if s.filePath == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Create data directory if needed
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, s.dirPermissions); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data := PersistenceFile{
		Version:      persistenceVersion,
		SavedAt:      time.Now(),
		LastSnapshot: s.lastSnapshot,
		PushToken:    s.pushToken,
		Assessments:  s.assessments,
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temporary file first (atomic write)
	tempPath := s.filePath + ".tmp"
	if err := os.WriteFile(tempPath, jsonData, s.filePermissions); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tempPath, s.filePath); err != nil {
		_ = os.Remove(tempPath) // Clean up temp file on rename failure
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Load restores storage state from file
func (s *Storage) Load() error {
	if s.filePath == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Clean up any stale temp files from previous crashes
	tempPath := s.filePath + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		_ = os.Remove(tempPath)
	}

	if _, err := os.Stat(s.filePath); os.IsNotExist(err) {
		// No file to load, start fresh
		return nil
	}

	jsonData, err := os.ReadFile(s.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data PersistenceFile
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	if data.Version != persistenceVersion {
		return fmt.Errorf("unsupported persistence version %q", data.Version)
	}

	if data.LastSnapshot != nil {
		restored := *data.LastSnapshot
		restored.Source = models.SourceStored
		s.lastSnapshot = &restored
	} else {
		s.lastSnapshot = nil
	}
	s.pushToken = data.PushToken
	s.assessments = data.Assessments
	if s.assessments == nil {
		s.assessments = make([]models.Assessment, 0)
	}

	return nil
}
