package groundtruth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/slopewatch/internal/logger"
	"github.com/rewired-gh/slopewatch/internal/models"
)

var (
	// ErrNoConnectivity is returned by Start when the device is offline.
	ErrNoConnectivity = errors.New("no network connection, connect to the internet to start a field check")
	// ErrLocationDenied is returned by Start when location access is not granted.
	ErrLocationDenied = errors.New("location permission denied, allow location access to start a field check")
	// ErrSessionActive is returned by Start while a check is already running.
	ErrSessionActive = errors.New("field check already in progress")
	// ErrNotRecording is returned by Stop when there is nothing to stop.
	ErrNotRecording = errors.New("no field check is recording")
)

// State is the field-check lifecycle state.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StopReason explains why a recording ended.
type StopReason string

const (
	StopManual    StopReason = "manual"
	StopTimeout   StopReason = "timeout"
	StopCancelled StopReason = "cancelled"
)

// Preconditions gate the start of a field check.
type Preconditions interface {
	Connected(ctx context.Context) (bool, error)
	LocationPermitted(ctx context.Context) (bool, error)
}

// AccelerometerSource streams readings at roughly the given interval until ctx
// is done. An error returned before ctx ends is a subscription failure.
type AccelerometerSource interface {
	StreamAcceleration(ctx context.Context, interval time.Duration, emit func(models.GroundSample)) error
}

// LocationSource streams positions at roughly the given interval or after the
// given displacement, until ctx is done.
type LocationSource interface {
	StreamLocation(ctx context.Context, interval time.Duration, minDisplacementMeters float64, emit func(models.GeoPoint)) error
}

// Config holds field-check timing and buffering.
type Config struct {
	Duration              time.Duration
	SampleInterval        time.Duration
	LocationInterval      time.Duration
	MinDisplacementMeters float64
	BufferSize            int
}

// DefaultConfig returns a five-minute check sampling every 100 ms, with
// location fixes every 2 s or 2 m.
func DefaultConfig() Config {
	return Config{
		Duration:              5 * time.Minute,
		SampleInterval:        100 * time.Millisecond,
		LocationInterval:      2 * time.Second,
		MinDisplacementMeters: 2,
		BufferSize:            DefaultBufferSize,
	}
}

// Summary describes a finished recording. Buffers are cleared when a recording
// ends, so this is the only record of its result.
type Summary struct {
	SessionID   string
	TrustScore  int
	HasScore    bool
	SampleCount int
	PointCount  int
	Points      []models.GeoPoint
	StartedAt   time.Time
	Duration    time.Duration
	Reason      StopReason
}

// Session runs one field check at a time. Sensor callbacks arrive on stream
// goroutines; all session state is guarded by mu.
type Session struct {
	cfg   Config
	pre   Preconditions
	accel AccelerometerSource
	loc   LocationSource

	mu            sync.Mutex
	state         State
	id            string
	startedAt     time.Time
	samples       *Ring[models.GroundSample]
	points        []models.GeoPoint
	cancel        context.CancelFunc
	stopRequested bool
	done          chan struct{}
	last          *Summary
	lastErr       error
}

// NewSession creates an idle session. Either source may be nil, in which case
// that stream is skipped.
func NewSession(cfg Config, pre Preconditions, accel AccelerometerSource, loc LocationSource) *Session {
	def := DefaultConfig()
	if cfg.Duration <= 0 {
		cfg.Duration = def.Duration
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.LocationInterval <= 0 {
		cfg.LocationInterval = def.LocationInterval
	}
	if cfg.MinDisplacementMeters < 0 {
		cfg.MinDisplacementMeters = def.MinDisplacementMeters
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	closed := make(chan struct{})
	close(closed)

	return &Session{
		cfg:     cfg,
		pre:     pre,
		accel:   accel,
		loc:     loc,
		state:   StateIdle,
		samples: NewRing[models.GroundSample](cfg.BufferSize),
		done:    closed,
	}
}

// Start checks connectivity and location permission, then begins recording.
// On a failed precondition the session returns to idle and the error carries
// the user-facing reason. Cancelling ctx at any point ends the recording.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateArmed || s.state == StateRecording {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.state = StateArmed
	s.lastErr = nil
	s.mu.Unlock()

	if err := s.checkPreconditions(ctx); err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.lastErr = err
		s.mu.Unlock()
		logger.Info("Field check not started: %v", err)
		return err
	}

	// Subscriptions are acquired only after both preconditions passed.
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.id = uuid.New().String()
	s.startedAt = time.Now()
	s.samples.Reset()
	s.points = nil
	s.cancel = cancel
	s.stopRequested = false
	s.done = done
	s.state = StateRecording
	id := s.id
	s.mu.Unlock()

	g, gCtx := errgroup.WithContext(runCtx)
	if s.accel != nil {
		g.Go(func() error {
			err := s.accel.StreamAcceleration(gCtx, s.cfg.SampleInterval, s.addSample)
			if err != nil && gCtx.Err() == nil {
				logger.Warn("Field check %s: accelerometer unavailable, continuing without it: %v", id, err)
			}
			return nil
		})
	}
	if s.loc != nil {
		g.Go(func() error {
			err := s.loc.StreamLocation(gCtx, s.cfg.LocationInterval, s.cfg.MinDisplacementMeters, s.addPoint)
			if err != nil && gCtx.Err() == nil {
				logger.Warn("Field check %s: location updates unavailable, continuing without them: %v", id, err)
			}
			return nil
		})
	}

	go s.supervise(runCtx, cancel, g, done)

	logger.Info("Field check %s recording for %v", id, s.cfg.Duration)
	return nil
}

func (s *Session) checkPreconditions(ctx context.Context) error {
	if s.pre == nil {
		return nil
	}

	connected, err := s.pre.Connected(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoConnectivity, err)
	}
	if !connected {
		return ErrNoConnectivity
	}

	permitted, err := s.pre.LocationPermitted(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLocationDenied, err)
	}
	if !permitted {
		return ErrLocationDenied
	}
	return nil
}

// supervise owns the recording's lifetime. Whatever ends it (timer, Stop, or
// parent cancellation), every stream is released before the buffers clear.
func (s *Session) supervise(runCtx context.Context, cancel context.CancelFunc, g *errgroup.Group, done chan struct{}) {
	timer := time.NewTimer(s.cfg.Duration)
	defer timer.Stop()

	reason := StopCancelled
	select {
	case <-timer.C:
		reason = StopTimeout
	case <-runCtx.Done():
		s.mu.Lock()
		if s.stopRequested {
			reason = StopManual
		}
		s.mu.Unlock()
	}

	cancel()
	_ = g.Wait()

	s.finish(reason)
	close(done)
}

func (s *Session) finish(reason StopReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	score, ok := EstimateTrust(s.samples.Slice())
	summary := &Summary{
		SessionID:   s.id,
		TrustScore:  score,
		HasScore:    ok,
		SampleCount: s.samples.Len(),
		PointCount:  len(s.points),
		Points:      s.points,
		StartedAt:   s.startedAt,
		Duration:    time.Since(s.startedAt),
		Reason:      reason,
	}

	s.last = summary
	s.samples.Reset()
	s.points = nil
	s.cancel = nil
	s.state = StateStopped

	if ok {
		logger.Info("Field check %s stopped (%s): trust %d from %d samples, %d points", s.id, reason, score, summary.SampleCount, summary.PointCount)
	} else {
		logger.Info("Field check %s stopped (%s) without samples, %d points", s.id, reason, summary.PointCount)
	}
}

// Stop ends the current recording and waits until every stream is released.
func (s *Session) Stop() (Summary, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return Summary{}, ErrNotRecording
	}
	s.stopRequested = true
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.last, nil
}

func (s *Session) addSample(g models.GroundSample) {
	if g.At.IsZero() {
		g.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return
	}
	s.samples.Push(g)
}

func (s *Session) addPoint(p models.GeoPoint) {
	if p.At.IsZero() {
		p.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return
	}
	if n := len(s.points); n > 0 && s.points[n-1].DistanceTo(p) < s.cfg.MinDisplacementMeters {
		return
	}
	s.points = append(s.points, p)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TrustScore returns the live score; ok is false until a sample arrives and
// after the recording ends.
func (s *Session) TrustScore() (score int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return 0, false
	}
	return EstimateTrust(s.samples.Slice())
}

// SampleCount returns the number of buffered accelerometer samples.
func (s *Session) SampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples.Len()
}

// PointCount returns the number of logged location points.
func (s *Session) PointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

// Done is closed when the current recording has fully stopped.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// LastSummary returns the result of the most recent finished recording.
func (s *Session) LastSummary() (Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Summary{}, false
	}
	return *s.last, true
}

// Status is a short human-readable description of the session.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateArmed:
		return "Checking connectivity and location permission"
	case StateRecording:
		remaining := s.cfg.Duration - time.Since(s.startedAt)
		if remaining < 0 {
			remaining = 0
		}
		return fmt.Sprintf("Recording: %d samples, %d points logged, %s left",
			s.samples.Len(), len(s.points), remaining.Round(time.Second))
	case StateStopped:
		if s.last != nil && s.last.HasScore {
			return fmt.Sprintf("Stopped (%s): trust score %d", s.last.Reason, s.last.TrustScore)
		}
		return "Stopped"
	default:
		if s.lastErr != nil {
			return "Ready: " + s.lastErr.Error()
		}
		return "Ready"
	}
}
