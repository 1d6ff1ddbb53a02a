// Package monitor owns the live scoring state of one station: the current
// snapshot, the latest assessment, the trigger latches and the push token.
//
// Every snapshot change runs the whole risk pipeline at once, so a partially
// updated snapshot is never scored. Refresh pulls new readings with this
// fallback chain:
//
//	remote snapshot → last known snapshot → static snapshot
//	live rainfall   → last known rainfall → snapshot rainfall
//
// Only the newest refresh may apply its result. Starting a refresh cancels
// the one in flight, and a superseded refresh returns ErrStaleRefresh.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/slopewatch/internal/logger"
	"github.com/rewired-gh/slopewatch/internal/models"
	"github.com/rewired-gh/slopewatch/internal/risk"
	"github.com/rewired-gh/slopewatch/internal/storage"
	"github.com/rewired-gh/slopewatch/internal/trigger"
)

// ErrStaleRefresh is returned by a refresh that was overtaken by a newer one.
var ErrStaleRefresh = errors.New("refresh superseded by a newer refresh")

// SnapshotFetcher retrieves external readings. *station.Client implements it.
type SnapshotFetcher interface {
	RemoteConfigEnabled() bool
	WeatherEnabled() bool
	FetchSnapshot(ctx context.Context, base models.SensorSnapshot) (models.SensorSnapshot, error)
	FetchRainfall24h(ctx context.Context, at models.GeoPoint, now time.Time) (float64, error)
}

// Options configures a Monitor. Engine is required.
type Options struct {
	Engine          *risk.Engine
	Storage         *storage.Storage
	Fetcher         SnapshotFetcher
	Policy          *trigger.Policy
	Alerter         *trigger.Alerter
	Static          models.SensorSnapshot
	StationPosition models.GeoPoint
}

// Monitor is the scoring context for one station
type Monitor struct {
	engine     *risk.Engine
	storage    *storage.Storage
	fetcher    SnapshotFetcher
	policy     *trigger.Policy
	alerter    *trigger.Alerter
	static     models.SensorSnapshot
	stationPos models.GeoPoint
	now        func() time.Time

	mu         sync.RWMutex
	snapshot   models.SensorSnapshot
	assessment models.Assessment

	// evalMu makes Evaluate and Reset the single writer of the latches.
	evalMu sync.Mutex

	refreshMu     sync.Mutex
	generation    uint64
	cancelRefresh context.CancelFunc
}

// New creates a Monitor and scores its initial snapshot: the stored last
// known snapshot when one exists, the static snapshot otherwise.
func New(opts Options) (*Monitor, error) {
	if opts.Engine == nil {
		return nil, errors.New("monitor requires a risk engine")
	}
	if err := opts.Static.Validate(); err != nil {
		return nil, fmt.Errorf("invalid static snapshot: %w", err)
	}
	if opts.Storage == nil {
		opts.Storage = storage.New(100, "", 0, 0)
	}
	if opts.Policy == nil {
		opts.Policy = trigger.NewPolicy(trigger.Thresholds{})
	}
	if opts.Alerter == nil {
		opts.Alerter = trigger.NewAlerter(nil, nil, nil)
	}
	opts.Static.Source = models.SourceStatic

	m := &Monitor{
		engine:     opts.Engine,
		storage:    opts.Storage,
		fetcher:    opts.Fetcher,
		policy:     opts.Policy,
		alerter:    opts.Alerter,
		static:     opts.Static,
		stationPos: opts.StationPosition,
		now:        time.Now,
	}

	if token := m.storage.PushToken(); token != "" {
		m.alerter.Tokens().Set(token)
	}

	initial := m.static
	if last, ok := m.storage.LastSnapshot(); ok {
		initial = last
	}
	m.Update(initial)

	return m, nil
}

// Update scores s and makes it the current snapshot.
func (m *Monitor) Update(s models.SensorSnapshot) models.Assessment {
	a := m.engine.Assess(s)

	m.mu.Lock()
	m.snapshot = s
	m.assessment = a
	m.mu.Unlock()

	if err := m.storage.AddAssessment(&a); err != nil {
		logger.Warn("Failed to record assessment %s: %v", a.ID, err)
	}
	m.storage.RotateAssessments()

	logger.Debug("Assessed snapshot from %s: p=%.3f band=%s dominant=%s",
		s.Source, a.Probability, a.Band, a.DominantFactorKey)
	return a
}

// Current returns the latest assessment.
func (m *Monitor) Current() models.Assessment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.assessment
}

// Snapshot returns the snapshot behind the latest assessment.
func (m *Monitor) Snapshot() models.SensorSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Refresh fetches new readings, applies the fallback chain and rescores.
// Fetch failures are logged and never returned. The only errors are a
// cancelled ctx and ErrStaleRefresh.
func (m *Monitor) Refresh(ctx context.Context) (models.Assessment, error) {
	m.refreshMu.Lock()
	if m.cancelRefresh != nil {
		m.cancelRefresh()
	}
	m.generation++
	gen := m.generation
	ctx, cancel := context.WithCancel(ctx)
	m.cancelRefresh = cancel
	m.refreshMu.Unlock()
	defer cancel()

	next, err := m.collect(ctx)

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	if gen != m.generation {
		return models.Assessment{}, ErrStaleRefresh
	}
	m.cancelRefresh = nil
	if err != nil {
		return models.Assessment{}, err
	}
	return m.Update(next), nil
}

// collect builds the next snapshot. It returns an error only when ctx ends.
func (m *Monitor) collect(ctx context.Context) (models.SensorSnapshot, error) {
	next := m.fallback()

	if m.fetcher == nil {
		return next, nil
	}

	if m.fetcher.RemoteConfigEnabled() {
		remote, err := m.fetcher.FetchSnapshot(ctx, m.static)
		if err == nil {
			err = remote.Validate()
		}
		switch {
		case ctx.Err() != nil:
			return models.SensorSnapshot{}, ctx.Err()
		case err != nil:
			logger.Warn("Remote snapshot unavailable, using %s readings: %v", next.Source, err)
		default:
			next = remote
			m.remember(next)
		}
	}

	if m.fetcher.WeatherEnabled() {
		now := m.now()
		mm, err := m.fetcher.FetchRainfall24h(ctx, m.stationPos, now)
		switch {
		case ctx.Err() != nil:
			return models.SensorSnapshot{}, ctx.Err()
		case err != nil:
			if last, ok := m.storage.LastSnapshot(); ok {
				next.Rainfall24h = last.Rainfall24h
			}
			logger.Warn("Live rainfall unavailable, using %.1f mm: %v", next.Rainfall24h, err)
		case mm < 0:
			logger.Warn("Ignoring negative rainfall total %.1f mm", mm)
		default:
			next = next.WithRainfall(mm, now)
			m.remember(next)
		}
	}

	return next, nil
}

// fallback returns the last known snapshot, or the static one.
func (m *Monitor) fallback() models.SensorSnapshot {
	if last, ok := m.storage.LastSnapshot(); ok {
		return last
	}
	return m.static
}

func (m *Monitor) remember(s models.SensorSnapshot) {
	if err := m.storage.SetLastSnapshot(s); err != nil {
		logger.Warn("Not keeping snapshot as last known: %v", err)
	}
}

// Evaluate runs one trigger step for the current assessment at the given
// distance and dispatches the alerts of any latch that fired.
func (m *Monitor) Evaluate(ctx context.Context, distanceMeters float64) []models.Notification {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()

	a := m.Current()
	d := m.policy.Evaluate(distanceMeters, a.Probability)
	if !d.Any() {
		return nil
	}
	logger.Info("Trigger fired at %.0f m, p=%.3f: proximity=%t push=%t",
		distanceMeters, a.Probability, d.Proximity, d.Push)
	return m.alerter.Dispatch(ctx, d, a, distanceMeters)
}

// Latches returns the current trigger latch values.
func (m *Monitor) Latches() (proximityNotified, pushSent bool) {
	m.evalMu.Lock()
	defer m.evalMu.Unlock()
	return m.policy.Latches()
}

// RegisterToken caches the push token and persists it. An empty token
// unregisters the device.
func (m *Monitor) RegisterToken(token string) {
	if token == "" {
		m.alerter.Tokens().Clear()
	} else {
		m.alerter.Tokens().Set(token)
	}
	m.storage.SetPushToken(token)
	if err := m.storage.Save(); err != nil {
		logger.Warn("Failed to persist push token: %v", err)
	}
}

// Reset ends the session: both latches re-arm and the push token is dropped.
// The current snapshot and assessment are kept.
func (m *Monitor) Reset() {
	m.evalMu.Lock()
	m.policy.Reset()
	m.evalMu.Unlock()

	m.RegisterToken("")
	logger.Info("Monitor reset: latches re-armed, push token cleared")
}
