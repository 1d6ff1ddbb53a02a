package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/slopewatch/internal/config"
	"github.com/rewired-gh/slopewatch/internal/groundtruth"
	"github.com/rewired-gh/slopewatch/internal/models"
)

// loadSamples parses one "ax,ay,az" reading per line. Blank lines and lines
// starting with # are skipped.
func loadSamples(r io.Reader) ([]models.GroundSample, error) {
	var samples []models.GroundSample
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected ax,ay,az, got %q", lineNo, line)
		}
		var axes [3]float64
		for i, field := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			axes[i] = v
		}
		samples = append(samples, models.GroundSample{AX: axes[0], AY: axes[1], AZ: axes[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}
	return samples, nil
}

// replayAccelerometer emits recorded samples at the session's sample rate.
// finished is closed once every sample was emitted or the stream was cancelled.
type replayAccelerometer struct {
	samples  []models.GroundSample
	finished chan struct{}
}

func newReplayAccelerometer(samples []models.GroundSample) *replayAccelerometer {
	return &replayAccelerometer{samples: samples, finished: make(chan struct{})}
}

func (a *replayAccelerometer) StreamAcceleration(ctx context.Context, interval time.Duration, emit func(models.GroundSample)) error {
	defer close(a.finished)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for _, s := range a.samples {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		emit(s)
	}
	return nil
}

// fixedLocation reports a single position for the whole recording.
type fixedLocation struct {
	point models.GeoPoint
}

func (l fixedLocation) StreamLocation(ctx context.Context, _ time.Duration, _ float64, emit func(models.GeoPoint)) error {
	emit(l.point)
	<-ctx.Done()
	return nil
}

// hostPreconditions checks reachability of the weather API and that a valid
// device position is configured.
type hostPreconditions struct {
	probeURL string
	position models.GeoPoint
	client   *http.Client
}

func (p hostPreconditions) Connected(ctx context.Context) (bool, error) {
	if p.probeURL == "" {
		return true, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.probeURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, nil
	}
	resp.Body.Close()
	return true, nil
}

func (p hostPreconditions) LocationPermitted(context.Context) (bool, error) {
	return p.position.Validate() == nil, nil
}

// runFieldCheck replays the samples at path through one field-check session,
// printing the live trust score and the final summary to out.
func runFieldCheck(ctx context.Context, cfg *config.Config, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open samples: %w", err)
	}
	samples, err := loadSamples(f)
	f.Close()
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return errors.New("no samples to replay")
	}

	accel := newReplayAccelerometer(samples)
	pre := hostPreconditions{
		probeURL: cfg.Weather.BaseURL,
		position: cfg.Device.Position,
		client:   &http.Client{Timeout: cfg.Weather.Timeout},
	}
	session := groundtruth.NewSession(cfg.SessionConfig(), pre, accel, fixedLocation{point: cfg.Device.Position})

	if err := session.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Replaying %d samples from %s\n", len(samples), path)

	progress := time.NewTicker(time.Second)
	defer progress.Stop()

	finished := accel.finished
	done := session.Done()
	for {
		select {
		case <-progress.C:
			if score, ok := session.TrustScore(); ok {
				fmt.Fprintf(out, "%s  trust %d (%d samples)\n", session.Status(), score, session.SampleCount())
			}

		case <-finished:
			finished = nil
			if _, err := session.Stop(); err != nil && !errors.Is(err, groundtruth.ErrNotRecording) {
				return err
			}

		case <-done:
			summary, ok := session.LastSummary()
			if !ok {
				return errors.New("field check ended without a summary")
			}
			printSummary(out, summary)
			return nil
		}
	}
}

func printSummary(out io.Writer, s groundtruth.Summary) {
	fmt.Fprintf(out, "Field check %s finished (%s) after %v\n", s.SessionID, s.Reason, s.Duration.Round(time.Millisecond))
	if s.HasScore {
		fmt.Fprintf(out, "Ground-truth trust %d from %d samples, %d location points\n", s.TrustScore, s.SampleCount, s.PointCount)
	} else {
		fmt.Fprintf(out, "No accelerometer samples recorded, %d location points\n", s.PointCount)
	}
}
