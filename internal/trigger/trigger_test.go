package trigger

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/slopewatch/internal/models"
)

type step struct {
	distance    float64
	probability float64
	want        Decision
}

func runSteps(t *testing.T, p *Policy, steps []step) {
	t.Helper()
	for i, s := range steps {
		got := p.Evaluate(s.distance, s.probability)
		assert.Equal(t, s.want, got, "step %d (d=%v p=%v)", i, s.distance, s.probability)
	}
}

func TestProximityLatchHysteresis(t *testing.T) {
	p := NewPolicy(DefaultThresholds())
	runSteps(t, p, []step{
		{distance: 150, probability: 0.2, want: Decision{}},
		{distance: 50, probability: 0.2, want: Decision{Proximity: true}},
		{distance: 50, probability: 0.2, want: Decision{}},
		{distance: 110, probability: 0.2, want: Decision{}}, // inside hysteresis band, still latched
		{distance: 95, probability: 0.2, want: Decision{}},
		{distance: 120, probability: 0.2, want: Decision{}}, // exactly 120 does not re-arm
		{distance: 99, probability: 0.2, want: Decision{}},
		{distance: 121, probability: 0.2, want: Decision{}}, // re-armed
		{distance: 100, probability: 0.2, want: Decision{Proximity: true}},
	})
}

func TestPushLatch(t *testing.T) {
	p := NewPolicy(DefaultThresholds())
	runSteps(t, p, []step{
		{distance: 50, probability: 0.629, want: Decision{Proximity: true}},
		{distance: 50, probability: 0.72, want: Decision{Push: true}},
		{distance: 50, probability: 0.75, want: Decision{}},
		{distance: 50, probability: 0.65, want: Decision{}}, // 0.60 ≤ p < 0.70 keeps it latched
		{distance: 50, probability: 0.70, want: Decision{}},
		{distance: 50, probability: 0.59, want: Decision{}}, // re-armed by risk drop
		{distance: 50, probability: 0.70, want: Decision{Push: true}},
		{distance: 101, probability: 0.90, want: Decision{}}, // re-armed by distance
		{distance: 100, probability: 0.90, want: Decision{Push: true}},
	})
}

func TestPushRequiresProximity(t *testing.T) {
	p := NewPolicy(DefaultThresholds())
	got := p.Evaluate(150, 0.9)
	assert.False(t, got.Push)
	assert.False(t, got.Proximity)

	_, pushSent := p.Latches()
	assert.False(t, pushSent)
}

func TestLatchesFireOncePerWindow(t *testing.T) {
	p := NewPolicy(DefaultThresholds())
	proximity, push := 0, 0
	for i := 0; i < 100; i++ {
		// Oscillate around the arm thresholds without crossing the re-arm ones.
		d := 95.0 + float64(i%3)*5       // 95, 100, 105
		prob := 0.68 + float64(i%2)*0.04 // 0.68, 0.72
		got := p.Evaluate(d, prob)
		if got.Proximity {
			proximity++
		}
		if got.Push {
			push++
		}
	}
	assert.Equal(t, 1, proximity)
	// Distance 105 re-arms the push latch, so it may fire again on the next close, high reading.
	assert.GreaterOrEqual(t, push, 1)
}

func TestResetAndNaN(t *testing.T) {
	p := NewPolicy(Thresholds{})
	assert.Equal(t, DefaultThresholds(), p.Thresholds())

	p.Evaluate(10, 0.9)
	prox, push := p.Latches()
	require.True(t, prox)
	require.True(t, push)

	p.Reset()
	prox, push = p.Latches()
	assert.False(t, prox)
	assert.False(t, push)

	assert.Equal(t, Decision{}, p.Evaluate(math.NaN(), 0.9))
	assert.Equal(t, Decision{Proximity: true}, p.Evaluate(10, math.NaN()))
}

type recordingPush struct {
	sent []models.Notification
	err  error
}

func (r *recordingPush) SendPush(_ context.Context, n models.Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

type recordingLocal struct {
	shown []models.Notification
}

func (r *recordingLocal) NotifyLocal(_ context.Context, n models.Notification) error {
	r.shown = append(r.shown, n)
	return nil
}

func highRisk() models.Assessment {
	return models.Assessment{
		ID:                "a1",
		Probability:       0.72,
		Band:              models.BandHigh,
		DominantFactorKey: models.Rainfall24h,
	}
}

func TestAlerterUsesPushWhenTokenCached(t *testing.T) {
	push := &recordingPush{}
	local := &recordingLocal{}
	tokens := &TokenCache{}
	tokens.Set("987654")
	a := NewAlerter(push, local, tokens)

	sent := a.Dispatch(context.Background(), Decision{Push: true}, highRisk(), 50)

	require.Len(t, sent, 1)
	require.Len(t, push.sent, 1)
	assert.Empty(t, local.shown)
	assert.Equal(t, "987654", push.sent[0].Token)
	assert.False(t, push.sent[0].Local)
	assert.NoError(t, push.sent[0].Validate())
	assert.Contains(t, push.sent[0].Body, "72%")
	assert.Contains(t, push.sent[0].Body, "rainfall24h")
}

func TestAlerterFallsBackToLocalWithoutToken(t *testing.T) {
	push := &recordingPush{}
	local := &recordingLocal{}
	a := NewAlerter(push, local, nil)

	sent := a.Dispatch(context.Background(), Decision{Proximity: true, Push: true}, highRisk(), 50)

	require.Len(t, sent, 2)
	assert.Empty(t, push.sent)
	require.Len(t, local.shown, 2)
	assert.Equal(t, models.KindProximity, local.shown[0].Kind)
	assert.Equal(t, models.KindPush, local.shown[1].Kind)
	for _, n := range local.shown {
		assert.True(t, n.Local)
		assert.NoError(t, n.Validate())
	}
}

func TestAlerterDoesNotRetryFailedPush(t *testing.T) {
	push := &recordingPush{err: errors.New("network unreachable")}
	local := &recordingLocal{}
	tokens := &TokenCache{}
	tokens.Set("42")
	a := NewAlerter(push, local, tokens)

	sent := a.Dispatch(context.Background(), Decision{Push: true}, highRisk(), 80)

	assert.Len(t, sent, 1)
	assert.Len(t, push.sent, 1, "exactly one attempt per fire")
	assert.Empty(t, local.shown)
}

func TestAlerterNoDecision(t *testing.T) {
	push := &recordingPush{}
	a := NewAlerter(push, nil, nil)
	assert.Empty(t, a.Dispatch(context.Background(), Decision{}, highRisk(), 10))
	assert.Empty(t, push.sent)
}

func TestTokenCache(t *testing.T) {
	var c TokenCache
	_, ok := c.Get()
	assert.False(t, ok)

	c.Set("abc")
	tok, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	c.Clear()
	_, ok = c.Get()
	assert.False(t, ok)
}
