package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/slopewatch/internal/logger"
	"github.com/rewired-gh/slopewatch/internal/models"
)

// PushSender delivers a notification to a remote device identified by n.Token.
type PushSender interface {
	SendPush(ctx context.Context, n models.Notification) error
}

// LocalNotifier shows a notification on this device only.
type LocalNotifier interface {
	NotifyLocal(ctx context.Context, n models.Notification) error
}

// TokenCache holds the push token registered for this device, if any.
// The registration listener writes it while the evaluation loop reads it.
type TokenCache struct {
	mu    sync.RWMutex
	token string
}

// Set stores token, replacing any previous one.
func (c *TokenCache) Set(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Get returns the cached token and whether one is present.
func (c *TokenCache) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.token != ""
}

// Clear forgets the cached token.
func (c *TokenCache) Clear() {
	c.Set("")
}

// Alerter turns fired latches into notifications. Each fired latch produces
// exactly one send attempt. Failures are logged and never retried.
type Alerter struct {
	push   PushSender
	local  LocalNotifier
	tokens *TokenCache
	now    func() time.Time
}

// NewAlerter creates an Alerter. push may be nil when no remote transport is
// configured; every alert then stays local.
func NewAlerter(push PushSender, local LocalNotifier, tokens *TokenCache) *Alerter {
	if local == nil {
		local = LogNotifier{}
	}
	if tokens == nil {
		tokens = &TokenCache{}
	}
	return &Alerter{push: push, local: local, tokens: tokens, now: time.Now}
}

// Tokens exposes the alerter's token cache.
func (a *Alerter) Tokens() *TokenCache { return a.tokens }

// Dispatch sends the notifications for d and returns what was attempted.
func (a *Alerter) Dispatch(ctx context.Context, d Decision, assessment models.Assessment, distanceMeters float64) []models.Notification {
	var sent []models.Notification

	if d.Proximity {
		n := a.newNotification(models.KindProximity,
			"Approaching monitoring station",
			fmt.Sprintf("You are %.0f m from the station. Current landslide risk: %s (%.0f%%).",
				distanceMeters, assessment.Band, assessment.Probability*100))
		n.Local = true
		if err := a.local.NotifyLocal(ctx, n); err != nil {
			logger.Warn("Failed to show proximity alert: %v", err)
		}
		sent = append(sent, n)
	}

	if d.Push {
		n := a.newNotification(models.KindPush,
			"High landslide risk nearby",
			fmt.Sprintf("Risk %.0f%% (%s) within %.0f m of the station. Main driver: %s.",
				assessment.Probability*100, assessment.Band, distanceMeters, assessment.DominantFactorKey))

		token, ok := a.tokens.Get()
		if ok && a.push != nil {
			n.Token = token
			if err := a.push.SendPush(ctx, n); err != nil {
				logger.Error("Failed to send push notification %s: %v", n.ID, err)
			} else {
				logger.Info("Sent push notification %s", n.ID)
			}
		} else {
			n.Local = true
			if err := a.local.NotifyLocal(ctx, n); err != nil {
				logger.Warn("Failed to show local risk alert: %v", err)
			}
		}
		sent = append(sent, n)
	}

	return sent
}

func (a *Alerter) newNotification(kind models.NotificationKind, title, body string) models.Notification {
	return models.Notification{
		ID:        uuid.New().String(),
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: a.now(),
	}
}

// LogNotifier is the local notifier for headless runs: it writes alerts to the log.
type LogNotifier struct{}

// NotifyLocal implements LocalNotifier.
func (LogNotifier) NotifyLocal(_ context.Context, n models.Notification) error {
	logger.Warn("ALERT [%s] %s: %s", n.Kind, n.Title, n.Body)
	return nil
}
