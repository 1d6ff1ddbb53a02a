package models

import (
	"errors"
	"time"
)

// NotificationKind distinguishes the two alert latches.
type NotificationKind string

const (
	KindProximity NotificationKind = "proximity"
	KindPush      NotificationKind = "push"
)

// Notification is a fire-and-forget alert handed to a transport.
// An empty Token with Local set means the alert stays on this device.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Token     string           `json:"token,omitempty"`
	Local     bool             `json:"local"`
	CreatedAt time.Time        `json:"created_at"`
}

// Validate checks that all notification fields are valid
func (n *Notification) Validate() error {
	if n.ID == "" {
		return errors.New("notification ID must not be empty")
	}
	if n.Kind != KindProximity && n.Kind != KindPush {
		return errors.New("kind must be 'proximity' or 'push'")
	}
	if n.Title == "" {
		return errors.New("title must not be empty")
	}
	if !n.Local && n.Token == "" {
		return errors.New("remote notifications require a token")
	}
	return nil
}
