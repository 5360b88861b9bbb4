package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gameverse-api/models"
)

// Channel pushes a stored notification to one recipient. Implementations are
// best effort; the dispatcher retries errors unless they are Permanent.
type Channel interface {
	Name() string
	Push(ctx context.Context, userID string, n *models.Notification) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Message is the JSON frame sent to WebSocket clients and the broker feed
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	MessageTypeNotification = "notification"
	MessageTypeUnreadCount  = "unread_count"
)

func NotificationMessage(n *models.Notification) Message {
	return Message{Type: MessageTypeNotification, Data: n.ToResponse(time.Now())}
}

func UnreadCountMessage(counts *models.UnreadCounts) Message {
	return Message{Type: MessageTypeUnreadCount, Data: counts}
}

// SettingsSource resolves a user's delivery preferences
type SettingsSource interface {
	GetSettings(ctx context.Context, userID string) (models.NotificationSettings, error)
}

// Filtered skips the inner channel when the recipient opted out of the
// notification's category or is outside their push window.
type Filtered struct {
	inner    Channel
	settings SettingsSource
	now      func() time.Time
}

func WithPreferences(inner Channel, settings SettingsSource) *Filtered {
	return &Filtered{inner: inner, settings: settings, now: func() time.Time { return time.Now().UTC() }}
}

func (f *Filtered) Name() string {
	return f.inner.Name()
}

func (f *Filtered) Push(ctx context.Context, userID string, n *models.Notification) error {
	settings, err := f.settings.GetSettings(ctx, userID)
	if err != nil {
		return fmt.Errorf("load notification settings: %w", err)
	}
	if !settings.Allows(n.Type) || !settings.InPushWindow(f.now()) {
		return nil
	}
	return f.inner.Push(ctx, userID, n)
}
