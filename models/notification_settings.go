package models

import (
	"fmt"
	"time"
)

type NotificationCategory string

const (
	NotificationCategorySystem    NotificationCategory = "system"
	NotificationCategoryGame      NotificationCategory = "game"
	NotificationCategoryEvent     NotificationCategory = "event"
	NotificationCategoryCommunity NotificationCategory = "community"
)

const (
	DefaultPushWindowStart = "08:00"
	DefaultPushWindowEnd   = "22:00"
)

// NotificationSettings holds one user's delivery preferences. A user without a
// row gets DefaultNotificationSettings.
type NotificationSettings struct {
	UserID           string    `json:"user_id" gorm:"primaryKey;size:191"`
	SystemEnabled    bool      `json:"system_enabled"`
	GameEnabled      bool      `json:"game_enabled"`
	EventEnabled     bool      `json:"event_enabled"`
	CommunityEnabled bool      `json:"community_enabled"`
	EmailEnabled     bool      `json:"email_enabled"`
	PushWindowStart  string    `json:"push_window_start" gorm:"size:5"`
	PushWindowEnd    string    `json:"push_window_end" gorm:"size:5"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func DefaultNotificationSettings(userID string) NotificationSettings {
	return NotificationSettings{
		UserID:           userID,
		SystemEnabled:    true,
		GameEnabled:      true,
		EventEnabled:     true,
		CommunityEnabled: true,
		EmailEnabled:     true,
		PushWindowStart:  DefaultPushWindowStart,
		PushWindowEnd:    DefaultPushWindowEnd,
	}
}

// Allows reports whether the category switch for t is on
func (s NotificationSettings) Allows(t NotificationType) bool {
	switch t.Category() {
	case NotificationCategoryGame:
		return s.GameEnabled
	case NotificationCategoryEvent:
		return s.EventEnabled
	case NotificationCategoryCommunity:
		return s.CommunityEnabled
	default:
		return s.SystemEnabled
	}
}

// WantsEmail combines the email switch with the category switch
func (s NotificationSettings) WantsEmail(t NotificationType) bool {
	return s.EmailEnabled && s.Allows(t)
}

// InPushWindow reports whether at (in its own location) falls inside the
// user's push window. Windows may wrap midnight, e.g. 22:00-06:00.
func (s NotificationSettings) InPushWindow(at time.Time) bool {
	start, err := parseClock(s.PushWindowStart)
	if err != nil {
		return true
	}
	end, err := parseClock(s.PushWindowEnd)
	if err != nil {
		return true
	}
	minute := at.Hour()*60 + at.Minute()
	if start == end {
		return true
	}
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// Validate checks the HH:MM window bounds
func (s NotificationSettings) Validate() error {
	if _, err := parseClock(s.PushWindowStart); err != nil {
		return fmt.Errorf("push_window_start: %w", err)
	}
	if _, err := parseClock(s.PushWindowEnd); err != nil {
		return fmt.Errorf("push_window_end: %w", err)
	}
	return nil
}

func parseClock(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", hhmm)
	}
	return t.Hour()*60 + t.Minute(), nil
}
