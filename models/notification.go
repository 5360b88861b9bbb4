package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type NotificationType string

const (
	NotificationTypeSystem        NotificationType = "SYSTEM"
	NotificationTypeGameDiscount  NotificationType = "GAME_DISCOUNT"
	NotificationTypeEventReminder NotificationType = "EVENT_REMINDER"
	NotificationTypeEventRegister NotificationType = "EVENT_REGISTER"
	NotificationTypeEventCancel   NotificationType = "EVENT_CANCEL"
	NotificationTypeEventUpdate   NotificationType = "EVENT_UPDATE"
	NotificationTypePostReply     NotificationType = "POST_REPLY"
	NotificationTypePostLike      NotificationType = "POST_LIKE"
)

// NotificationTypes lists every known type, in display order
var NotificationTypes = []NotificationType{
	NotificationTypeSystem,
	NotificationTypeGameDiscount,
	NotificationTypeEventReminder,
	NotificationTypeEventRegister,
	NotificationTypeEventCancel,
	NotificationTypeEventUpdate,
	NotificationTypePostReply,
	NotificationTypePostLike,
}

func (t NotificationType) Valid() bool {
	for _, known := range NotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Category groups types for the per-user settings switches
func (t NotificationType) Category() NotificationCategory {
	switch t {
	case NotificationTypeGameDiscount:
		return NotificationCategoryGame
	case NotificationTypeEventReminder, NotificationTypeEventRegister,
		NotificationTypeEventCancel, NotificationTypeEventUpdate:
		return NotificationCategoryEvent
	case NotificationTypePostReply, NotificationTypePostLike:
		return NotificationCategoryCommunity
	default:
		return NotificationCategorySystem
	}
}

type TargetType string

const (
	TargetTypeGame  TargetType = "GAME"
	TargetTypeEvent TargetType = "EVENT"
	TargetTypePost  TargetType = "POST"
)

type Notification struct {
	ID         string           `json:"id" gorm:"primaryKey;size:191"`
	UserID     string           `json:"user_id" gorm:"not null;size:191;index:idx_notifications_user_read"`
	Type       NotificationType `json:"type" gorm:"not null;size:32;index"`
	Title      string           `json:"title" gorm:"not null;size:255"`
	Content    string           `json:"content" gorm:"type:text"`
	TargetType *TargetType      `json:"target_type" gorm:"size:20"`
	TargetID   *string          `json:"target_id" gorm:"size:191"`
	Payload    datatypes.JSON   `json:"payload,omitempty"`
	IsRead     bool             `json:"is_read" gorm:"default:false;index:idx_notifications_user_read"`
	CreatedAt  time.Time        `json:"created_at" gorm:"index"`
	ReadAt     *time.Time       `json:"read_at"`
}

// TargetURL is the client route the notification links to
func (n *Notification) TargetURL() string {
	if n.TargetType == nil || n.TargetID == nil {
		return ""
	}
	switch *n.TargetType {
	case TargetTypeGame:
		return "/games/" + *n.TargetID
	case TargetTypeEvent:
		return "/events/" + *n.TargetID
	case TargetTypePost:
		return "/posts/" + *n.TargetID
	default:
		return ""
	}
}

// NotificationResponse represents the API response for notifications
type NotificationResponse struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Content    string           `json:"content"`
	TargetType *TargetType      `json:"target_type,omitempty"`
	TargetID   *string          `json:"target_id,omitempty"`
	TargetURL  string           `json:"target_url,omitempty"`
	Payload    datatypes.JSON   `json:"payload,omitempty"`
	IsRead     bool             `json:"is_read"`
	CreatedAt  time.Time        `json:"created_at"`
	ReadAt     *time.Time       `json:"read_at,omitempty"`
	TimeAgo    string           `json:"time_ago"`
}

// UnreadCounts is the total plus a per-type breakdown
type UnreadCounts struct {
	Total  int64                      `json:"total"`
	ByType map[NotificationType]int64 `json:"by_type"`
}

// PaginatedNotifications represents paginated notification response
type PaginatedNotifications struct {
	Notifications []NotificationResponse `json:"notifications"`
	Page          int                    `json:"page"`
	Limit         int                    `json:"limit"`
	Total         int64                  `json:"total"`
	HasMore       bool                   `json:"has_more"`
	TotalPages    int                    `json:"total_pages"`
}

// GetTimeAgo returns a human-readable time difference
func (n *Notification) GetTimeAgo(now time.Time) string {
	diff := now.Sub(n.CreatedAt)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	case diff < 30*24*time.Hour:
		return plural(int(diff.Hours()/(24*7)), "week")
	default:
		return plural(int(diff.Hours()/(24*30)), "month")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// ToResponse converts Notification to NotificationResponse
func (n *Notification) ToResponse(now time.Time) NotificationResponse {
	return NotificationResponse{
		ID:         n.ID,
		Type:       n.Type,
		Title:      n.Title,
		Content:    n.Content,
		TargetType: n.TargetType,
		TargetID:   n.TargetID,
		TargetURL:  n.TargetURL(),
		Payload:    n.Payload,
		IsRead:     n.IsRead,
		CreatedAt:  n.CreatedAt,
		ReadAt:     n.ReadAt,
		TimeAgo:    n.GetTimeAgo(now),
	}
}
