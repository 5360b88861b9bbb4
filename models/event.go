package models

import (
	"encoding/json"
	"time"
)

type EventStatus string

const (
	EventStatusUpcoming  EventStatus = "UPCOMING"
	EventStatusOngoing   EventStatus = "ONGOING"
	EventStatusEnded     EventStatus = "ENDED"
	EventStatusCancelled EventStatus = "CANCELLED"
)

type EventType string

const (
	EventTypeTournament EventType = "TOURNAMENT"
	EventTypeMeetup     EventType = "MEETUP"
	EventTypeExhibition EventType = "EXHIBITION"
	EventTypeWorkshop   EventType = "WORKSHOP"
)

func (t EventType) Valid() bool {
	switch t {
	case EventTypeTournament, EventTypeMeetup, EventTypeExhibition, EventTypeWorkshop:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s EventStatus) IsTerminal() bool {
	return s == EventStatusEnded || s == EventStatusCancelled
}

// CanTransitionTo encodes the event lifecycle. UPCOMING may jump straight to
// ENDED when the sweeper catches an event whose whole window has passed.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	switch s {
	case EventStatusUpcoming:
		return next == EventStatusOngoing || next == EventStatusEnded || next == EventStatusCancelled
	case EventStatusOngoing:
		return next == EventStatusEnded || next == EventStatusCancelled
	default:
		return false
	}
}

type Event struct {
	ID                  string      `json:"id" gorm:"primaryKey;size:191"`
	Title               string      `json:"title" gorm:"not null;size:255"`
	Description         string      `json:"description" gorm:"type:text"`
	Type                EventType   `json:"type" gorm:"not null;size:32"`
	OrganizerID         string      `json:"organizer_id" gorm:"not null;size:191;index"`
	StartTime           time.Time   `json:"start_time" gorm:"not null;index"`
	EndTime             time.Time   `json:"end_time" gorm:"not null"`
	MaxParticipants     *int        `json:"max_participants"`
	CurrentParticipants int         `json:"current_participants" gorm:"not null;default:0"`
	Location            string      `json:"location" gorm:"size:500"`
	IsOnline            bool        `json:"is_online" gorm:"default:false"`
	CoverImage          *string     `json:"cover_image" gorm:"size:500"`
	Images              StringSlice `json:"images"`
	Status              EventStatus `json:"status" gorm:"not null;size:20;index;default:UPCOMING"`
	ReminderSentAt      *time.Time  `json:"-"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`

	Organizer *User `json:"organizer,omitempty" gorm:"foreignKey:OrganizerID"`
}

// RemainingSeats is -1 for events without a limit
func (e *Event) RemainingSeats() int {
	if e.MaxParticipants == nil {
		return -1
	}
	if remaining := *e.MaxParticipants - e.CurrentParticipants; remaining > 0 {
		return remaining
	}
	return 0
}

// MarshalJSON adds remaining_seats, null when the event has no limit
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	var remaining *int
	if e.MaxParticipants != nil {
		seats := e.RemainingSeats()
		remaining = &seats
	}
	return json.Marshal(struct {
		plain
		RemainingSeats *int `json:"remaining_seats"`
	}{plain(e), remaining})
}

func (e *Event) HasStarted(now time.Time) bool {
	return !e.StartTime.After(now)
}

type RegistrationStatus string

const (
	RegistrationStatusRegistered RegistrationStatus = "REGISTERED"
	RegistrationStatusCancelled  RegistrationStatus = "CANCELLED"
	RegistrationStatusAttended   RegistrationStatus = "ATTENDED"
	RegistrationStatusAbsent     RegistrationStatus = "ABSENT"
)

// EventRegistration is unique per (event, user); re-registering reactivates the row.
type EventRegistration struct {
	ID           string             `json:"id" gorm:"primaryKey;size:191"`
	EventID      string             `json:"event_id" gorm:"not null;size:191;uniqueIndex:uk_registration_event_user"`
	UserID       string             `json:"user_id" gorm:"not null;size:191;uniqueIndex:uk_registration_event_user;index"`
	Status       RegistrationStatus `json:"status" gorm:"not null;size:20;index"`
	ContactInfo  string             `json:"contact_info" gorm:"size:255"`
	Remark       string             `json:"remark" gorm:"size:500"`
	RegisteredAt time.Time          `json:"registered_at"`
	CancelledAt  *time.Time         `json:"cancelled_at"`
	CheckedInAt  *time.Time         `json:"checked_in_at"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`

	Event *Event `json:"event,omitempty" gorm:"foreignKey:EventID"`
	User  *User  `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

func (r *EventRegistration) IsActive() bool {
	return r.Status == RegistrationStatusRegistered
}
