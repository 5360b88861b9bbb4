package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gameverse-api/models"
	"gameverse-api/repositories"
)

type EventInput struct {
	Title           string
	Description     string
	Type            models.EventType
	StartTime       time.Time
	EndTime         time.Time
	MaxParticipants *int
	Location        string
	IsOnline        bool
	CoverImage      *string
	Images          []string
}

type PaginatedEvents struct {
	Events     []models.Event `json:"events"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	Total      int64          `json:"total"`
	TotalPages int            `json:"total_pages"`
}

// EventService covers the event reads and the status changes that do not
// touch registrations; anything that moves the counter goes through
// RegistrationService.
type EventService struct {
	db            *gorm.DB
	events        *repositories.EventRepository
	registrations *repositories.RegistrationRepository
	coordinator   *RegistrationService
	notifier      Notifier
	log           *zap.Logger
	now           func() time.Time
}

func NewEventService(
	db *gorm.DB,
	events *repositories.EventRepository,
	registrations *repositories.RegistrationRepository,
	coordinator *RegistrationService,
	notifier Notifier,
	log *zap.Logger,
) *EventService {
	return &EventService{
		db:            db,
		events:        events,
		registrations: registrations,
		coordinator:   coordinator,
		notifier:      notifier,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *EventService) CreateEvent(ctx context.Context, organizerID string, input EventInput) (*models.Event, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if input.Type == "" {
		input.Type = models.EventTypeMeetup
	}
	if !input.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, input.Type)
	}

	start, end := input.StartTime.UTC(), input.EndTime.UTC()
	if !start.After(s.now()) {
		return nil, fmt.Errorf("%w: start time must be in the future", ErrValidation)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end time must be after start time", ErrValidation)
	}
	if input.MaxParticipants != nil && *input.MaxParticipants < 1 {
		return nil, fmt.Errorf("%w: max participants must be at least 1", ErrValidation)
	}

	event := &models.Event{
		ID:              uuid.New().String(),
		Title:           input.Title,
		Description:     input.Description,
		Type:            input.Type,
		OrganizerID:     organizerID,
		StartTime:       start,
		EndTime:         end,
		MaxParticipants: input.MaxParticipants,
		Location:        input.Location,
		IsOnline:        input.IsOnline,
		CoverImage:      input.CoverImage,
		Images:          models.StringSlice(input.Images),
		Status:          models.EventStatusUpcoming,
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	s.log.Info("event created", zap.String("event_id", event.ID), zap.String("organizer_id", organizerID))
	return event, nil
}

func (s *EventService) Get(ctx context.Context, eventID string) (*models.Event, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	return event, nil
}

func (s *EventService) List(ctx context.Context, filter repositories.EventFilter) (*PaginatedEvents, error) {
	if filter.Status != "" && !validStatus(filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, filter.Type)
	}

	events, total, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if events == nil {
		events = []models.Event{}
	}

	return &PaginatedEvents{
		Events:     events,
		Page:       filter.Page,
		Limit:      filter.Limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(filter.Limit))),
	}, nil
}

// EnsureCanManage allows the organizer and admins
func (s *EventService) EnsureCanManage(ctx context.Context, eventID, userID string, isAdmin bool) (*models.Event, error) {
	event, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && event.OrganizerID != userID {
		return nil, fmt.Errorf("%w: only the organizer can manage this event", ErrForbidden)
	}
	return event, nil
}

// TransitionStatus is the manual status change. Cancellation is routed through
// the coordinator so registrations are released and users notified.
func (s *EventService) TransitionStatus(ctx context.Context, eventID string, next models.EventStatus) (*models.Event, error) {
	if !validStatus(next) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, next)
	}
	if next == models.EventStatusCancelled {
		return s.coordinator.CancelEvent(ctx, eventID)
	}

	var event *models.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events := s.events.WithTx(tx)
		locked, err := events.FindForUpdate(ctx, eventID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: event %s", ErrNotFound, eventID)
		}
		if err != nil {
			return fmt.Errorf("load event: %w", err)
		}
		if !locked.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, locked.Status, next)
		}

		if err := events.SetStatus(ctx, eventID, next); err != nil {
			return fmt.Errorf("set event status: %w", err)
		}
		if next == models.EventStatusEnded {
			if _, err := s.registrations.WithTx(tx).MarkAbsent(ctx, []string{eventID}); err != nil {
				return fmt.Errorf("mark absentees: %w", err)
			}
		}
		locked.Status = next
		event = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("event status changed", zap.String("event_id", eventID), zap.String("status", string(next)))
	return event, nil
}

type SweepResult struct {
	Started int64
	Ended   int64
	Absent  int64
}

// AdvanceStatuses applies the time-driven transitions: UPCOMING events whose
// start passed become ONGOING, open events whose end passed become ENDED and
// their leftover REGISTERED rows ABSENT.
func (s *EventService) AdvanceStatuses(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events := s.events.WithTx(tx)

		started, err := events.StartDue(ctx, now)
		if err != nil {
			return fmt.Errorf("start due events: %w", err)
		}
		result.Started = started

		ids, err := events.EndDueIDs(ctx, now)
		if err != nil {
			return fmt.Errorf("find ended events: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		if result.Ended, err = events.MarkEnded(ctx, ids); err != nil {
			return fmt.Errorf("end events: %w", err)
		}
		if result.Absent, err = s.registrations.WithTx(tx).MarkAbsent(ctx, ids); err != nil {
			return fmt.Errorf("mark absentees: %w", err)
		}
		return nil
	})
	if err != nil {
		return SweepResult{}, err
	}
	return result, nil
}

// SendReminders notifies registrants of events starting within window. Each
// event is claimed first so overlapping runs never remind twice.
func (s *EventService) SendReminders(ctx context.Context, window time.Duration) (int, error) {
	now := s.now()
	events, err := s.events.FindDueForReminder(ctx, now, window)
	if err != nil {
		return 0, fmt.Errorf("find events due for reminder: %w", err)
	}

	sent := 0
	for _, event := range events {
		claimed, err := s.events.ClaimReminder(ctx, event.ID, now)
		if err != nil {
			s.log.Error("failed to claim reminder", zap.String("event_id", event.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		userIDs, err := s.registrations.ActiveUserIDs(ctx, event.ID)
		if err != nil {
			s.log.Error("failed to load registrants", zap.String("event_id", event.ID), zap.Error(err))
			continue
		}
		if len(userIDs) == 0 || s.notifier == nil {
			continue
		}

		report := s.notifier.NotifyMany(ctx, userIDs, NotifyRequest{
			Type:       models.NotificationTypeEventReminder,
			Title:      "Event starting soon",
			Content:    fmt.Sprintf("%q starts at %s.", event.Title, event.StartTime.Format(time.RFC1123)),
			TargetType: models.TargetTypeEvent,
			TargetID:   event.ID,
		})
		sent += len(report.Created)
	}
	return sent, nil
}

func validStatus(status models.EventStatus) bool {
	switch status {
	case models.EventStatusUpcoming, models.EventStatusOngoing, models.EventStatusEnded, models.EventStatusCancelled:
		return true
	}
	return false
}
