package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gameverse-api/models"
	"gameverse-api/repositories"
)

// CheckCapacity reports whether the event accepts another registration right now
func CheckCapacity(event *models.Event) bool {
	if event.Status != models.EventStatusUpcoming {
		return false
	}
	return event.MaxParticipants == nil || event.CurrentParticipants < *event.MaxParticipants
}

// EventRegistry owns the participant counter. Every method runs inside the
// caller's transaction so the counter moves together with the registration rows.
type EventRegistry struct {
	events *repositories.EventRepository
	log    *zap.Logger
}

func NewEventRegistry(events *repositories.EventRepository, log *zap.Logger) *EventRegistry {
	return &EventRegistry{events: events, log: log}
}

// Lock loads the event under a row lock held until tx ends
func (r *EventRegistry) Lock(ctx context.Context, tx *gorm.DB, eventID string) (*models.Event, error) {
	event, err := r.events.WithTx(tx).FindForUpdate(ctx, eventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("load event: %w", err)
	}
	return event, nil
}

// Admit takes a seat. The conditional update re-checks status and capacity in
// the database, so a stale in-memory copy can never overbook.
func (r *EventRegistry) Admit(ctx context.Context, tx *gorm.DB, event *models.Event) error {
	if !CheckCapacity(event) {
		return ErrCapacityExceeded
	}

	rows, err := r.events.WithTx(tx).IncrementParticipants(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("increment participants: %w", err)
	}
	if rows == 0 {
		return ErrCapacityExceeded
	}
	event.CurrentParticipants++
	return nil
}

// Release gives back n seats
func (r *EventRegistry) Release(ctx context.Context, tx *gorm.DB, event *models.Event, n int) error {
	if n <= 0 {
		return nil
	}

	rows, err := r.events.WithTx(tx).DecrementParticipants(ctx, event.ID, n)
	if err != nil {
		return fmt.Errorf("decrement participants: %w", err)
	}
	if rows == 0 {
		r.log.Error("participant counter would go negative",
			zap.String("event_id", event.ID),
			zap.Int("current_participants", event.CurrentParticipants),
			zap.Int("release", n),
		)
		return fmt.Errorf("%w: event %s holds %d, releasing %d", ErrParticipantUnderflow, event.ID, event.CurrentParticipants, n)
	}
	event.CurrentParticipants -= n
	return nil
}
