package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gameverse-api/database"
	"gameverse-api/models"
	"gameverse-api/repositories"
	"gameverse-api/telemetry"
)

type RegisterInput struct {
	ContactInfo string
	Remark      string
}

// EventUpdate carries the fields to change; nil means unchanged
type EventUpdate struct {
	Title           *string
	Description     *string
	StartTime       *time.Time
	EndTime         *time.Time
	MaxParticipants *int
	Location        *string
	IsOnline        *bool
	CoverImage      *string
	Images          []string
}

// RegistrationService coordinates every write that touches the participant
// counter. Each operation commits the counter change and the registration rows
// in one transaction and only notifies after the commit.
type RegistrationService struct {
	db            *gorm.DB
	events        *repositories.EventRepository
	registrations *repositories.RegistrationRepository
	users         *repositories.UserRepository
	registry      *EventRegistry
	notifier      Notifier
	log           *zap.Logger
	now           func() time.Time

	registered metric.Int64Counter
	rejected   metric.Int64Counter
}

func NewRegistrationService(
	db *gorm.DB,
	events *repositories.EventRepository,
	registrations *repositories.RegistrationRepository,
	users *repositories.UserRepository,
	notifier Notifier,
	log *zap.Logger,
) *RegistrationService {
	return &RegistrationService{
		db:            db,
		events:        events,
		registrations: registrations,
		users:         users,
		registry:      NewEventRegistry(events, log),
		notifier:      notifier,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
		registered:    telemetry.Counter("event_registrations_total", "Successful event registrations"),
		rejected:      telemetry.Counter("event_registrations_rejected_total", "Registrations rejected because the event was full"),
	}
}

func (s *RegistrationService) Register(ctx context.Context, eventID, userID string, input RegisterInput) (reg *models.EventRegistration, err error) {
	ctx, span := s.startSpan(ctx, "registration.register", eventID, userID)
	defer func() { endSpan(span, err) }()

	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	var event *models.Event
	err = s.transact(ctx, func(tx *gorm.DB) error {
		now := s.now()

		locked, err := s.registry.Lock(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if locked.Status != models.EventStatusUpcoming {
			return fmt.Errorf("%w: event is %s", ErrInvalidState, locked.Status)
		}
		if locked.HasStarted(now) {
			return fmt.Errorf("%w: event has already started", ErrInvalidState)
		}

		regs := s.registrations.WithTx(tx)
		existing, err := regs.FindByEventAndUser(ctx, eventID, userID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load registration: %w", err)
		}
		if existing != nil && existing.Status != models.RegistrationStatusCancelled {
			return ErrDuplicateRegistration
		}

		if err := s.registry.Admit(ctx, tx, locked); err != nil {
			return err
		}

		if existing != nil {
			existing.Status = models.RegistrationStatusRegistered
			existing.ContactInfo = input.ContactInfo
			existing.Remark = input.Remark
			existing.RegisteredAt = now
			existing.CancelledAt = nil
			existing.CheckedInAt = nil
			if err := regs.Save(ctx, existing); err != nil {
				return fmt.Errorf("reactivate registration: %w", err)
			}
			reg = existing
		} else {
			reg = &models.EventRegistration{
				ID:           uuid.New().String(),
				EventID:      eventID,
				UserID:       userID,
				Status:       models.RegistrationStatusRegistered,
				ContactInfo:  input.ContactInfo,
				Remark:       input.Remark,
				RegisteredAt: now,
			}
			if err := regs.Create(ctx, reg); err != nil {
				if database.IsDuplicateKey(err) {
					return ErrDuplicateRegistration
				}
				return fmt.Errorf("create registration: %w", err)
			}
		}

		event = locked
		return nil
	})
	if err != nil {
		if database.IsRetryableConflict(err) {
			err = fmt.Errorf("%w: concurrent registrations kept conflicting", ErrCapacityExceeded)
		}
		if errors.Is(err, ErrCapacityExceeded) {
			s.rejected.Add(ctx, 1, metric.WithAttributes(telemetry.EventIDAttr(eventID)))
		}
		return nil, err
	}

	s.registered.Add(ctx, 1, metric.WithAttributes(telemetry.EventIDAttr(eventID)))
	s.log.Info("user registered for event",
		zap.String("event_id", eventID),
		zap.String("user_id", userID),
		zap.Int("current_participants", event.CurrentParticipants),
	)

	s.notifyOne(ctx, NotifyRequest{
		UserID:     userID,
		Type:       models.NotificationTypeEventRegister,
		Title:      "Registration confirmed",
		Content:    fmt.Sprintf("You are registered for %q, starting %s.", event.Title, event.StartTime.Format(time.RFC1123)),
		TargetType: models.TargetTypeEvent,
		TargetID:   eventID,
	})

	reg.Event = event
	return reg, nil
}

// Cancel withdraws the user's active registration. A second call finds no
// active registration and fails with ErrNotFound.
func (s *RegistrationService) Cancel(ctx context.Context, eventID, userID string) (err error) {
	ctx, span := s.startSpan(ctx, "registration.cancel", eventID, userID)
	defer func() { endSpan(span, err) }()

	err = s.transact(ctx, func(tx *gorm.DB) error {
		now := s.now()

		event, err := s.registry.Lock(ctx, tx, eventID)
		if err != nil {
			return err
		}

		regs := s.registrations.WithTx(tx)
		reg, err := regs.FindActive(ctx, eventID, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: no active registration", ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load registration: %w", err)
		}

		if event.HasStarted(now) {
			return fmt.Errorf("%w: event has already started", ErrInvalidState)
		}

		reg.Status = models.RegistrationStatusCancelled
		reg.CancelledAt = &now
		if err := regs.Save(ctx, reg); err != nil {
			return fmt.Errorf("cancel registration: %w", err)
		}
		return s.registry.Release(ctx, tx, event, 1)
	})
	if err != nil {
		return conflictOrErr(err)
	}

	s.log.Info("registration cancelled", zap.String("event_id", eventID), zap.String("user_id", userID))
	return nil
}

// CancelEvent cancels the event and every active registration, then tells each
// affected user.
func (s *RegistrationService) CancelEvent(ctx context.Context, eventID string) (event *models.Event, err error) {
	ctx, span := s.startSpan(ctx, "registration.cancel_event", eventID, "")
	defer func() { endSpan(span, err) }()

	var affected []string
	err = s.transact(ctx, func(tx *gorm.DB) error {
		locked, err := s.registry.Lock(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if !locked.Status.CanTransitionTo(models.EventStatusCancelled) {
			return fmt.Errorf("%w: event is %s", ErrInvalidState, locked.Status)
		}

		regs := s.registrations.WithTx(tx)
		affected, err = regs.ActiveUserIDs(ctx, eventID)
		if err != nil {
			return fmt.Errorf("load active registrations: %w", err)
		}

		cancelled, err := regs.CancelActive(ctx, eventID, s.now())
		if err != nil {
			return fmt.Errorf("cancel registrations: %w", err)
		}
		if err := s.registry.Release(ctx, tx, locked, int(cancelled)); err != nil {
			return err
		}

		if err := s.events.WithTx(tx).SetStatus(ctx, eventID, models.EventStatusCancelled); err != nil {
			return fmt.Errorf("set event status: %w", err)
		}
		locked.Status = models.EventStatusCancelled
		event = locked
		return nil
	})
	if err != nil {
		return nil, conflictOrErr(err)
	}

	s.log.Info("event cancelled",
		zap.String("event_id", eventID),
		zap.Int("registrations_cancelled", len(affected)),
	)

	s.notifyMany(ctx, affected, NotifyRequest{
		Type:       models.NotificationTypeEventCancel,
		Title:      "Event cancelled",
		Content:    fmt.Sprintf("%q has been cancelled by the organizer.", event.Title),
		TargetType: models.TargetTypeEvent,
		TargetID:   eventID,
	})
	return event, nil
}

func (s *RegistrationService) UpdateEvent(ctx context.Context, eventID string, update EventUpdate) (event *models.Event, err error) {
	ctx, span := s.startSpan(ctx, "registration.update_event", eventID, "")
	defer func() { endSpan(span, err) }()

	var registrants []string
	err = s.transact(ctx, func(tx *gorm.DB) error {
		now := s.now()

		locked, err := s.registry.Lock(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if locked.Status != models.EventStatusUpcoming || locked.HasStarted(now) {
			return fmt.Errorf("%w: event can no longer be changed", ErrInvalidState)
		}

		fields, err := update.fields(locked, now)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			event = locked
			return nil
		}

		events := s.events.WithTx(tx)
		if err := events.Update(ctx, eventID, fields); err != nil {
			return fmt.Errorf("update event: %w", err)
		}
		if event, err = events.FindByID(ctx, eventID); err != nil {
			return fmt.Errorf("reload event: %w", err)
		}

		registrants, err = s.registrations.WithTx(tx).ActiveUserIDs(ctx, eventID)
		if err != nil {
			return fmt.Errorf("load active registrations: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, conflictOrErr(err)
	}

	if len(registrants) > 0 {
		s.notifyMany(ctx, registrants, NotifyRequest{
			Type:       models.NotificationTypeEventUpdate,
			Title:      "Event updated",
			Content:    fmt.Sprintf("The details of %q have changed.", event.Title),
			TargetType: models.TargetTypeEvent,
			TargetID:   eventID,
		})
	}
	return event, nil
}

// fields validates the update against the locked event and returns the columns
// to write.
func (u EventUpdate) fields(current *models.Event, now time.Time) (map[string]interface{}, error) {
	fields := make(map[string]interface{})

	if u.Title != nil {
		if *u.Title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrValidation)
		}
		fields["title"] = *u.Title
	}
	if u.Description != nil {
		fields["description"] = *u.Description
	}
	if u.Location != nil {
		fields["location"] = *u.Location
	}
	if u.IsOnline != nil {
		fields["is_online"] = *u.IsOnline
	}
	if u.CoverImage != nil {
		fields["cover_image"] = *u.CoverImage
	}
	if u.Images != nil {
		fields["images"] = models.StringSlice(u.Images)
	}

	start, end := current.StartTime, current.EndTime
	if u.StartTime != nil {
		start = u.StartTime.UTC()
	}
	if u.EndTime != nil {
		end = u.EndTime.UTC()
	}
	if u.StartTime != nil || u.EndTime != nil {
		if !start.After(now) {
			return nil, fmt.Errorf("%w: start time must be in the future", ErrValidation)
		}
		if !end.After(start) {
			return nil, fmt.Errorf("%w: end time must be after start time", ErrValidation)
		}
		fields["start_time"] = start
		fields["end_time"] = end
		if !start.Equal(current.StartTime) {
			fields["reminder_sent_at"] = nil
		}
	}

	if u.MaxParticipants != nil {
		limit := *u.MaxParticipants
		if limit < 1 {
			return nil, fmt.Errorf("%w: max participants must be at least 1", ErrValidation)
		}
		if limit < current.CurrentParticipants {
			return nil, fmt.Errorf("%w: max participants cannot drop below the %d already registered", ErrValidation, current.CurrentParticipants)
		}
		fields["max_participants"] = limit
	}

	return fields, nil
}

// CheckIn marks an active registration ATTENDED once the event is running
func (s *RegistrationService) CheckIn(ctx context.Context, eventID, userID string) (reg *models.EventRegistration, err error) {
	ctx, span := s.startSpan(ctx, "registration.check_in", eventID, userID)
	defer func() { endSpan(span, err) }()

	err = s.transact(ctx, func(tx *gorm.DB) error {
		now := s.now()

		event, err := s.registry.Lock(ctx, tx, eventID)
		if err != nil {
			return err
		}
		// UPCOMING is accepted too: the sweeper may not have flipped it yet
		if event.Status.IsTerminal() || !event.HasStarted(now) || !now.Before(event.EndTime) {
			return fmt.Errorf("%w: check-in is only open while the event runs", ErrInvalidState)
		}

		regs := s.registrations.WithTx(tx)
		found, err := regs.FindActive(ctx, eventID, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: no active registration", ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load registration: %w", err)
		}

		found.Status = models.RegistrationStatusAttended
		found.CheckedInAt = &now
		if err := regs.Save(ctx, found); err != nil {
			return fmt.Errorf("check in: %w", err)
		}
		reg = found
		return nil
	})
	if err != nil {
		return nil, conflictOrErr(err)
	}
	return reg, nil
}

// FindActive returns the caller's REGISTERED row for the event
func (s *RegistrationService) FindActive(ctx context.Context, eventID, userID string) (*models.EventRegistration, error) {
	reg, err := s.registrations.FindActive(ctx, eventID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no active registration", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load registration: %w", err)
	}
	return reg, nil
}

func (s *RegistrationService) ListForUser(ctx context.Context, userID string, page, limit int) ([]models.EventRegistration, int64, error) {
	regs, total, err := s.registrations.ListByUser(ctx, userID, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}
	return regs, total, nil
}

func (s *RegistrationService) ListForEvent(ctx context.Context, eventID string) ([]models.EventRegistration, error) {
	regs, err := s.registrations.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

// transact runs fn in a transaction and retries it once on a lock conflict
func (s *RegistrationService) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	if err == nil || !database.IsRetryableConflict(err) {
		return err
	}

	s.log.Warn("transaction conflict, retrying once", zap.Error(err))
	return s.db.WithContext(ctx).Transaction(fn)
}

func conflictOrErr(err error) error {
	if database.IsRetryableConflict(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *RegistrationService) notifyOne(ctx context.Context, req NotifyRequest) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.NotifyOne(ctx, req); err != nil {
		s.log.Warn("notification not stored",
			zap.String("user_id", req.UserID),
			zap.String("type", string(req.Type)),
			zap.Error(err),
		)
	}
}

func (s *RegistrationService) notifyMany(ctx context.Context, userIDs []string, req NotifyRequest) {
	if s.notifier == nil || len(userIDs) == 0 {
		return
	}
	report := s.notifier.NotifyMany(ctx, userIDs, req)
	if len(report.Failures) > 0 {
		s.log.Warn("fan-out finished with failures",
			zap.String("type", string(req.Type)),
			zap.Int("created", len(report.Created)),
			zap.Int("failed", len(report.Failures)),
		)
	}
}

func (s *RegistrationService) startSpan(ctx context.Context, name, eventID, userID string) (context.Context, trace.Span) {
	ctx, span := telemetry.Tracer().Start(ctx, name, trace.WithAttributes(telemetry.EventIDAttr(eventID)))
	if userID != "" {
		span.SetAttributes(telemetry.UserIDAttr(userID))
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
