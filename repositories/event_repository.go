package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gameverse-api/models"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// WithTx scopes the repository to a running transaction
func (r *EventRepository) WithTx(tx *gorm.DB) *EventRepository {
	return &EventRepository{db: tx}
}

type EventFilter struct {
	Status      models.EventStatus
	Type        models.EventType
	OrganizerID string
	Search      string
	Page        int
	Limit       int
}

func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *EventRepository) FindByID(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// FindForUpdate loads the event holding a row lock until the transaction ends.
// sqlite has no FOR UPDATE; its single writer connection already serializes.
func (r *EventRepository) FindForUpdate(ctx context.Context, id string) (*models.Event, error) {
	query := r.db.WithContext(ctx)
	if query.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var event models.Event
	if err := query.First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *EventRepository) List(ctx context.Context, filter EventFilter) ([]models.Event, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Event{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.OrganizerID != "" {
		query = query.Where("organizer_id = ?", filter.OrganizerID)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("title LIKE ? OR description LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []models.Event
	err := query.Order("start_time ASC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&events).Error
	return events, total, err
}

func (r *EventRepository) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Event{}).Where("id = ?", id).Updates(fields).Error
}

func (r *EventRepository) SetStatus(ctx context.Context, id string, status models.EventStatus) error {
	return r.Update(ctx, id, map[string]interface{}{"status": status})
}

// IncrementParticipants takes one seat if the event is still open and has
// room. Zero rows affected means it did not.
func (r *EventRepository) IncrementParticipants(ctx context.Context, id string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Event{}).
		Where("id = ? AND status = ?", id, models.EventStatusUpcoming).
		Where("max_participants IS NULL OR current_participants < max_participants").
		UpdateColumns(map[string]interface{}{
			"current_participants": gorm.Expr("current_participants + ?", 1),
			"updated_at":           time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

// DecrementParticipants releases n seats. Zero rows affected means the counter
// holds fewer than n.
func (r *EventRepository) DecrementParticipants(ctx context.Context, id string, n int) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Event{}).
		Where("id = ? AND current_participants >= ?", id, n).
		UpdateColumns(map[string]interface{}{
			"current_participants": gorm.Expr("current_participants - ?", n),
			"updated_at":           time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

// StartDue moves UPCOMING events whose start has passed, but whose end has not,
// to ONGOING.
func (r *EventRepository) StartDue(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Event{}).
		Where("status = ? AND start_time <= ? AND end_time > ?", models.EventStatusUpcoming, now, now).
		Update("status", models.EventStatusOngoing)
	return result.RowsAffected, result.Error
}

// EndDueIDs lists open events whose end time has passed
func (r *EventRepository) EndDueIDs(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Event{}).
		Where("status IN ? AND end_time <= ?", []models.EventStatus{models.EventStatusUpcoming, models.EventStatusOngoing}, now).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *EventRepository) MarkEnded(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&models.Event{}).
		Where("id IN ? AND status IN ?", ids, []models.EventStatus{models.EventStatusUpcoming, models.EventStatusOngoing}).
		Update("status", models.EventStatusEnded)
	return result.RowsAffected, result.Error
}

// FindDueForReminder returns upcoming events starting within window that have
// not been reminded yet.
func (r *EventRepository) FindDueForReminder(ctx context.Context, now time.Time, window time.Duration) ([]models.Event, error) {
	var events []models.Event
	err := r.db.WithContext(ctx).
		Where("status = ? AND start_time > ? AND start_time <= ? AND reminder_sent_at IS NULL",
			models.EventStatusUpcoming, now, now.Add(window)).
		Order("start_time ASC").
		Find(&events).Error
	return events, err
}

// ClaimReminder marks the reminder as sent; false means another run already did.
func (r *EventRepository) ClaimReminder(ctx context.Context, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Event{}).
		Where("id = ? AND reminder_sent_at IS NULL", id).
		UpdateColumn("reminder_sent_at", now)
	return result.RowsAffected == 1, result.Error
}
