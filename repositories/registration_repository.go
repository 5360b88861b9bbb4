package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"gameverse-api/models"
)

type RegistrationRepository struct {
	db *gorm.DB
}

func NewRegistrationRepository(db *gorm.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

func (r *RegistrationRepository) WithTx(tx *gorm.DB) *RegistrationRepository {
	return &RegistrationRepository{db: tx}
}

// FindByEventAndUser returns the (event, user) row in any status
func (r *RegistrationRepository) FindByEventAndUser(ctx context.Context, eventID, userID string) (*models.EventRegistration, error) {
	var reg models.EventRegistration
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND user_id = ?", eventID, userID).
		First(&reg).Error
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// FindActive returns the REGISTERED row for (event, user)
func (r *RegistrationRepository) FindActive(ctx context.Context, eventID, userID string) (*models.EventRegistration, error) {
	var reg models.EventRegistration
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND user_id = ? AND status = ?", eventID, userID, models.RegistrationStatusRegistered).
		First(&reg).Error
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *RegistrationRepository) Create(ctx context.Context, reg *models.EventRegistration) error {
	return r.db.WithContext(ctx).Create(reg).Error
}

func (r *RegistrationRepository) Save(ctx context.Context, reg *models.EventRegistration) error {
	return r.db.WithContext(ctx).Save(reg).Error
}

func (r *RegistrationRepository) ActiveUserIDs(ctx context.Context, eventID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.EventRegistration{}).
		Where("event_id = ? AND status = ?", eventID, models.RegistrationStatusRegistered).
		Order("registered_at ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// CancelActive cancels every REGISTERED row of the event
func (r *RegistrationRepository) CancelActive(ctx context.Context, eventID string, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.EventRegistration{}).
		Where("event_id = ? AND status = ?", eventID, models.RegistrationStatusRegistered).
		Updates(map[string]interface{}{
			"status":       models.RegistrationStatusCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		})
	return result.RowsAffected, result.Error
}

// MarkAbsent closes out REGISTERED rows of events that have ended
func (r *RegistrationRepository) MarkAbsent(ctx context.Context, eventIDs []string) (int64, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Model(&models.EventRegistration{}).
		Where("event_id IN ? AND status = ?", eventIDs, models.RegistrationStatusRegistered).
		Update("status", models.RegistrationStatusAbsent)
	return result.RowsAffected, result.Error
}

func (r *RegistrationRepository) ListByUser(ctx context.Context, userID string, page, limit int) ([]models.EventRegistration, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.EventRegistration{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var regs []models.EventRegistration
	err := query.Preload("Event").
		Order("registered_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&regs).Error
	return regs, total, err
}

func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID string) ([]models.EventRegistration, error) {
	var regs []models.EventRegistration
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("event_id = ?", eventID).
		Order("registered_at ASC").
		Find(&regs).Error
	return regs, err
}
