package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"gameverse-api/cache"
	"gameverse-api/models"
	"gameverse-api/repositories"
)

const unreadCacheTTL = 5 * time.Minute

// NotifyRequest describes one notification. TargetType and TargetID are optional.
type NotifyRequest struct {
	UserID     string
	Type       models.NotificationType
	Title      string
	Content    string
	TargetType models.TargetType
	TargetID   string
	Payload    map[string]interface{}
}

type RecipientFailure struct {
	UserID string
	Err    error
}

// FanoutReport is what NotifyMany hands back instead of failing midway
type FanoutReport struct {
	Created  []*models.Notification
	Failures []RecipientFailure
}

// Err joins the per-recipient failures, nil when every recipient got a row
func (r *FanoutReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("user %s: %w", f.UserID, f.Err))
	}
	return errors.Join(errs...)
}

// Notifier is the fan-out surface the coordinator and controllers depend on
type Notifier interface {
	NotifyOne(ctx context.Context, req NotifyRequest) (*models.Notification, error)
	NotifyMany(ctx context.Context, userIDs []string, req NotifyRequest) *FanoutReport
}

// Enqueuer accepts persisted notifications for asynchronous delivery
type Enqueuer interface {
	Enqueue(n *models.Notification) bool
}

// UnreadPublisher pushes fresh unread counters to connected clients
type UnreadPublisher interface {
	PublishUnread(ctx context.Context, userID string, counts *models.UnreadCounts) error
}

type NotificationService struct {
	notifications *repositories.NotificationRepository
	users         *repositories.UserRepository
	dispatcher    Enqueuer
	cache         cache.Store
	unread        UnreadPublisher
	log           *zap.Logger
	now           func() time.Time
}

func NewNotificationService(
	notifications *repositories.NotificationRepository,
	users *repositories.UserRepository,
	dispatcher Enqueuer,
	store cache.Store,
	log *zap.Logger,
) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		users:         users,
		dispatcher:    dispatcher,
		cache:         store,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetUnreadPublisher wires the realtime layer once it exists
func (s *NotificationService) SetUnreadPublisher(p UnreadPublisher) {
	s.unread = p
}

// NotifyOne stores the notification, then queues it for delivery. A delivery
// failure later on never removes the stored row.
func (s *NotificationService) NotifyOne(ctx context.Context, req NotifyRequest) (*models.Notification, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown notification type %q", ErrValidation, req.Type)
	}
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}

	if _, err := s.users.FindByID(ctx, req.UserID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, req.UserID)
		}
		return nil, fmt.Errorf("load recipient: %w", err)
	}

	notification := &models.Notification{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Content:   req.Content,
		CreatedAt: s.now(),
	}
	if req.TargetType != "" && req.TargetID != "" {
		targetType, targetID := req.TargetType, req.TargetID
		notification.TargetType = &targetType
		notification.TargetID = &targetID
	}
	if req.Payload != nil {
		payload, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: payload: %v", ErrValidation, err)
		}
		notification.Payload = datatypes.JSON(payload)
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("store notification: %w", err)
	}
	s.invalidateUnread(ctx, req.UserID)

	if s.dispatcher != nil {
		s.dispatcher.Enqueue(notification)
	}
	return notification, nil
}

// NotifyMany applies NotifyOne to each distinct recipient. It never stops early;
// failures end up in the report.
func (s *NotificationService) NotifyMany(ctx context.Context, userIDs []string, req NotifyRequest) *FanoutReport {
	report := &FanoutReport{}
	seen := make(map[string]struct{}, len(userIDs))

	for _, userID := range userIDs {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		one := req
		one.UserID = userID
		notification, err := s.notifyOneSafe(ctx, one)
		if err != nil {
			s.log.Warn("fan-out recipient failed",
				zap.String("user_id", userID),
				zap.String("type", string(req.Type)),
				zap.Error(err),
			)
			report.Failures = append(report.Failures, RecipientFailure{UserID: userID, Err: err})
			continue
		}
		report.Created = append(report.Created, notification)
	}

	return report
}

func (s *NotificationService) notifyOneSafe(ctx context.Context, req NotifyRequest) (n *models.Notification, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notify panicked: %v", r)
		}
	}()
	return s.NotifyOne(ctx, req)
}

func (s *NotificationService) List(ctx context.Context, userID string, notificationType models.NotificationType, unreadOnly bool, page, limit int) (*models.PaginatedNotifications, error) {
	if notificationType != "" && !notificationType.Valid() {
		return nil, fmt.Errorf("%w: unknown notification type %q", ErrValidation, notificationType)
	}

	notifications, total, err := s.notifications.List(ctx, userID, notificationType, unreadOnly, page, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	now := s.now()
	responses := make([]models.NotificationResponse, 0, len(notifications))
	for i := range notifications {
		responses = append(responses, notifications[i].ToResponse(now))
	}

	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	return &models.PaginatedNotifications{
		Notifications: responses,
		Page:          page,
		Limit:         limit,
		Total:         total,
		HasMore:       page < totalPages,
		TotalPages:    totalPages,
	}, nil
}

func (s *NotificationService) UnreadCounts(ctx context.Context, userID string) (*models.UnreadCounts, error) {
	key := unreadCacheKey(userID)
	if s.cache != nil {
		var cached models.UnreadCounts
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warn("unread count cache read failed", zap.String("user_id", userID), zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	byType, err := s.notifications.CountUnreadByType(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count unread notifications: %w", err)
	}
	counts := &models.UnreadCounts{ByType: byType}
	for _, n := range byType {
		counts.Total += n
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, counts, unreadCacheTTL); err != nil {
			s.log.Warn("unread count cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return counts, nil
}

// MarkRead is idempotent for notifications that are already read
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	rows, err := s.notifications.MarkRead(ctx, notificationID, userID, s.now())
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if rows == 0 {
		if _, err := s.notifications.FindForUser(ctx, notificationID, userID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: notification %s", ErrNotFound, notificationID)
			}
			return fmt.Errorf("load notification: %w", err)
		}
		return nil
	}
	s.readStateChanged(ctx, userID)
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	rows, err := s.notifications.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	if rows > 0 {
		s.readStateChanged(ctx, userID)
	}
	return rows, nil
}

func (s *NotificationService) Delete(ctx context.Context, userID, notificationID string) error {
	rows, err := s.notifications.Delete(ctx, notificationID, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: notification %s", ErrNotFound, notificationID)
	}
	s.readStateChanged(ctx, userID)
	return nil
}

// PurgeOlderThan deletes notifications created before now-age
func (s *NotificationService) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	rows, err := s.notifications.DeleteOlderThan(ctx, s.now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	if rows > 0 && s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, unreadCacheKey("*")); err != nil {
			s.log.Warn("unread count cache purge failed", zap.Error(err))
		}
	}
	return rows, nil
}

func (s *NotificationService) readStateChanged(ctx context.Context, userID string) {
	s.invalidateUnread(ctx, userID)
	if s.unread == nil {
		return
	}
	counts, err := s.UnreadCounts(ctx, userID)
	if err != nil {
		s.log.Warn("could not refresh unread counts", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if err := s.unread.PublishUnread(ctx, userID, counts); err != nil {
		s.log.Warn("could not publish unread counts", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *NotificationService) invalidateUnread(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, unreadCacheKey(userID)); err != nil {
		s.log.Warn("unread count cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func unreadCacheKey(userID string) string {
	return "notifications:unread:" + userID
}
