package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gameverse-api/cache"
	"gameverse-api/database"
	"gameverse-api/models"
	"gameverse-api/repositories"
)

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db            *gorm.DB
	events        *repositories.EventRepository
	registrations *repositories.RegistrationRepository
	users         *repositories.UserRepository
	notifications *repositories.NotificationRepository
	games         *repositories.GameRepository
	queue         *recordingQueue
	notifier      *NotificationService
	coordinator   *RegistrationService
	eventService  *EventService
	gameService   *GameService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{
		db:            db,
		events:        repositories.NewEventRepository(db),
		registrations: repositories.NewRegistrationRepository(db),
		users:         repositories.NewUserRepository(db),
		notifications: repositories.NewNotificationRepository(db),
		games:         repositories.NewGameRepository(db),
		queue:         &recordingQueue{},
	}

	log := zap.NewNop()
	f.notifier = NewNotificationService(f.notifications, f.users, f.queue, cache.NewMemoryStore(), log)
	f.notifier.now = func() time.Time { return testNow }

	f.coordinator = NewRegistrationService(db, f.events, f.registrations, f.users, f.notifier, log)
	f.coordinator.now = func() time.Time { return testNow }

	f.eventService = NewEventService(db, f.events, f.registrations, f.coordinator, f.notifier, log)
	f.eventService.now = func() time.Time { return testNow }

	f.gameService = NewGameService(db, f.games, f.users, f.notifier, log)
	f.gameService.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	user := &models.User{
		ID:       uuid.New().String(),
		Name:     name,
		Handle:   fmt.Sprintf("%s_%s", name, uuid.New().String()[:8]),
		Email:    fmt.Sprintf("%s-%s@example.com", name, uuid.New().String()[:8]),
		Password: "x",
		Role:     models.RoleUser,
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func (f *fixture) manyUsers(t *testing.T, n int) []*models.User {
	t.Helper()
	out := make([]*models.User, n)
	for i := range out {
		out[i] = f.user(t, fmt.Sprintf("player%d", i))
	}
	return out
}

type eventOption func(*models.Event)

func withCapacity(n int) eventOption {
	return func(e *models.Event) { e.MaxParticipants = &n }
}

func startingAt(start time.Time) eventOption {
	return func(e *models.Event) {
		e.StartTime = start
		e.EndTime = start.Add(2 * time.Hour)
	}
}

func withStatus(status models.EventStatus) eventOption {
	return func(e *models.Event) { e.Status = status }
}

func (f *fixture) event(t *testing.T, organizer *models.User, opts ...eventOption) *models.Event {
	t.Helper()
	event := &models.Event{
		ID:          uuid.New().String(),
		Title:       "Friday Finals",
		Type:        models.EventTypeTournament,
		OrganizerID: organizer.ID,
		StartTime:   testNow.Add(24 * time.Hour),
		EndTime:     testNow.Add(26 * time.Hour),
		Status:      models.EventStatusUpcoming,
	}
	for _, opt := range opts {
		opt(event)
	}
	require.NoError(t, f.events.Create(context.Background(), event))
	return event
}

func (f *fixture) game(t *testing.T, title string, price float64, categories ...string) *models.Game {
	t.Helper()
	game, err := f.gameService.CreateGame(context.Background(), GameInput{
		Title:      title,
		Price:      price,
		Categories: categories,
	})
	require.NoError(t, err)
	return game
}

func (f *fixture) reload(t *testing.T, eventID string) *models.Event {
	t.Helper()
	event, err := f.events.FindByID(context.Background(), eventID)
	require.NoError(t, err)
	return event
}

func (f *fixture) notificationsOf(t *testing.T, userID string, typ models.NotificationType) []models.Notification {
	t.Helper()
	list, _, err := f.notifications.List(context.Background(), userID, typ, false, 1, 100)
	require.NoError(t, err)
	return list
}

// recordingQueue stands in for the dispatcher
type recordingQueue struct {
	mu    sync.Mutex
	items []*models.Notification
}

func (q *recordingQueue) Enqueue(n *models.Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
	return true
}

func (q *recordingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
