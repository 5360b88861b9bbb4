package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"gameverse-api/models"
)

func TestCheckCapacity(t *testing.T) {
	two := 2
	tests := []struct {
		name  string
		event models.Event
		want  bool
	}{
		{"unlimited upcoming", models.Event{Status: models.EventStatusUpcoming, CurrentParticipants: 500}, true},
		{"room left", models.Event{Status: models.EventStatusUpcoming, MaxParticipants: &two, CurrentParticipants: 1}, true},
		{"full", models.Event{Status: models.EventStatusUpcoming, MaxParticipants: &two, CurrentParticipants: 2}, false},
		{"ongoing", models.Event{Status: models.EventStatusOngoing}, false},
		{"cancelled", models.Event{Status: models.EventStatusCancelled}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckCapacity(&tt.event))
		})
	}
}

func TestRegister_Succeeds(t *testing.T) {
	f := newFixture(t)
	organizer, player := f.user(t, "org"), f.user(t, "kim")
	event := f.event(t, organizer, withCapacity(10))

	reg, err := f.coordinator.Register(context.Background(), event.ID, player.ID, RegisterInput{ContactInfo: "kim#1234", Remark: "mid lane"})
	require.NoError(t, err)

	assert.Equal(t, models.RegistrationStatusRegistered, reg.Status)
	assert.Equal(t, "kim#1234", reg.ContactInfo)
	assert.True(t, reg.RegisteredAt.Equal(testNow))
	assert.Equal(t, 1, f.reload(t, event.ID).CurrentParticipants)

	confirmations := f.notificationsOf(t, player.ID, models.NotificationTypeEventRegister)
	require.Len(t, confirmations, 1)
	require.NotNil(t, confirmations[0].TargetID)
	assert.Equal(t, event.ID, *confirmations[0].TargetID)
	assert.Equal(t, 1, f.queue.len())
}

func TestRegister_Failures(t *testing.T) {
	f := newFixture(t)
	organizer, player := f.user(t, "org"), f.user(t, "kim")
	ctx := context.Background()

	t.Run("unknown event", func(t *testing.T) {
		_, err := f.coordinator.Register(ctx, "missing", player.ID, RegisterInput{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown user", func(t *testing.T) {
		event := f.event(t, organizer)
		_, err := f.coordinator.Register(ctx, event.ID, "ghost", RegisterInput{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("event not upcoming", func(t *testing.T) {
		event := f.event(t, organizer, withStatus(models.EventStatusCancelled))
		_, err := f.coordinator.Register(ctx, event.ID, player.ID, RegisterInput{})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("start time equals now", func(t *testing.T) {
		event := f.event(t, organizer, startingAt(testNow))
		_, err := f.coordinator.Register(ctx, event.ID, player.ID, RegisterInput{})
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Zero(t, f.reload(t, event.ID).CurrentParticipants)
	})

	t.Run("already registered", func(t *testing.T) {
		event := f.event(t, organizer)
		_, err := f.coordinator.Register(ctx, event.ID, player.ID, RegisterInput{})
		require.NoError(t, err)

		_, err = f.coordinator.Register(ctx, event.ID, player.ID, RegisterInput{})
		assert.ErrorIs(t, err, ErrDuplicateRegistration)
		assert.Equal(t, 1, f.reload(t, event.ID).CurrentParticipants)
	})
}

// with one seat left the second registrant gets EVENT_FULL
func TestRegister_LastSeatGoesToOneUser(t *testing.T) {
	f := newFixture(t)
	organizer, a, b := f.user(t, "org"), f.user(t, "alice"), f.user(t, "bob")
	event := f.event(t, organizer, withCapacity(1))

	_, err := f.coordinator.Register(context.Background(), event.ID, a.ID, RegisterInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.reload(t, event.ID).CurrentParticipants)

	_, err = f.coordinator.Register(context.Background(), event.ID, b.ID, RegisterInput{})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 1, f.reload(t, event.ID).CurrentParticipants)
}

func TestRegister_ConcurrentAttemptsNeverOverbook(t *testing.T) {
	f := newFixture(t)
	organizer := f.user(t, "org")
	players := f.manyUsers(t, 12)
	event := f.event(t, organizer, withCapacity(5))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		full      int
		other     []error
	)
	for _, p := range players {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := f.coordinator.Register(context.Background(), event.ID, userID, RegisterInput{})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrCapacityExceeded):
				full++
			default:
				other = append(other, err)
			}
		}(p.ID)
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 7, full)

	reloaded := f.reload(t, event.ID)
	assert.Equal(t, 5, reloaded.CurrentParticipants)
	var held int64
	require.NoError(t, f.db.Model(&models.EventRegistration{}).
		Where("event_id = ? AND status <> ?", event.ID, models.RegistrationStatusCancelled).
		Count(&held).Error)
	assert.EqualValues(t, 5, held)
}

func TestCancel_SecondCallIsNotFound(t *testing.T) {
	f := newFixture(t)
	organizer, player := f.user(t, "org"), f.user(t, "kim")
	event := f.event(t, organizer, withCapacity(3))
	ctx := context.Background()

	_, err := f.coordinator.Register(ctx, event.ID, player.ID, RegisterInput{})
	require.NoError(t, err)

	require.NoError(t, f.coordinator.Cancel(ctx, event.ID, player.ID))
	assert.Zero(t, f.reload(t, event.ID).CurrentParticipants)

	err = f.coordinator.Cancel(ctx, event.ID, player.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.reload(t, event.ID).CurrentParticipants)

	reg, err := f.registrations.FindByEventAndUser(ctx, event.ID, player.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusCancelled, reg.Status)
	require.NotNil(t, reg.CancelledAt)
	assert.True(t, reg.CancelledAt.Equal(testNow))
}

func TestCancel_AfterStartIsInvalidState(t *testing.T) {
	f := newFixture(t)
	organizer, player := f.user(t, "org"), f.user(t, "kim")
	event := f.event(t, organizer)
	ctx := context.Background()

	_, err := f.coordinator.Register(ctx, event.ID, player.ID, RegisterInput{})
	require.NoError(t, err)

	f.coordinator.now = func() time.Time { return event.StartTime.Add(time.Minute) }
	err = f.coordinator.Cancel(ctx, event.ID, player.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, f.reload(t, event.ID).CurrentParticipants)
}

func TestRegisterCancelRegister_NetZero(t *testing.T) {
	f := newFixture(t)
	organizer, player, other := f.user(t, "org"), f.user(t, "kim"), f.user(t, "lee")
	event := f.event(t, organizer, withCapacity(5))
	ctx := context.Background()

	_, err := f.coordinator.Register(ctx, event.ID, other.ID, RegisterInput{})
	require.NoError(t, err)
	before := f.reload(t, event.ID).CurrentParticipants

	first, err := f.coordinator.Register(ctx, event.ID, player.ID, RegisterInput{Remark: "first"})
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Cancel(ctx, event.ID, player.ID))
	second, err := f.coordinator.Register(ctx, event.ID, player.ID, RegisterInput{Remark: "second"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Nil(t, second.CancelledAt)
	assert.Equal(t, "second", second.Remark)
	assert.Equal(t, before+1, f.reload(t, event.ID).CurrentParticipants)

	active, err := f.registrations.ActiveUserIDs(ctx, event.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{other.ID, player.ID}, active)

	require.NoError(t, f.coordinator.Cancel(ctx, event.ID, player.ID))
	assert.Equal(t, before, f.reload(t, event.ID).CurrentParticipants)
}

// cancelling an event cancels every registration and notifies each registrant once
func TestCancelEvent_CancelsRegistrationsAndNotifies(t *testing.T) {
	f := newFixture(t)
	organizer := f.user(t, "org")
	players := f.manyUsers(t, 3)
	event := f.event(t, organizer, withCapacity(10))
	ctx := context.Background()

	for _, p := range players {
		_, err := f.coordinator.Register(ctx, event.ID, p.ID, RegisterInput{})
		require.NoError(t, err)
	}

	cancelled, err := f.coordinator.CancelEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusCancelled, cancelled.Status)

	reloaded := f.reload(t, event.ID)
	assert.Equal(t, models.EventStatusCancelled, reloaded.Status)
	assert.Zero(t, reloaded.CurrentParticipants)

	regs, err := f.registrations.ListByEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, regs, 3)
	for _, reg := range regs {
		assert.Equal(t, models.RegistrationStatusCancelled, reg.Status)
	}

	for _, p := range players {
		assert.Len(t, f.notificationsOf(t, p.ID, models.NotificationTypeEventCancel), 1)
	}
	assert.Empty(t, f.notificationsOf(t, organizer.ID, models.NotificationTypeEventCancel))
}

func TestCancelEvent_TerminalStates(t *testing.T) {
	f := newFixture(t)
	organizer := f.user(t, "org")
	ctx := context.Background()

	for _, status := range []models.EventStatus{models.EventStatusEnded, models.EventStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			event := f.event(t, organizer, withStatus(status))
			_, err := f.coordinator.CancelEvent(ctx, event.ID)
			assert.ErrorIs(t, err, ErrInvalidState)
		})
	}

	t.Run("ongoing keeps attended seats", func(t *testing.T) {
		player := f.user(t, "kim")
		event := f.event(t, organizer)
		_, err := f.coordinator.Register(ctx, event.ID, player.ID, RegisterInput{})
		require.NoError(t, err)

		require.NoError(t, f.db.Model(&models.Event{}).Where("id = ?", event.ID).
			Update("status", models.EventStatusOngoing).Error)

		_, err = f.coordinator.CancelEvent(ctx, event.ID)
		require.NoError(t, err)
		assert.Zero(t, f.reload(t, event.ID).CurrentParticipants)
	})
}

func TestUpdateEvent(t *testing.T) {
	f := newFixture(t)
	organizer, player := f.user(t, "org"), f.user(t, "kim")
	ctx := context.Background()

	t.Run("notifies active registrants", func(t *testing.T) {
		event := f.event(t, organizer, withCapacity(5))
		_, err := f.coordinator.Register(ctx, event.ID, player.ID, RegisterInput{})
		require.NoError(t, err)

		title := "Friday Grand Finals"
		location := "Hall B"
		updated, err := f.coordinator.UpdateEvent(ctx, event.ID, EventUpdate{Title: &title, Location: &location})
		require.NoError(t, err)
		assert.Equal(t, title, updated.Title)
		assert.Equal(t, location, updated.Location)
		assert.Len(t, f.notificationsOf(t, player.ID, models.NotificationTypeEventUpdate), 1)
	})

	t.Run("capacity below current count", func(t *testing.T) {
		event := f.event(t, organizer, withCapacity(5))
		_, err := f.coordinator.Register(ctx, event.ID, f.user(t, "a").ID, RegisterInput{})
		require.NoError(t, err)
		_, err = f.coordinator.Register(ctx, event.ID, f.user(t, "b").ID, RegisterInput{})
		require.NoError(t, err)

		one := 1
		_, err = f.coordinator.UpdateEvent(ctx, event.ID, EventUpdate{MaxParticipants: &one})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("invalid window", func(t *testing.T) {
		event := f.event(t, organizer)
		end := event.StartTime.Add(-time.Hour)
		_, err := f.coordinator.UpdateEvent(ctx, event.ID, EventUpdate{EndTime: &end})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("after start", func(t *testing.T) {
		event := f.event(t, organizer, startingAt(testNow.Add(-time.Minute)))
		title := "too late"
		_, err := f.coordinator.UpdateEvent(ctx, event.ID, EventUpdate{Title: &title})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("moving the start re-arms the reminder", func(t *testing.T) {
		event := f.event(t, organizer)
		claimed, err := f.events.ClaimReminder(ctx, event.ID, testNow)
		require.NoError(t, err)
		require.True(t, claimed)

		start := event.StartTime.Add(48 * time.Hour)
		end := start.Add(time.Hour)
		_, err = f.coordinator.UpdateEvent(ctx, event.ID, EventUpdate{StartTime: &start, EndTime: &end})
		require.NoError(t, err)
		assert.Nil(t, f.reload(t, event.ID).ReminderSentAt)
	})
}

func TestCheckIn(t *testing.T) {
	f := newFixture(t)
	organizer, player := f.user(t, "org"), f.user(t, "kim")
	ctx := context.Background()
	event := f.event(t, organizer, withCapacity(3))

	_, err := f.coordinator.Register(ctx, event.ID, player.ID, RegisterInput{})
	require.NoError(t, err)

	_, err = f.coordinator.CheckIn(ctx, event.ID, player.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "check-in before start")

	// the sweeper has not run, so the event is still UPCOMING
	f.coordinator.now = func() time.Time { return event.StartTime.Add(10 * time.Minute) }
	require.Equal(t, models.EventStatusUpcoming, f.reload(t, event.ID).Status)
	reg, err := f.coordinator.CheckIn(ctx, event.ID, player.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusAttended, reg.Status)
	require.NotNil(t, reg.CheckedInAt)

	// attending keeps the seat
	assert.Equal(t, 1, f.reload(t, event.ID).CurrentParticipants)

	_, err = f.coordinator.CheckIn(ctx, event.ID, player.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckIn_ClosedOnceTheEventEnds(t *testing.T) {
	f := newFixture(t)
	organizer, player := f.user(t, "org"), f.user(t, "kim")
	ctx := context.Background()
	event := f.event(t, organizer, withCapacity(3))

	_, err := f.coordinator.Register(ctx, event.ID, player.ID, RegisterInput{})
	require.NoError(t, err)

	f.coordinator.now = func() time.Time { return event.EndTime }
	_, err = f.coordinator.CheckIn(ctx, event.ID, player.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRelease_UnderflowIsReported(t *testing.T) {
	f := newFixture(t)
	organizer := f.user(t, "org")
	event := f.event(t, organizer)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.coordinator.registry.Release(context.Background(), tx, event, 1)
	})
	assert.ErrorIs(t, err, ErrParticipantUnderflow)
	assert.Zero(t, f.reload(t, event.ID).CurrentParticipants)
}
