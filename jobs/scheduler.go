package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gameverse-api/config"
	"gameverse-api/services"
)

type StatusAdvancer interface {
	AdvanceStatuses(ctx context.Context) (services.SweepResult, error)
}

type ReminderSender interface {
	SendReminders(ctx context.Context, window time.Duration) (int, error)
}

type NotificationPurger interface {
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// PushReplayer redelivers pushes parked while their recipient was offline
type PushReplayer interface {
	Replay(ctx context.Context) (int, error)
}

// StatusSweep moves events along their lifecycle as their times pass
func StatusSweep(events StatusAdvancer, log *zap.Logger) Task {
	return func(ctx context.Context) error {
		result, err := events.AdvanceStatuses(ctx)
		if err != nil {
			return err
		}
		if result.Started > 0 || result.Ended > 0 {
			log.Info("event statuses advanced",
				zap.Int64("started", result.Started),
				zap.Int64("ended", result.Ended),
				zap.Int64("absent", result.Absent),
			)
		}
		return nil
	}
}

func Reminders(events ReminderSender, window time.Duration, log *zap.Logger) Task {
	return func(ctx context.Context) error {
		sent, err := events.SendReminders(ctx, window)
		if err != nil {
			return err
		}
		if sent > 0 {
			log.Info("event reminders sent", zap.Int("notifications", sent))
		}
		return nil
	}
}

func Retention(notifications NotificationPurger, age time.Duration, log *zap.Logger) Task {
	return func(ctx context.Context) error {
		purged, err := notifications.PurgeOlderThan(ctx, age)
		if err != nil {
			return err
		}
		log.Info("old notifications purged", zap.Int64("rows", purged), zap.Duration("retention", age))
		return nil
	}
}

func FailedPushReplay(relay PushReplayer, log *zap.Logger) Task {
	return func(ctx context.Context) error {
		replayed, err := relay.Replay(ctx)
		if err != nil {
			return err
		}
		if replayed > 0 {
			log.Info("parked pushes replayed", zap.Int("frames", replayed))
		}
		return nil
	}
}

// Scheduler owns the background jobs of one API instance
type Scheduler struct {
	jobs []*PeriodicJob
}

// NewScheduler wires the configured jobs. relay may be nil when Redis is off.
func NewScheduler(
	cfg config.Config,
	events interface {
		StatusAdvancer
		ReminderSender
	},
	notifications NotificationPurger,
	relay PushReplayer,
	log *zap.Logger,
) *Scheduler {
	s := &Scheduler{}
	s.add("event-status-sweep", cfg.Jobs.StatusSweepInterval, StatusSweep(events, log), log)
	s.add("event-reminders", cfg.Jobs.ReminderInterval, Reminders(events, cfg.Jobs.ReminderWindow, log), log)
	s.add("notification-retention", cfg.Jobs.RetentionInterval, Retention(notifications, cfg.Notification.Retention, log), log)
	if relay != nil {
		s.add("failed-push-replay", cfg.Jobs.FailedPushInterval, FailedPushReplay(relay, log), log)
	}
	return s
}

func (s *Scheduler) add(name string, interval time.Duration, task Task, log *zap.Logger) {
	if interval <= 0 {
		log.Warn("job disabled, no interval configured", zap.String("job", name))
		return
	}
	s.jobs = append(s.jobs, NewPeriodicJob(name, interval, task, log))
}

func (s *Scheduler) Jobs() []*PeriodicJob {
	return s.jobs
}

func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		j.Start(ctx)
	}
}

func (s *Scheduler) Stop() {
	for _, j := range s.jobs {
		j.Stop()
	}
}
