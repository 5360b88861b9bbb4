// File: /jobs/job.go
package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one run of a job
type Task func(ctx context.Context) error

// PeriodicJob runs a task right away and then on every tick. Runs never
// overlap: ticks that fire while a run is in progress are dropped.
type PeriodicJob struct {
	name     string
	interval time.Duration
	task     Task
	log      *zap.Logger

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewPeriodicJob(name string, interval time.Duration, task Task, log *zap.Logger) *PeriodicJob {
	return &PeriodicJob{
		name:     name,
		interval: interval,
		task:     task,
		log:      log.With(zap.String("job", name)),
		done:     make(chan struct{}),
	}
}

func (j *PeriodicJob) Name() string {
	return j.name
}

// Start begins the job; ctx is handed to every run
func (j *PeriodicJob) Start(ctx context.Context) {
	j.ticker = time.NewTicker(j.interval)
	j.log.Info("job started", zap.Duration("interval", j.interval))

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		// Run immediately on start
		j.RunOnce(ctx)

		for {
			select {
			case <-j.ticker.C:
				j.RunOnce(ctx)
			case <-j.done:
				j.log.Info("job stopped")
				return
			case <-ctx.Done():
				j.log.Info("job stopped", zap.Error(ctx.Err()))
				return
			}
		}
	}()
}

// Stop waits for a run in progress to finish
func (j *PeriodicJob) Stop() {
	j.once.Do(func() {
		if j.ticker != nil {
			j.ticker.Stop()
		}
		close(j.done)
	})
	j.wg.Wait()
}

// RunOnce executes the task and logs the outcome
func (j *PeriodicJob) RunOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			j.log.Error("job panicked", zap.Any("panic", r))
		}
	}()

	if err := j.task(ctx); err != nil {
		j.log.Error("job run failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return
	}
	j.log.Debug("job run completed", zap.Duration("took", time.Since(start)))
}
