package services

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"gameverse-api/delivery"
	"gameverse-api/models"
	"gameverse-api/telemetry"
)

type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    uint
	InitialBackoff time.Duration
	PushTimeout    time.Duration
	// DrainTimeout bounds how long Stop waits for queued deliveries
	DrainTimeout time.Duration
}

// NotificationDispatcher delivers stored notifications off the request path.
// Workers drain a buffered queue and try every channel independently, each with
// its own exponential backoff.
type NotificationDispatcher struct {
	cfg      DispatcherConfig
	channels []delivery.Channel
	queue    chan *models.Notification
	log      *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	delivered metric.Int64Counter
	failed    metric.Int64Counter
}

func NewNotificationDispatcher(cfg DispatcherConfig, log *zap.Logger, channels ...delivery.Channel) *NotificationDispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 10 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 15 * time.Second
	}

	return &NotificationDispatcher{
		cfg:       cfg,
		channels:  channels,
		queue:     make(chan *models.Notification, cfg.QueueSize),
		log:       log,
		delivered: telemetry.Counter("notification_deliveries_total", "Notifications pushed over a delivery channel"),
		failed:    telemetry.Counter("notification_delivery_failures_total", "Notification pushes that failed after retries"),
	}
}

// AddChannel registers a channel; call before Start
func (d *NotificationDispatcher) AddChannel(ch delivery.Channel) {
	d.channels = append(d.channels, ch)
}

// Start launches the workers. Cancelling ctx does not abort deliveries; the
// workers keep its values and run until Stop has drained the queue.
func (d *NotificationDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for n := range d.queue {
				d.deliver(ctx, n)
			}
		}()
	}
	d.log.Info("notification dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("channels", len(d.channels)),
	)
}

// Enqueue never blocks. A full or stopped queue drops the delivery; the stored
// notification is still there for the user to read.
func (d *NotificationDispatcher) Enqueue(n *models.Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.log.Warn("dispatcher stopped, delivery dropped", zap.String("notification_id", n.ID))
		return false
	}

	select {
	case d.queue <- n:
		return true
	default:
		d.log.Warn("notification queue full, delivery dropped",
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.UserID),
		)
		d.failed.Add(context.Background(), 1, metric.WithAttributes(telemetry.ChannelAttr("queue")))
		return false
	}
}

// Stop closes the queue and waits for queued deliveries to finish. Deliveries
// still running after DrainTimeout have their context cancelled.
func (d *NotificationDispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	cancel := d.cancel
	d.mu.Unlock()

	if cancel == nil {
		if n := len(d.queue); n > 0 {
			d.log.Warn("dispatcher never started, deliveries dropped", zap.Int("queued", n))
		}
		return
	}

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(d.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		d.log.Warn("notification drain timed out, abandoning in-flight deliveries",
			zap.Duration("timeout", d.cfg.DrainTimeout),
			zap.Int("queued", len(d.queue)),
		)
		cancel()
		<-drained
	}
	cancel()
	d.log.Info("notification dispatcher stopped")
}

func (d *NotificationDispatcher) deliver(ctx context.Context, n *models.Notification) {
	for _, ch := range d.channels {
		if err := d.pushWithRetry(ctx, ch, n); err != nil {
			d.log.Warn("notification delivery failed",
				zap.String("channel", ch.Name()),
				zap.Error(&DeliveryError{Channel: ch.Name(), UserID: n.UserID, NotificationID: n.ID, Err: err}),
			)
			d.failed.Add(ctx, 1, metric.WithAttributes(telemetry.ChannelAttr(ch.Name())))
			continue
		}
		d.delivered.Add(ctx, 1, metric.WithAttributes(telemetry.ChannelAttr(ch.Name())))
	}
}

func (d *NotificationDispatcher) pushWithRetry(ctx context.Context, ch delivery.Channel, n *models.Notification) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.InitialBackoff
	policy.MaxInterval = 30 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		pushCtx, cancel := context.WithTimeout(ctx, d.cfg.PushTimeout)
		defer cancel()

		err := ch.Push(pushCtx, n.UserID, n)
		if err != nil && delivery.IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(d.cfg.MaxAttempts),
	)
	return err
}
