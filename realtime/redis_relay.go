package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const userChannelPrefix = "ws:user:"

func userChannel(userID string) string {
	return userChannelPrefix + userID
}

func backlogKey(userID string) string {
	return userChannelPrefix + userID + ":failed"
}

// RedisRelay fans frames out across API instances. Each instance subscribes
// to ws:user:{id} while it holds a session for that user, so a publish that
// reaches no subscriber means the user is offline everywhere; such frames are
// parked in ws:user:{id}:failed and replayed when the user connects again.
type RedisRelay struct {
	client     *redis.Client
	hub        *Hub
	log        *zap.Logger
	backlogTTL time.Duration

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisRelay(client *redis.Client, hub *Hub, backlogTTL time.Duration, log *zap.Logger) *RedisRelay {
	if backlogTTL <= 0 {
		backlogTTL = 24 * time.Hour
	}
	return &RedisRelay{
		client:     client,
		hub:        hub,
		log:        log,
		backlogTTL: backlogTTL,
		done:       make(chan struct{}),
	}
}

// Start opens the subscription and begins forwarding frames to the hub
func (r *RedisRelay) Start(ctx context.Context) {
	r.mu.Lock()
	r.pubsub = r.client.Subscribe(ctx)
	ch := r.pubsub.Channel()
	r.mu.Unlock()

	go func() {
		defer close(r.done)
		for msg := range ch {
			userID := strings.TrimPrefix(msg.Channel, userChannelPrefix)
			r.hub.SendLocal(userID, []byte(msg.Payload))
		}
	}()
}

func (r *RedisRelay) Stop() error {
	r.mu.Lock()
	pubsub := r.pubsub
	r.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-r.done
	return err
}

func (r *RedisRelay) Publish(ctx context.Context, userID string, payload []byte) error {
	receivers, err := r.client.Publish(ctx, userChannel(userID), payload).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", userChannel(userID), err)
	}
	if receivers > 0 {
		return nil
	}
	return r.park(ctx, userID, payload)
}

func (r *RedisRelay) park(ctx context.Context, userID string, payload []byte) error {
	key := backlogKey(userID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, r.backlogTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("park frame for %s: %w", userID, err)
	}
	return nil
}

// Track subscribes to the user's channel and flushes anything parked while
// the user was away.
func (r *RedisRelay) Track(ctx context.Context, userID string) error {
	r.mu.Lock()
	pubsub := r.pubsub
	r.mu.Unlock()
	if pubsub == nil {
		return errors.New("relay not started")
	}

	if err := pubsub.Subscribe(ctx, userChannel(userID)); err != nil {
		return fmt.Errorf("subscribe %s: %w", userChannel(userID), err)
	}
	_, err := r.Drain(ctx, userID)
	return err
}

func (r *RedisRelay) Untrack(ctx context.Context, userID string) error {
	r.mu.Lock()
	pubsub := r.pubsub
	r.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	return pubsub.Unsubscribe(ctx, userChannel(userID))
}

// Drain hands parked frames for userID to this instance's sessions, oldest
// first. It stops, leaving the rest parked, once the user has no session here.
func (r *RedisRelay) Drain(ctx context.Context, userID string) (int, error) {
	key := backlogKey(userID)
	delivered := 0
	for r.hub.Connections(userID) > 0 {
		payload, err := r.client.LPop(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return delivered, nil
		}
		if err != nil {
			return delivered, fmt.Errorf("pop parked frame: %w", err)
		}

		if r.hub.SendLocal(userID, []byte(payload)) == 0 {
			if err := r.client.LPush(ctx, key, payload).Err(); err != nil {
				return delivered, fmt.Errorf("re-park frame: %w", err)
			}
			return delivered, nil
		}
		delivered++
	}
	return delivered, nil
}

// Replay drains the backlog of every user currently connected to this
// instance. Frames of users still offline stay parked until their TTL.
func (r *RedisRelay) Replay(ctx context.Context) (int, error) {
	total := 0
	iter := r.client.Scan(ctx, 0, userChannelPrefix+"*:failed", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		userID := strings.TrimSuffix(strings.TrimPrefix(key, userChannelPrefix), ":failed")
		if r.hub.Connections(userID) == 0 {
			continue
		}
		n, err := r.Drain(ctx, userID)
		total += n
		if err != nil {
			r.log.Warn("backlog replay failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		return total, fmt.Errorf("scan backlog keys: %w", err)
	}
	return total, nil
}
