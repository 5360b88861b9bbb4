package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"gameverse-api/models"
)

// BrokerChannel publishes every notification to a Kafka topic so downstream
// consumers (mobile push gateways, analytics) can pick it up. Records are keyed
// by user so one user's notifications stay ordered within a partition.
type BrokerChannel struct {
	client *kgo.Client
	topic  string
}

func NewBrokerChannel(brokers []string, clientID, topic string) (*BrokerChannel, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &BrokerChannel{client: client, topic: topic}, nil
}

func (b *BrokerChannel) Name() string {
	return "broker"
}

func (b *BrokerChannel) Push(ctx context.Context, userID string, n *models.Notification) error {
	value, err := json.Marshal(NotificationMessage(n))
	if err != nil {
		return Permanent(fmt.Errorf("encode notification: %w", err))
	}

	record := &kgo.Record{
		Topic: b.topic,
		Key:   []byte(userID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "notification-type", Value: []byte(n.Type)},
		},
	}
	if err := b.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce notification: %w", err)
	}
	return nil
}

func (b *BrokerChannel) Close() {
	b.client.Close()
}
