package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"coachapp/messaging"
	"coachapp/models"

	"github.com/go-redis/redis/v8"
)

const insertChannelPrefix = "messages:inserted"

// RedisFeed раздает вставки через Redis pub/sub, канал на получателя.
// Нужна, когда API запущено в нескольких экземплярах.
type RedisFeed struct {
	client *redis.Client
}

type redisSubscription struct {
	pubsub *redis.PubSub
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

func insertChannel(receiverID string) string {
	return insertChannelPrefix + ":" + receiverID
}

func (f *RedisFeed) PublishInsert(ctx context.Context, m models.Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := f.client.Publish(ctx, insertChannel(m.ReceiverID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// SubscribeToInserts возвращается после подтверждения подписки сервером,
// события, опубликованные позже, будут доставлены.
func (f *RedisFeed) SubscribeToInserts(ctx context.Context, scope messaging.FeedScope, onEvent func(models.Message)) (messaging.Subscription, error) {
	var pubsub *redis.PubSub
	if scope.ReceiverID != "" {
		pubsub = f.client.Subscribe(ctx, insertChannel(scope.ReceiverID))
	} else {
		pubsub = f.client.PSubscribe(ctx, insertChannelPrefix+":*")
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to inserts: %w", err)
	}

	ch := pubsub.Channel()
	go func() {
		for msg := range ch {
			var m models.Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				log.Printf("ERROR: bad message event on %s: %v", msg.Channel, err)
				continue
			}
			if !scope.Matches(m) {
				continue
			}
			onEvent(m)
		}
	}()
	return &redisSubscription{pubsub: pubsub}, nil
}

// Close у ленты ничего не держит: клиентом владеет вызывающий
func (f *RedisFeed) Close() error {
	return nil
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
