package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"coachapp/config"
	"coachapp/messaging"
	"coachapp/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

var rabbitConn *amqp.Connection

// InitRabbitMQ открывает соединение с брокером из конфигурации
func InitRabbitMQ() error {
	if config.AppConfig == nil {
		return fmt.Errorf("AppConfig is not loaded")
	}
	url := config.AppConfig.RabbitMQ.URL
	var err error
	rabbitConn, err = amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	log.Printf("RabbitMQ initialized successfully with URL: %s", url)
	return nil
}

func CloseRabbitMQ() error {
	if rabbitConn != nil && !rabbitConn.IsClosed() {
		return rabbitConn.Close()
	}
	return nil
}

// RabbitFeed раздает вставки через topic exchange.
// Routing key - message.inserted.<receiver_id>.
type RabbitFeed struct {
	conn     *amqp.Connection
	exchange string

	mu      sync.Mutex
	channel *amqp.Channel
}

type rabbitSubscription struct {
	channel *amqp.Channel
	once    sync.Once
}

// NewRabbitFeed объявляет exchange; conn nil - используется соединение из InitRabbitMQ
func NewRabbitFeed(conn *amqp.Connection, exchange string) (*RabbitFeed, error) {
	if conn == nil {
		conn = rabbitConn
	}
	if conn == nil {
		return nil, fmt.Errorf("RabbitMQ connection not initialized")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	// Создаем exchange типа topic
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // args
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &RabbitFeed{conn: conn, exchange: exchange, channel: ch}, nil
}

func insertRoutingKey(receiverID string) string {
	return "message.inserted." + receiverID
}

func (f *RabbitFeed) PublishInsert(ctx context.Context, m models.Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	// amqp.Channel не рассчитан на параллельную публикацию
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channel.PublishWithContext(ctx,
		f.exchange,
		insertRoutingKey(m.ReceiverID),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   m.ID,
			Timestamp:   m.SentAt,
			Body:        body,
		},
	)
}

// SubscribeToInserts создает эксклюзивную очередь на подписку в отдельном канале;
// очередь удаляется брокером при закрытии канала.
func (f *RabbitFeed) SubscribeToInserts(ctx context.Context, scope messaging.FeedScope, onEvent func(models.Message)) (messaging.Subscription, error) {
	ch, err := f.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",    // имя выдаст сервер
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	routingKey := insertRoutingKey("*")
	if scope.ReceiverID != "" {
		routingKey = insertRoutingKey(scope.ReceiverID)
	}
	if err := ch.QueueBind(q.Name, routingKey, f.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	go func() {
		for d := range deliveries {
			var m models.Message
			if err := json.Unmarshal(d.Body, &m); err != nil {
				log.Println("Failed to unmarshal message event:", err)
				continue
			}
			if !scope.Matches(m) {
				continue
			}
			onEvent(m)
		}
	}()
	return &rabbitSubscription{channel: ch}, nil
}

func (f *RabbitFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channel.IsClosed() {
		return nil
	}
	return f.channel.Close()
}

func (s *rabbitSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.channel.Close()
	})
	return err
}
