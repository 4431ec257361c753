// Package rabbitmq подключает сервис к брокеру и публикует события
// синхронизации. Подключение необязательно: пустой URL в конфиге
// отключает публикацию целиком.
package rabbitmq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

const exchangeName = "sync_events"

type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetSyncQueues перечисляет очереди событий синхронизации.
func GetSyncQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "sync.finished", RoutingKey: "sync_finished"},
		{QueueName: "sync.account_created", RoutingKey: "account_created"},
		{QueueName: "sync.account_retired", RoutingKey: "account_retired"},
	}
}

func Connect(connection string, retries int, delay time.Duration) (*amqp.Connection, error) {
	const op = "rabbitmq.Connect"
	var conn *amqp.Connection
	var err error

	for range retries {
		conn, err = amqp.Dial(connection)
		if err == nil {
			return conn, nil
		}
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("%s: %w", op, err)
}

// SetupChannel объявляет exchange и очереди событий синхронизации.
func SetupChannel(conn *amqp.Connection, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err = ch.ExchangeDeclare(
		exchangeName,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			q.QueueName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, q.QueueName, err)
		}

		err = ch.QueueBind(
			q.QueueName,
			q.RoutingKey,
			exchangeName,
			false,
			nil,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to bind queue %s with routing key %s: %w", op, q.QueueName, q.RoutingKey, err)
		}
	}

	return ch, nil
}

// Publisher публикует события синхронизации. Nil-безопасен: нулевой
// указатель молча игнорирует публикации, что позволяет собирать сервис
// без брокера.
type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(ch *amqp.Channel) *Publisher {
	return &Publisher{ch: ch}
}

// Event — конверт сообщения: идентификатор для дедупликации на стороне
// потребителя, время и полезная нагрузка.
type Event struct {
	EventID    string    `json:"event_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func (p *Publisher) Publish(routingKey string, message any) error {
	const op = "rabbitmq.Publish"
	if p == nil || p.ch == nil {
		return nil
	}

	body, err := json.Marshal(Event{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Payload:    message,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = p.ch.Publish(
		exchangeName,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
