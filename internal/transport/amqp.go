package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/look4dennis/stride-notify/internal/notification"
)

// AMQP publishes hub events to a topic exchange so an external push edge
// (the process terminating the client connections) can bridge fan-out. The
// wire group keys double as routing keys: a consumer binds User_7 to follow
// one user, Branch_* to follow a branch, or # for everything. Broadcasts go
// out under the broadcast key.
type AMQP struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// NewAMQP dials the broker and declares the durable topic exchange. A nil
// logger falls back to slog.Default().
func NewAMQP(url, exchange string, logger *slog.Logger) (*AMQP, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	logger.Info("amqp transport ready", slog.String("exchange", exchange))
	return &AMQP{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// SendToGroup publishes the event under the group's routing key.
func (t *AMQP) SendToGroup(ctx context.Context, group string, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}

	pub := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Type:        event,
		Timestamp:   time.Now(),
		Body:        body,
	}
	if err := t.ch.PublishWithContext(ctx, t.exchange, group, false, false, pub); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, group, err)
	}
	return nil
}

// SendToAll publishes the event under the broadcast routing key.
func (t *AMQP) SendToAll(ctx context.Context, event string, payload any) error {
	return t.SendToGroup(ctx, notification.BroadcastKey, event, payload)
}

// Close tears down the channel and connection.
func (t *AMQP) Close() error {
	if err := t.ch.Close(); err != nil {
		t.conn.Close()
		return err
	}
	return t.conn.Close()
}
