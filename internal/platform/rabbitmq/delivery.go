package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"gopherdm/internal/model"
)

// Delivery is the broker payload: a persisted message and the room it is
// addressed to.
type Delivery struct {
	RoomUserID uint          `json:"roomUserId"`
	Message    model.Message `json:"message"`
}

func DeclareDeliveryQueue(ch *amqp.Channel, queueName string) error {
	_, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}
	return nil
}

// DeliveryPublisher pushes deliveries onto one long-lived channel so the
// broker sees them in publish order.
type DeliveryPublisher struct {
	conn      *amqp.Connection
	queueName string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewDeliveryPublisher(conn *amqp.Connection, queueName string) *DeliveryPublisher {
	return &DeliveryPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *DeliveryPublisher) Publish(ctx context.Context, roomUserID uint, msg model.Message) error {
	payload, err := json.Marshal(Delivery{RoomUserID: roomUserID, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal delivery payload failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		},
	); err != nil {
		_ = ch.Close()
		p.ch = nil
		return fmt.Errorf("publish delivery failed: %w", err)
	}
	return nil
}

func (p *DeliveryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

func (p *DeliveryPublisher) channelLocked() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	if err := DeclareDeliveryQueue(ch, p.queueName); err != nil {
		_ = ch.Close()
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func DecodeDelivery(body []byte) (Delivery, error) {
	var d Delivery
	if err := json.Unmarshal(body, &d); err != nil {
		return Delivery{}, fmt.Errorf("decode delivery failed: %w", err)
	}
	if d.RoomUserID == 0 || d.Message.ID == 0 {
		return Delivery{}, fmt.Errorf("decode delivery failed: missing room or message id")
	}
	return d, nil
}
