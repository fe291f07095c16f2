package worker

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"gopherdm/internal/model"
	"gopherdm/internal/pkg/logger"
	"gopherdm/internal/platform/rabbitmq"
)

// RoomPublisher is the local fan-out target, normally *realtime.Hub.
type RoomPublisher interface {
	Publish(ctx context.Context, roomUserID uint, msg model.Message) error
}

// DeliveryWorker drains the delivery queue into the local hub. It is the
// single consumer of the queue, which keeps per-room order intact.
type DeliveryWorker struct {
	conn      *amqp.Connection
	hub       RoomPublisher
	queueName string
	log       *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDeliveryWorker(conn *amqp.Connection, hub RoomPublisher, queueName string, log *zap.Logger) *DeliveryWorker {
	return &DeliveryWorker{
		conn:      conn,
		hub:       hub,
		queueName: queueName,
		log:       logger.OrNop(log).Named("delivery_worker"),
	}
}

func (w *DeliveryWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareDeliveryQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(64, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.log.Warn("delivery channel closed")
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *DeliveryWorker) handle(ctx context.Context, d amqp.Delivery) {
	delivery, err := rabbitmq.DecodeDelivery(d.Body)
	if err != nil {
		w.log.Warn("discarding undecodable delivery", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if err := w.hub.Publish(ctx, delivery.RoomUserID, delivery.Message); err != nil {
		w.log.Warn("local fan-out failed",
			zap.Uint("room_user_id", delivery.RoomUserID),
			zap.Uint("message_id", delivery.Message.ID),
			zap.Error(err))
	}
	_ = d.Ack(false)
}

func (w *DeliveryWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
