// Package queue moves runtime provisioning jobs between the API surface and
// the provisioning worker over RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/triggerkit/triggerkit/internal/config"
	"github.com/triggerkit/triggerkit/internal/domain"
	"github.com/triggerkit/triggerkit/internal/logger"
)

// Publisher enqueues provisioning jobs.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

func NewPublisher(cfg config.QueueConfig) (*Publisher, error) {
	conn, channel, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, channel: channel, queue: cfg.ProvisionQueue}, nil
}

func (p *Publisher) PublishProvision(ctx context.Context, job domain.ProvisionJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding provision job: %w", err)
	}

	err = p.channel.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing provision job: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if err := p.channel.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}

// Consumer delivers provisioning jobs to a handler. Handler errors nack with
// requeue so a transient backend failure retries instead of dropping the job.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	log     *logger.Logger
}

func NewConsumer(cfg config.QueueConfig, log *logger.Logger) (*Consumer, error) {
	conn, channel, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := channel.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting channel QoS: %w", err)
	}
	return &Consumer{conn: conn, channel: channel, queue: cfg.ProvisionQueue, log: log}, nil
}

// ConsumeProvision blocks until the context is canceled or the delivery
// channel closes.
func (c *Consumer) ConsumeProvision(ctx context.Context, handle func(context.Context, domain.ProvisionJob) error) error {
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			var job domain.ProvisionJob
			if err := json.Unmarshal(delivery.Body, &job); err != nil {
				c.log.Error("discarding malformed provision job", map[string]any{"error": err.Error()})
				delivery.Nack(false, false)
				continue
			}

			if err := handle(ctx, job); err != nil {
				c.log.Error("provision job failed, requeueing", map[string]any{
					"config_hash": job.ConfigHash,
					"error":       err.Error(),
				})
				delivery.Nack(false, true)
				continue
			}
			delivery.Ack(false)
		}
	}
}

func (c *Consumer) Close() error {
	if err := c.channel.Close(); err != nil {
		return err
	}
	return c.conn.Close()
}

func connect(cfg config.QueueConfig) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("opening channel: %w", err)
	}

	if _, err := channel.QueueDeclare(cfg.ProvisionQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declaring queue: %w", err)
	}
	return conn, channel, nil
}
