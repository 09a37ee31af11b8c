// Package queue feeds job submissions through RabbitMQ. Producers publish a
// source reference; the consumer turns each message into a pending job for
// the worker to run.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/logging"
	"github.com/clipmill/clipmill-agent/internal/orchestrator"
)

const DefaultQueue = "clipmill.submissions"

// Submission is the message body.
type Submission struct {
	SourceRef   string    `json:"source_ref"`
	RequestedBy string    `json:"requested_by,omitempty"`
	SentAt      time.Time `json:"sent_at,omitempty"`
}

// Submitter creates pending jobs. orchestrator.Orchestrator implements it.
type Submitter interface {
	Submit(ctx context.Context, ref string) (*job.Job, *orchestrator.Result, error)
}

func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

type Publisher struct {
	channel *amqp.Channel
	queue   string
}

func NewPublisher(conn *amqp.Connection, queue string) (*Publisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &Publisher{channel: ch, queue: queue}, nil
}

func (p *Publisher) Publish(ctx context.Context, s Submission) error {
	if strings.TrimSpace(s.SourceRef) == "" {
		return errors.New("submission has no source_ref")
	}
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		"",
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    s.SentAt,
			Body:         body,
		},
	)
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}

type Consumer struct {
	channel   *amqp.Channel
	queue     string
	submitter Submitter
	logger    *slog.Logger
}

func NewConsumer(conn *amqp.Connection, queue string, prefetch int, s Submitter, logger *slog.Logger) (*Consumer, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, err
	}
	return &Consumer{
		channel:   ch,
		queue:     queue,
		submitter: s,
		logger:    logging.WithComponent(logger, "queue"),
	}, nil
}

// Start consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}
	c.logger.Info("consuming submissions", "queue", c.queue)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer shutting down")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("amqp channel closed")
				return nil
			}
			switch handle(ctx, c.submitter, msg.Body, c.logger) {
			case ack:
				msg.Ack(false)
			case reject:
				msg.Nack(false, false)
			case requeue:
				msg.Nack(false, true)
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.channel.Close()
}

type disposition int

const (
	ack disposition = iota
	reject
	requeue
)

// handle submits one message. Malformed messages are dropped; a failed
// submission goes back on the queue.
func handle(ctx context.Context, s Submitter, body []byte, logger *slog.Logger) disposition {
	var sub Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		logger.Warn("dropping malformed submission", "error", err)
		return reject
	}
	if strings.TrimSpace(sub.SourceRef) == "" {
		logger.Warn("dropping submission without source_ref")
		return reject
	}
	j, skipped, err := s.Submit(ctx, sub.SourceRef)
	if err != nil {
		logger.Error("submission failed", "source_ref", sub.SourceRef, "error", err)
		return requeue
	}
	if skipped != nil {
		logger.Info("submission is a duplicate", "source_ref", sub.SourceRef)
		return ack
	}
	logger.Info("job queued", "job_id", j.ID, "source_ref", sub.SourceRef, "requested_by", sub.RequestedBy)
	return ack
}
