package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"perfagent/internal/config"
	"perfagent/internal/perfmon"
)

// amqpPublisher is the subset of an AMQP channel used by AMQPOutput.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// amqpSession owns one broker connection and its publishing channel.
type amqpSession struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

func (s *amqpSession) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return s.channel.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}

func (s *amqpSession) Close() error {
	return errors.Join(s.channel.Close(), s.conn.Close())
}

// dialAMQP opens a connection and a channel on url.
func dialAMQP(url string) (amqpPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	return &amqpSession{conn: conn, channel: channel}, nil
}

// amqpMessage is the JSON body of one published record.
type amqpMessage struct {
	Identity
	Record perfmon.PerfRecord `json:"record"`
}

// AMQPOutput publishes each record as one persistent JSON message.
// Params: broker settings and agent identity.
// Returns: output that connects lazily and redials after a publish failure.
type AMQPOutput struct {
	cfg      config.AMQPConfig
	identity Identity
	logger   *slog.Logger
	dial     func(url string) (amqpPublisher, error)
	now      func() time.Time

	mu        sync.Mutex
	publisher amqpPublisher
}

// NewAMQPOutput creates the publisher output without connecting.
// Params: cfg AMQP section; identity message header; logger root logger.
// Returns: output instance.
func NewAMQPOutput(cfg config.AMQPConfig, identity Identity, logger *slog.Logger) *AMQPOutput {
	return &AMQPOutput{
		cfg:      cfg,
		identity: identity,
		logger:   logger.With(slog.String("output", "amqp")),
		dial:     dialAMQP,
		now:      time.Now,
	}
}

// Submit publishes one record.
// Params: ctx publish context; record payload.
// Returns: connect, encode or publish error.
func (o *AMQPOutput) Submit(ctx context.Context, record perfmon.PerfRecord) error {
	body, err := json.Marshal(amqpMessage{Identity: o.identity, Record: record})
	if err != nil {
		return fmt.Errorf("marshal amqp message: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.publisher == nil {
		publisher, err := o.dial(o.cfg.URL)
		if err != nil {
			return err
		}
		o.publisher = publisher
		o.logger.Info("amqp publisher connected", slog.String("exchange", o.cfg.Exchange))
	}

	publishCtx := ctx
	if o.cfg.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		publishCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout.Duration)
		defer cancel()
	}

	err = o.publisher.PublishWithContext(publishCtx, o.cfg.Exchange, o.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    o.now(),
		AppId:        o.identity.Agent,
		Body:         body,
	})
	if err != nil {
		_ = o.publisher.Close()
		o.publisher = nil
		return fmt.Errorf("publish amqp message: %w", err)
	}
	return nil
}

// Close releases the broker connection.
func (o *AMQPOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.publisher == nil {
		return nil
	}
	err := o.publisher.Close()
	o.publisher = nil
	return err
}
