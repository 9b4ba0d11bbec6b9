package ssevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
)

// Chain calls every handler in order and joins their errors. A failing
// handler does not stop the ones after it.
func Chain(handlers ...NotificationHandler) NotificationHandler {
	return func(ctx context.Context, method string, params json.RawMessage) error {
		var errs []error
		for _, h := range handlers {
			if err := h(ctx, method, params); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// ============================================================================
// Redis Streams
// ============================================================================

// RedisStreamSink appends every notification to a redis stream with the
// fields "event" and "params".
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink connects to redis. maxLen > 0 trims the stream
// approximately to that many entries.
func NewRedisStreamSink(ctx context.Context, cfg RedisConfig, stream string, maxLen int64) (*RedisStreamSink, error) {
	cfg.defaults()
	if stream == "" {
		stream = cfg.KeyPrefix + "events"
	}
	cl := cfg.client()
	if err := cl.Ping(ctx).Err(); err != nil {
		cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStreamSink{client: cl, stream: stream, maxLen: maxLen}, nil
}

// Handle implements NotificationHandler.
func (s *RedisStreamSink) Handle(ctx context.Context, method string, params json.RawMessage) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{"event": method, "params": string(params)},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Close closes the redis client.
func (s *RedisStreamSink) Close() error { return s.client.Close() }

// ============================================================================
// AMQP
// ============================================================================

// AMQPSink publishes every notification to a topic exchange, using the
// event type as routing key.
type AMQPSink struct {
	conn     *amqp.Connection
	mu       sync.Mutex // amqp channels are not safe for concurrent publishing
	channel  *amqp.Channel
	exchange string
}

// NewAMQPSink dials the broker and declares exchange as a durable topic
// exchange. An empty exchange publishes to the default exchange.
func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if exchange != "" {
		err = channel.ExchangeDeclare(
			exchange,
			"topic",
			true,  // durable
			false, // autoDelete
			false, // internal
			false, // noWait
			nil,
		)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("amqp declare exchange %s: %w", exchange, err)
		}
	}
	return &AMQPSink{conn: conn, channel: channel, exchange: exchange}, nil
}

// Handle implements NotificationHandler.
func (s *AMQPSink) Handle(_ context.Context, method string, params json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.channel.Publish(
		s.exchange,
		method,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Type:         method,
			Body:         params,
		},
	)
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", method, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel.Close()
	return s.conn.Close()
}
