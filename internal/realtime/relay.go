package realtime

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisRelay fans broadcasts out to other nodes through a Redis pub/sub channel.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
	pubsub  *redis.PubSub
}

// NewRedisRelay creates a relay on channel.
func NewRedisRelay(client *redis.Client, channel string, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "redis_relay").Logger(),
	}
}

// Publish implements Relay.
func (r *RedisRelay) Publish(ctx context.Context, payload []byte) error {
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Subscribe implements Relay. The subscription is confirmed before it returns;
// messages are consumed on a background goroutine until ctx ends.
func (r *RedisRelay) Subscribe(ctx context.Context, handle func(payload []byte)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	r.pubsub = pubsub

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					r.logger.Debug().Msg("redis relay subscription closed")
					return
				}
				handle([]byte(msg.Payload))
			}
		}
	}()
	return nil
}

// Close implements Relay.
func (r *RedisRelay) Close() error {
	if r.pubsub == nil {
		return nil
	}
	err := r.pubsub.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// NATSRelay fans broadcasts out to other nodes through a NATS subject.
type NATSRelay struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
	sub     *nats.Subscription
}

// NewNATSRelay creates a relay whose subject is derived from channel.
func NewNATSRelay(conn *nats.Conn, channel string, logger zerolog.Logger) *NATSRelay {
	return &NATSRelay{
		conn:    conn,
		subject: strings.ReplaceAll(channel, ":", "."),
		logger:  logger.With().Str("component", "nats_relay").Logger(),
	}
}

// Subject returns the NATS subject used by the relay.
func (r *NATSRelay) Subject() string { return r.subject }

// Publish implements Relay.
func (r *NATSRelay) Publish(_ context.Context, payload []byte) error {
	return r.conn.Publish(r.subject, payload)
}

// Subscribe implements Relay. Every node needs every broadcast, so this is a
// plain subscription rather than a queue group.
func (r *NATSRelay) Subscribe(ctx context.Context, handle func(payload []byte)) error {
	sub, err := r.conn.Subscribe(r.subject, func(msg *nats.Msg) {
		handle(msg.Data)
	})
	if err != nil {
		return err
	}
	r.sub = sub

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			r.logger.Warn().Err(err).Msg("failed to drain nats relay subscription")
		}
	}()
	return nil
}

// Close implements Relay.
func (r *NATSRelay) Close() error {
	if r.sub == nil || !r.sub.IsValid() {
		return nil
	}
	return r.sub.Unsubscribe()
}
