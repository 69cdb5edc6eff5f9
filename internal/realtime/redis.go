package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisTransport joins rooms as Redis pub/sub channels named prefix+room.
type RedisTransport struct {
	client *redis.Client
	prefix string
}

// NewRedisTransport constructs the transport.
func NewRedisTransport(client *redis.Client, prefix string) *RedisTransport {
	if prefix == "" {
		prefix = "emis:room:"
	}
	return &RedisTransport{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel of room.
func (t *RedisTransport) Channel(room string) string {
	return t.prefix + room
}

// Join subscribes and waits for the subscription to be confirmed.
func (t *RedisTransport) Join(ctx context.Context, room string) (Subscription, error) {
	if t == nil || t.client == nil {
		return nil, fmt.Errorf("realtime: redis not configured")
	}
	if room == "" {
		return nil, fmt.Errorf("realtime: empty room")
	}
	pubsub := t.client.Subscribe(ctx, t.Channel(room))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("realtime: subscribe %s: %w", t.Channel(room), err)
	}
	sub := &redisSubscription{pubsub: pubsub, out: make(chan []byte)}
	go sub.pump(ctx)
	return sub, nil
}

// Publish sends an event into room. The EMIS API is the real publisher;
// this is used by tooling and tests.
func (t *RedisTransport) Publish(ctx context.Context, room, event, message string) error {
	var env envelope
	env.Event = event
	env.Data.Message = message
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, t.Channel(room), raw).Err()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

func (s *redisSubscription) pump(ctx context.Context) {
	defer close(s.out)
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}
