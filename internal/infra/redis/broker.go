package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"classroom-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 8

// Broker routes session events through Redis PUBLISH/SUBSCRIBE so push
// streams on any instance see mutations made on another.
type Broker struct {
	client *redis.Client
	prefix string
}

func NewBroker(client *redis.Client, prefix string) *Broker {
	return &Broker{client: client, prefix: prefix}
}

func (b *Broker) Publish(ctx context.Context, topic string, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription before returning, so
// events published after Subscribe returns are not missed.
func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan domain.Event, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel(topic))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	out := make(chan domain.Event, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Warn().Err(err).Str("topic", topic).Msg("drop malformed event")
					continue
				}
				select {
				case out <- event:
				default:
					// drop oldest for a slow consumer
					select {
					case <-out:
					default:
					}
					out <- event
				}
			}
		}
	}()
	return out, cancel, nil
}

func (b *Broker) channel(topic string) string {
	return b.prefix + topic
}
