package memory

import (
	"context"
	"sync"

	"classroom-quiz-service/internal/domain"
)

const subscriberBuffer = 8

// Broker fans events out to in-process subscribers of a topic. Slow
// subscribers lose their oldest pending event instead of blocking publishers.
type Broker struct {
	mu     sync.Mutex
	topics map[string]map[chan domain.Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{topics: make(map[string]map[chan domain.Event]struct{})}
}

// Publish delivers the event to every current subscriber of topic.
func (b *Broker) Publish(_ context.Context, topic string, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.topics[topic] {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
	return nil
}

// Subscribe registers a subscriber on topic. The channel is closed when the
// returned cancel func runs or ctx is done.
func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		b.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.topics[topic]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.topics, topic)
				}
			}
			close(ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

// Subscribers reports how many subscribers a topic has.
func (b *Broker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}
