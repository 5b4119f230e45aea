package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orafaelscosta/music/internal/model"
)

const channelPrefix = "pipeline:progress:"

// Event is one ephemeral progress notification for a project. Events are
// forward-only: published on every step transition, never read back.
type Event struct {
	Type           string              `json:"type"`
	ProjectID      string              `json:"projectId"`
	Step           string              `json:"step"`
	Progress       int                 `json:"progress"`
	Message        string              `json:"message,omitempty"`
	Status         model.ProgressState `json:"status"`
	ElapsedSeconds int                 `json:"elapsedSeconds"`
	ETASeconds     *int                `json:"etaSeconds,omitempty"`
	Timestamp      int64               `json:"timestamp"`
}

// Publisher sends progress events toward live observers. Publish returns
// nothing: delivery is fire-and-forget and a lost update must never abort
// the stage that produced it.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Message is one raw event as received from the bus, tagged with the
// project it belongs to.
type Message struct {
	ProjectID string
	Payload   []byte
}

// Subscription is a live stream of progress messages for all projects.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Subscriber opens subscriptions covering every project's channel.
type Subscriber interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Bus is the Redis-backed progress channel. One channel key per project;
// any number of publishers and subscribers.
type Bus struct {
	redis *redis.Client
}

// NewBus creates a progress bus on the given Redis client.
func NewBus(redisClient *redis.Client) *Bus {
	return &Bus{redis: redisClient}
}

// Publish marshals the event and publishes it on the project's channel.
// Failures are logged and swallowed.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event.Type == "" {
		event.Type = "progress"
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Failed to marshal progress event: %v", err)
		return
	}

	if err := b.redis.Publish(ctx, channelPrefix+event.ProjectID, data).Err(); err != nil {
		log.Printf("Failed to publish progress for project %s: %v", event.ProjectID, err)
	}
}

// Subscribe opens a pattern subscription over all project channels.
func (b *Bus) Subscribe(ctx context.Context) (Subscription, error) {
	pubsub := b.redis.PSubscribe(ctx, channelPrefix+"*")

	// Force the subscription handshake so transport errors surface here
	// instead of as a silently empty channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to progress channels: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Message, 64),
	}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Message
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		s.out <- Message{
			ProjectID: strings.TrimPrefix(msg.Channel, channelPrefix),
			Payload:   []byte(msg.Payload),
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
