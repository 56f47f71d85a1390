package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
)

// DefaultChannel carries job events between worker and API processes.
const DefaultChannel = "ocrbase:job-events"

// RedisPublisher announces events to every API process through redis.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode job event: %w", err)
	}
	if err = p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish job event: %w", err)
	}
	return nil
}

// Relay forwards redis job events into the local bus.
type Relay struct {
	client  *redis.Client
	channel string
	bus     *Bus
	log     infralogger.Logger
}

func NewRelay(client *redis.Client, channel string, bus *Bus, log infralogger.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{client: client, channel: channel, bus: bus, log: log}
}

// Run blocks until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info("Job event relay started", infralogger.String("channel", r.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.JobID == "" {
				r.log.Warn("Discarding malformed job event", infralogger.String("payload", msg.Payload))
				continue
			}
			r.bus.Publish(ev.JobID, ev)
		}
	}
}
