// Package bus carries structured invalidation events between the processes
// of a cluster over Redis pub/sub. Every process mirrors hot state in local
// caches; the bus keeps those mirrors eventually consistent.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Wire names of the internal event types.
const (
	TypeRoleCreated               = "roleCreated"
	TypeRoleUpdated               = "roleUpdated"
	TypeRoleDeleted               = "roleDeleted"
	TypeUserRoleAssigned          = "userRoleAssigned"
	TypeUserRoleUnassigned        = "userRoleUnassigned"
	TypeUserInlinePoliciesUpdated = "userInlinePoliciesUpdated"
)

// Message is one event as published on the wire.
type Message struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// Envelope wraps a Message with routing metadata. Origin identifies the
// publishing process; subscribers drop their own messages because a
// publisher always applies its local-cache mutation before publishing.
type Envelope struct {
	Channel string  `json:"channel"`
	Origin  string  `json:"origin"`
	Message Message `json:"message"`
}

// Handler consumes one event. Handlers must not block; heavy work belongs
// on a queue.
type Handler func(msg Message)

// Bus publishes and subscribes on a single pub/sub channel.
type Bus struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

// New constructs a Bus with a fresh per-process origin ID.
func New(client *redis.Client, channel string, logger *slog.Logger) *Bus {
	if channel == "" {
		channel = "internal"
	}
	return &Bus{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Origin returns this process's origin ID.
func (b *Bus) Origin() string {
	return b.origin
}

// Publish marshals body and fans the event out to every subscribed process.
func (b *Bus) Publish(ctx context.Context, eventType string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	env := Envelope{
		Channel: b.channel,
		Origin:  b.origin,
		Message: Message{Type: eventType, Body: raw},
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe consumes events until the context is cancelled. Messages
// published by this process are skipped. A panicking handler is recovered
// so one malformed event cannot take the subscriber down.
func (b *Bus) Subscribe(ctx context.Context, handler Handler) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.dispatch(handler, msg.Payload)
			}
		}
	}()
}

func (b *Bus) dispatch(handler Handler, payload string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", slog.Any("panic", r))
		}
	}()

	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Warn("malformed event payload", slog.Any("error", err))
		return
	}
	if env.Channel != b.channel || env.Origin == b.origin {
		return
	}
	handler(env.Message)
}
