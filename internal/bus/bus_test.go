package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestPublishReachesOtherProcess(t *testing.T) {
	client := newTestClient(t)
	logger := slog.Default()

	publisher := New(client, "internal", logger)
	subscriber := New(client, "internal", logger)
	require.NotEqual(t, publisher.Origin(), subscriber.Origin())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 1)
	subscriber.Subscribe(ctx, func(msg Message) {
		got <- msg
	})

	// Give the subscriber goroutine a moment to attach.
	time.Sleep(50 * time.Millisecond)

	err := publisher.Publish(ctx, TypeRoleDeleted, map[string]string{"id": "r1"})
	require.NoError(t, err)

	select {
	case msg := <-got:
		assert.Equal(t, TypeRoleDeleted, msg.Type)
		assert.JSONEq(t, `{"id":"r1"}`, string(msg.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscriberSkipsOwnMessages(t *testing.T) {
	client := newTestClient(t)
	b := New(client, "internal", slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 1)
	b.Subscribe(ctx, func(msg Message) {
		got <- msg
	})
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, b.Publish(ctx, TypeRoleCreated, map[string]string{"id": "r1"}))

	select {
	case <-got:
		t.Fatal("subscriber must not observe its own publish")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDispatchIgnoresMalformedPayload(t *testing.T) {
	client := newTestClient(t)
	b := New(client, "internal", slog.Default())

	called := false
	b.dispatch(func(Message) { called = true }, "{not json")
	assert.False(t, called)
}

func TestDispatchRecoversPanickingHandler(t *testing.T) {
	client := newTestClient(t)
	b := New(client, "internal", slog.Default())

	other := New(client, "internal", slog.Default())
	env := Envelope{Channel: "internal", Origin: other.Origin(), Message: Message{Type: TypeRoleUpdated}}
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		b.dispatch(func(Message) { panic("boom") }, string(payload))
	})
}
