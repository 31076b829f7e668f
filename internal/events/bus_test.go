package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cartino/internal/events"
)

type captureStore struct {
	events []events.Event
}

func (c *captureStore) InsertEvent(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return nil
}

type captureNotifier struct {
	events []events.Event
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return nil
}

func TestEmitPersistsAndFansOut(t *testing.T) {
	store := &captureStore{}
	notifier := &captureNotifier{}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bus := events.Bus{
		Store:     store,
		Notifiers: []events.Notifier{notifier, nil},
		Now:       func() time.Time { return fixed },
	}

	event, err := bus.Emit(context.Background(), events.TopicItemAdded, "cart-1", map[string]any{"itemId": "sku-1"})
	require.NoError(t, err)
	require.NotEmpty(t, event.ID)
	require.Equal(t, fixed, event.OccurredAt)
	require.Len(t, store.events, 1)
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)
	require.JSONEq(t, `{"itemId":"sku-1"}`, string(store.events[0].Payload))
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	boom := errors.New("boom")
	delivered := &captureNotifier{}
	bus := events.Bus{Notifiers: []events.Notifier{
		events.NotifierFunc(func(context.Context, events.Event) error { return boom }),
		delivered,
	}}

	_, err := bus.Emit(context.Background(), events.TopicCartCleared, "cart-1", nil)
	require.ErrorIs(t, err, boom)
	require.Len(t, delivered.events, 1)
	require.JSONEq(t, `{}`, string(delivered.events[0].Payload))
}

func TestEmitRejectsMissingTopicOrAggregate(t *testing.T) {
	bus := events.Bus{}
	_, err := bus.Emit(context.Background(), " ", "cart-1", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicCartCreated, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicCartCreated, "cart-1", "not json")
	require.Error(t, err)
}

func TestRedisPublisherPublishesJSON(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub := client.Subscribe(ctx, "cartino:test")
	t.Cleanup(func() { _ = sub.Close() })
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	bus := events.Bus{Notifiers: []events.Notifier{events.RedisPublisher{R: client, Channel: "cartino:test"}}}
	sent, err := bus.Emit(ctx, events.TopicCartMerged, "user-1", map[string]any{"merged": 2})
	require.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var got events.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	require.Equal(t, sent.ID, got.ID)
	require.Equal(t, events.TopicCartMerged, got.Topic)
}
