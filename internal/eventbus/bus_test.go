package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rescuelink/backend/internal/cache"
	"github.com/rescuelink/backend/internal/models"
)

func setupTestBus(t *testing.T) (*miniredis.Miniredis, *Bus) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewBus(cache.NewRedisClientFromClient(client), zap.NewNop(), nil)
	t.Cleanup(func() {
		_ = bus.Close()
		_ = client.Close()
	})
	return mr, bus
}

func waitFor(t *testing.T, ch <-chan models.DomainEvent) models.DomainEvent {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.DomainEvent{}
	}
}

func TestBus_DeliversToAllHandlers(t *testing.T) {
	_, bus := setupTestBus(t)
	ctx := context.Background()

	first := make(chan models.DomainEvent, 1)
	second := make(chan models.DomainEvent, 1)
	require.NoError(t, bus.Subscribe(ctx, models.EventDispatchCreated, "first", func(_ context.Context, evt models.DomainEvent) error {
		first <- evt
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, models.EventDispatchCreated, "second", func(_ context.Context, evt models.DomainEvent) error {
		second <- evt
		return nil
	}))

	evt, err := models.NewDomainEvent(models.EventDispatchCreated, models.SystemNoticePayload{Message: "x"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, evt))

	got := waitFor(t, first)
	assert.Equal(t, evt.ID, got.ID)
	assert.JSONEq(t, string(evt.Payload), string(got.Payload))
	assert.Equal(t, evt.ID, waitFor(t, second).ID)
}

func TestBus_HandlerFailuresAreIsolated(t *testing.T) {
	_, bus := setupTestBus(t)
	ctx := context.Background()

	healthy := make(chan models.DomainEvent, 4)
	require.NoError(t, bus.Subscribe(ctx, models.EventCallStarted, "failing", func(context.Context, models.DomainEvent) error {
		return errors.New("boom")
	}))
	require.NoError(t, bus.Subscribe(ctx, models.EventCallStarted, "panicking", func(context.Context, models.DomainEvent) error {
		panic("handler bug")
	}))
	require.NoError(t, bus.Subscribe(ctx, models.EventCallStarted, "healthy", func(_ context.Context, evt models.DomainEvent) error {
		healthy <- evt
		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx, models.EventCallEnded, "healthy-ended", func(_ context.Context, evt models.DomainEvent) error {
		healthy <- evt
		return nil
	}))

	require.NoError(t, bus.PublishPayload(ctx, models.EventCallStarted, models.CallLifecyclePayload{CallSID: "C1"}))
	assert.Equal(t, models.EventCallStarted, waitFor(t, healthy).Name)

	require.NoError(t, bus.PublishPayload(ctx, models.EventCallEnded, models.CallLifecyclePayload{CallSID: "C1"}))
	assert.Equal(t, models.EventCallEnded, waitFor(t, healthy).Name)
}

func TestBus_SubscribesChannelOnce(t *testing.T) {
	mr, bus := setupTestBus(t)
	ctx := context.Background()

	noop := func(context.Context, models.DomainEvent) error { return nil }
	require.NoError(t, bus.Subscribe(ctx, models.EventSystemNotice, "a", noop))
	require.NoError(t, bus.Subscribe(ctx, models.EventSystemNotice, "b", noop))
	require.NoError(t, bus.Subscribe(ctx, models.EventCallQueued, "c", noop))

	assert.Eventually(t, func() bool {
		return len(mr.PubSubChannels("")) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t,
		[]string{ChannelFor(models.EventSystemNotice), ChannelFor(models.EventCallQueued)},
		mr.PubSubChannels(""))
	assert.Len(t, bus.handlers[models.EventSystemNotice], 2)
}

func TestBus_PublishWithoutHandlers(t *testing.T) {
	_, bus := setupTestBus(t)

	err := bus.PublishPayload(context.Background(), models.EventOperatorStatusChanged, models.OperatorStatusPayload{OperatorID: "op-1"})
	assert.NoError(t, err)
}

func TestBus_Closed(t *testing.T) {
	_, bus := setupTestBus(t)
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.PublishPayload(context.Background(), models.EventSystemNotice, nil), ErrClosed)
	assert.ErrorIs(t, bus.Subscribe(context.Background(), models.EventSystemNotice, "late", nil), ErrClosed)
	assert.NoError(t, bus.Close())
}
