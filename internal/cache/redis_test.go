package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisClient) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisClientFromClient(client)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rc, err := NewRedisClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	assert.NoError(t, rc.Close())

	mr.Close()
	_, err = NewRedisClient(context.Background(), mr.Addr(), "", 0)
	assert.Error(t, err)
}

func TestLease_SingleOwner(t *testing.T) {
	_, rc := setupTestRedis(t)
	ctx := context.Background()

	ok, err := rc.AcquireLease(ctx, "sim:ambulance:1", "node-a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rc.AcquireLease(ctx, "sim:ambulance:1", "node-b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not take a held lease")

	ok, err = rc.RenewLease(ctx, "sim:ambulance:1", "node-b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rc.AcquireLease(ctx, "sim:ambulance:1", "node-a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "owner re-acquiring extends its lease")
}

func TestLease_ReleaseOnlyByOwner(t *testing.T) {
	mr, rc := setupTestRedis(t)
	ctx := context.Background()

	_, err := rc.AcquireLease(ctx, "sim:ambulance:2", "node-a", time.Second)
	require.NoError(t, err)

	require.NoError(t, rc.ReleaseLease(ctx, "sim:ambulance:2", "node-b"))
	assert.True(t, mr.Exists("sim:ambulance:2"))

	require.NoError(t, rc.ReleaseLease(ctx, "sim:ambulance:2", "node-a"))
	assert.False(t, mr.Exists("sim:ambulance:2"))
}

func TestLease_Expires(t *testing.T) {
	mr, rc := setupTestRedis(t)
	ctx := context.Background()

	_, err := rc.AcquireLease(ctx, "sim:ambulance:3", "node-a", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	ok, err := rc.AcquireLease(ctx, "sim:ambulance:3", "node-b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPublishSubscribe(t *testing.T) {
	_, rc := setupTestRedis(t)
	ctx := context.Background()

	ps := rc.Subscribe(ctx, "events:system.notice")
	defer ps.Close()
	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, rc.Publish(ctx, "events:system.notice", []byte(`{"message":"hi"}`)))

	select {
	case msg := <-ps.Channel():
		assert.Equal(t, `{"message":"hi"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestAllowAction(t *testing.T) {
	_, rc := setupTestRedis(t)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 5; i++ {
		ok, err := rc.AllowAction(ctx, "ws:client-1", 1, 3)
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}
