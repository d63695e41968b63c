//go:build integration

package session_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tillsync/internal/platform/config"
	platformredis "tillsync/internal/platform/redis"
	"tillsync/internal/session"
	"tillsync/pkg/testutil/containers"
)

func TestRedisBusCrossProcessFanOut(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	newClient := func() *platformredis.Client {
		client, err := platformredis.New(config.Redis{URL: rc.URL, PoolSize: 2, MinIdleConns: 1,
			DialTimeout: 5 * time.Second, ReadTimeout: 3 * time.Second, WriteTimeout: 3 * time.Second})
		require.NoError(t, err)
		require.NotNil(t, client)
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	// Two bus instances stand in for two engine processes on the till
	// network.
	logger := slog.New(slog.DiscardHandler)
	producer := session.NewRedisBus(newClient(), "tillsync.test", logger)
	consumer := session.NewRedisBus(newClient(), "tillsync.test", logger)

	var mu sync.Mutex
	var got []session.Update
	cancel, err := consumer.Subscribe(ctx, func(u session.Update) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	update := session.Update{
		Kind:    "order",
		Payload: json.RawMessage(`{"id":"o1","status":"pending"}`),
		Origin:  "till-1",
	}
	require.NoError(t, producer.Publish(ctx, update))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 5*time.Second, 20*time.Millisecond, "update crosses processes")

	mu.Lock()
	require.Equal(t, "order", got[0].Kind)
	require.Equal(t, "till-1", got[0].Origin)
	require.JSONEq(t, string(update.Payload), string(got[0].Payload))
	mu.Unlock()
}

func TestRedisBusUnsubscribeStopsDelivery(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	client, err := platformredis.New(config.Redis{URL: rc.URL, PoolSize: 2, MinIdleConns: 1,
		DialTimeout: 5 * time.Second, ReadTimeout: 3 * time.Second, WriteTimeout: 3 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	bus := session.NewRedisBus(client, "tillsync.test2", slog.New(slog.DiscardHandler))

	var mu sync.Mutex
	count := 0
	cancel, err := bus.Subscribe(ctx, func(session.Update) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, session.Update{Kind: "order"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, bus.Publish(ctx, session.Update{Kind: "order"}))
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	require.Equal(t, 1, count, "no delivery after unsubscribe")
	mu.Unlock()
}
