package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusFanOut(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	var mu sync.Mutex
	got := map[string][]Update{}
	collect := func(name string) func(Update) {
		return func(u Update) {
			mu.Lock()
			got[name] = append(got[name], u)
			mu.Unlock()
		}
	}

	cancelA, err := bus.Subscribe(context.Background(), collect("a"))
	require.NoError(t, err)
	defer cancelA()
	cancelB, err := bus.Subscribe(context.Background(), collect("b"))
	require.NoError(t, err)
	defer cancelB()

	update := Update{Kind: "order", Payload: json.RawMessage(`{"id":"o1"}`), Origin: "sess-1"}
	require.NoError(t, bus.Publish(context.Background(), update))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["a"]) == 1 && len(got["b"]) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "sess-1", got["a"][0].Origin)
	mu.Unlock()
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	cancel, err := bus.Subscribe(context.Background(), func(Update) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), Update{Kind: "order"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, bus.Publish(context.Background(), Update{Kind: "order"}))

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, count, "no delivery after unsubscribe")
	mu.Unlock()
}

func TestMemoryBusSlowConsumerDoesNotBlockPublish(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	block := make(chan struct{})
	_, err := bus.Subscribe(context.Background(), func(Update) { <-block })
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subBuffer*2; i++ {
			_ = bus.Publish(context.Background(), Update{Kind: "order"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a stalled consumer")
	}
	close(block)
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()

	s1 := reg.Add("Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "127.0.0.1:51000")
	s2 := reg.Add("", "127.0.0.1:51001")

	assert.Equal(t, 2, reg.Count())
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, "Unknown Device", s2.DisplayName)

	reg.Remove(s1.ID)
	require.Len(t, reg.List(), 1)
	assert.Equal(t, s2.ID, reg.List()[0].ID)
}

func TestParseUserAgent(t *testing.T) {
	t.Run("empty returns unknown device", func(t *testing.T) {
		assert.Equal(t, "Unknown Device", ParseUserAgent(""))
	})

	t.Run("chrome on mac includes browser and os", func(t *testing.T) {
		got := ParseUserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		assert.Contains(t, got, "Chrome")
		assert.Contains(t, got, "on")
		assert.NotContains(t, got, "  ")
	})

	t.Run("unparseable degrades", func(t *testing.T) {
		got := ParseUserAgent("Unknown/1.0")
		assert.Contains(t, got, "on")
		assert.NotEmpty(t, got)
	})
}
