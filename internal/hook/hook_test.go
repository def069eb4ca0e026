package hook

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookbus/hookbus/internal/emitter"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestRoleFallbackAndLifecycleTopics(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var h1Events, h2Events []string

	h1 := New(Options{Name: "broker", Version: "1.0.0", Host: "127.0.0.1", Port: port})
	for _, topic := range []string{"hook::listening", "hook::started", "hook::ready"} {
		topic := topic
		h1.On(topic, func(data interface{}, reply emitter.Reply) {
			mu.Lock()
			h1Events = append(h1Events, topic)
			mu.Unlock()
		})
	}
	require.NoError(t, h1.Start(ctx))
	require.Equal(t, RoleServer, h1.Role())

	h2 := New(Options{Name: "worker", Version: "1.0.0", Host: "127.0.0.1", Port: port})
	for _, topic := range []string{"hook::connected", "hook::started", "hook::ready"} {
		topic := topic
		h2.On(topic, func(data interface{}, reply emitter.Reply) {
			mu.Lock()
			h2Events = append(h2Events, topic)
			mu.Unlock()
		})
	}
	require.NoError(t, h2.Start(ctx))
	require.Equal(t, RoleClient, h2.Role())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(h1Events) == 3 && len(h2Events) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"hook::listening", "hook::started", "hook::ready"}, h1Events)
	assert.Equal(t, []string{"hook::connected", "hook::started", "hook::ready"}, h2Events)
	mu.Unlock()

	_ = h1.Stop()
	_ = h2.Stop()
}

func TestNameUniquificationAcrossClients(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	broker := New(Options{Name: "broker", Version: "1.0.0", Host: "127.0.0.1", Port: port})
	require.NoError(t, broker.Start(ctx))
	defer broker.Stop()

	c1 := New(Options{Name: "worker", Version: "1.0.0", Host: "127.0.0.1", Port: port})
	require.NoError(t, c1.Start(ctx))
	defer c1.Stop()

	c2 := New(Options{Name: "worker", Version: "1.0.0", Host: "127.0.0.1", Port: port})
	require.NoError(t, c2.Start(ctx))
	defer c2.Stop()

	assert.Equal(t, "worker", c1.Name())
	assert.Equal(t, "worker-0", c2.Name())
}

func TestSubscriptionPropagationAndDelivery(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	broker := New(Options{Name: "broker", Version: "1.0.0", Host: "127.0.0.1", Port: port})
	require.NoError(t, broker.Start(ctx))
	defer broker.Stop()

	client := New(Options{Name: "worker", Version: "1.0.0", Host: "127.0.0.1", Port: port})
	require.NoError(t, client.Start(ctx))
	defer client.Stop()

	var mu sync.Mutex
	var received interface{}
	client.On("alpha::*", func(data interface{}, reply emitter.Reply) {
		mu.Lock()
		received = data
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		reg := broker.Registry()
		if reg == nil {
			return false
		}
		rec, ok := reg.ByName("worker")
		return ok && rec.HasSubscription("alpha::*")
	}, 2*time.Second, 10*time.Millisecond)

	broker.Emit("alpha::one", map[string]int{"v": 1}, nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestVersionMismatchRejectsConnect(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	broker := New(Options{Name: "broker", Version: "1.2.3", Host: "127.0.0.1", Port: port})
	require.NoError(t, broker.Start(ctx))
	defer broker.Stop()

	client := New(Options{Name: "worker", Version: "1.2.4", Host: "127.0.0.1", Port: port})

	var connected bool
	client.On("hook::connected", func(data interface{}, reply emitter.Reply) { connected = true })

	err := client.Start(ctx)
	require.Error(t, err)
	assert.False(t, connected)
}

func TestUnsubscribeGatesFurtherDelivery(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	broker := New(Options{Name: "broker", Version: "1.0.0", Host: "127.0.0.1", Port: port})
	require.NoError(t, broker.Start(ctx))
	defer broker.Stop()

	client := New(Options{Name: "worker", Version: "1.0.0", Host: "127.0.0.1", Port: port})
	require.NoError(t, client.Start(ctx))
	defer client.Stop()

	var mu sync.Mutex
	count := 0
	fn := func(data interface{}, reply emitter.Reply) {
		mu.Lock()
		count++
		mu.Unlock()
	}
	client.On("alpha::*", fn)

	require.Eventually(t, func() bool {
		reg := broker.Registry()
		if reg == nil {
			return false
		}
		rec, ok := reg.ByName("worker")
		return ok && rec.HasSubscription("alpha::*")
	}, 2*time.Second, 10*time.Millisecond)

	client.Off("alpha::*", fn)

	require.Eventually(t, func() bool {
		reg := broker.Registry()
		rec, ok := reg.ByName("worker")
		return ok && !rec.HasSubscription("alpha::*")
	}, 2*time.Second, 10*time.Millisecond)

	broker.Emit("alpha::one", map[string]int{"v": 2}, nil)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestStopWithoutStartReturnsNothingToStop(t *testing.T) {
	h := New(Options{Name: "idle", Version: "1.0.0"})
	err := h.Stop()
	require.Error(t, err)
}

func TestStartTwiceIsRejected(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := New(Options{Name: "broker", Version: "1.0.0", Host: "127.0.0.1", Port: port})
	require.NoError(t, h.Start(ctx))
	defer h.Stop()

	err := h.Start(ctx)
	require.Error(t, err)
}

func TestListenAndConnectOverUnixSocket(t *testing.T) {
	socket := t.TempDir() + "/hookbus.sock"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	broker := New(Options{Name: "broker", Version: "1.0.0", Socket: socket})
	require.NoError(t, broker.Start(ctx))
	defer broker.Stop()
	require.Equal(t, RoleServer, broker.Role())

	client := New(Options{Name: "worker", Version: "1.0.0", Socket: socket})
	require.NoError(t, client.Start(ctx))
	defer client.Stop()
	require.Equal(t, RoleClient, client.Role())
}

func TestKillRefusesOnBroker(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	broker := New(Options{Name: "broker", Version: "1.0.0", Host: "127.0.0.1", Port: port})
	require.NoError(t, broker.Start(ctx))
	defer broker.Stop()

	err := broker.Kill("")
	require.Error(t, err)
}
