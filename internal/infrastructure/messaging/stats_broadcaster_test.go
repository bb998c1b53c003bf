package messaging

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsBroadcaster_SendsOnRegisterAndEveryTick(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var n atomic.Int32
		b := NewStatsBroadcaster(func() any {
			return map[string]int32{"n": n.Add(1)}
		}, time.Second, nil)

		ctx, cancel := context.WithCancel(t.Context())
		go b.Run(ctx)

		client := &StatsClient{Send: make(chan []byte, 4)}
		require.True(t, b.Register(client))
		synctest.Wait()
		assert.Equal(t, 1, b.ClientCount())

		var got map[string]int32
		require.NoError(t, json.Unmarshal(<-client.Send, &got))
		assert.EqualValues(t, 1, got["n"])

		time.Sleep(time.Second)
		synctest.Wait()
		require.NoError(t, json.Unmarshal(<-client.Send, &got))
		assert.EqualValues(t, 2, got["n"])

		b.Unregister(client)
		synctest.Wait()
		_, open := <-client.Send
		assert.False(t, open)
		assert.Zero(t, b.ClientCount())

		cancel()
		synctest.Wait()
		assert.False(t, b.Register(&StatsClient{Send: make(chan []byte, 1)}))
	})
}

func TestStatsBroadcaster_SkipsSnapshotsWithoutClients(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var calls atomic.Int32
		b := NewStatsBroadcaster(func() any {
			calls.Add(1)
			return struct{}{}
		}, time.Second, nil)

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		go b.Run(ctx)

		time.Sleep(5 * time.Second)
		synctest.Wait()
		assert.Zero(t, calls.Load())
	})
}

func TestStatsBroadcaster_DropsForSlowClients(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		b := NewStatsBroadcaster(func() any { return 1 }, time.Second, nil)

		ctx, cancel := context.WithCancel(t.Context())
		go b.Run(ctx)

		client := &StatsClient{Send: make(chan []byte, 1)}
		require.True(t, b.Register(client))
		time.Sleep(10 * time.Second)
		synctest.Wait()

		assert.Len(t, client.Send, 1)
		cancel()
		synctest.Wait()
	})
}
