package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hatlonely/aggx/kv/store"
	"github.com/hatlonely/aggx/ref"
	"github.com/hatlonely/aggx/search/aggregation"
	"github.com/hatlonely/aggx/uid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(t *testing.T, shardID string, value float64) []byte {
	resp, err := NewShardResponse(shardID, aggregation.InternalAggregations{&aggregation.InternalSum{AggName: "total", Value: value}})
	require.NoError(t, err)
	return MarshalEnvelope(resp)
}

func TestBarrier(t *testing.T) {
	ctx := context.Background()

	t.Run("collect in shard order", func(t *testing.T) {
		b, err := NewBarrierWithOptions(nil)
		require.NoError(t, err)
		id, err := b.Open([]string{"s1", "s2", "s3"})
		require.NoError(t, err)

		require.NoError(t, b.Arrive(ctx, id, envelope(t, "s3", 3)))
		_, err = b.Collect(ctx, id)
		assert.True(t, errors.Is(err, ErrNotReady))

		require.NoError(t, b.Arrive(ctx, id, envelope(t, "s1", 1)))
		require.NoError(t, b.Arrive(ctx, id, envelope(t, "s2", 2)))

		responses, err := b.Collect(ctx, id)
		require.NoError(t, err)
		require.Len(t, responses, 3)
		for i, shard := range []string{"s1", "s2", "s3"} {
			assert.Equal(t, shard, responses[i].ShardID)
		}

		require.NoError(t, b.Close(ctx, id))
		_, err = b.Collect(ctx, id)
		assert.True(t, errors.Is(err, ErrUnknownSession))
	})

	t.Run("wait for concurrent arrivals", func(t *testing.T) {
		b, err := NewBarrierWithOptions(nil)
		require.NoError(t, err)
		shards := []string{"s1", "s2", "s3", "s4"}
		id, err := b.Open(shards)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i, shard := range shards {
			data := envelope(t, shard, float64(i))
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, b.Arrive(ctx, id, data))
			}()
		}

		responses, err := b.Wait(ctx, id)
		require.NoError(t, err)
		assert.Len(t, responses, 4)
		wg.Wait()
	})

	t.Run("unexpected arrivals", func(t *testing.T) {
		b, err := NewBarrierWithOptions(nil)
		require.NoError(t, err)
		id, err := b.Open([]string{"s1", "s2"})
		require.NoError(t, err)

		require.NoError(t, b.Arrive(ctx, id, envelope(t, "s1", 1)))
		assert.True(t, errors.Is(b.Arrive(ctx, id, envelope(t, "s1", 1)), ErrUnexpectedShard))
		assert.True(t, errors.Is(b.Arrive(ctx, id, envelope(t, "s9", 1)), ErrUnexpectedShard))
		assert.True(t, errors.Is(b.Arrive(ctx, "missing", envelope(t, "s1", 1)), ErrUnknownSession))
		assert.True(t, errors.Is(b.Arrive(ctx, id, []byte{0xff}), aggregation.ErrDecode))
	})

	t.Run("wait honours ctx", func(t *testing.T) {
		b, err := NewBarrierWithOptions(nil)
		require.NoError(t, err)
		id, err := b.Open([]string{"s1", "s2"})
		require.NoError(t, err)
		require.NoError(t, b.Arrive(ctx, id, envelope(t, "s1", 1)))

		timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err = b.Wait(timeout, id)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("close wakes waiters", func(t *testing.T) {
		b, err := NewBarrierWithOptions(nil)
		require.NoError(t, err)
		id, err := b.Open([]string{"s1", "s2"})
		require.NoError(t, err)
		require.NoError(t, b.Arrive(ctx, id, envelope(t, "s1", 1)))

		waitErr := make(chan error, 1)
		go func() {
			_, err := b.Wait(ctx, id)
			waitErr <- err
		}()

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, b.Close(ctx, id))

		select {
		case err := <-waitErr:
			assert.True(t, errors.Is(err, ErrUnknownSession))
		case <-time.After(2 * time.Second):
			t.Fatal("Wait did not return after Close")
		}

		require.NoError(t, b.Close(ctx, id))
	})

	t.Run("open", func(t *testing.T) {
		b, err := NewBarrierWithOptions(&BarrierOptions{
			Store:     &ref.TypeOptions{Type: "FreeCacheStore", Options: &store.FreeCacheStoreOptions{Size: 1024 * 1024}},
			SessionID: &ref.TypeOptions{Type: "UUIDGenerator", Options: &uid.UUIDOptions{Version: "v7", WithHyphens: true}},
		})
		require.NoError(t, err)
		_, err = b.Open(nil)
		assert.Error(t, err)
		_, err = b.Open([]string{"s1", "s1"})
		assert.Error(t, err)

		id1, err := b.Open([]string{"s1"})
		require.NoError(t, err)
		id2, err := b.Open([]string{"s1"})
		require.NoError(t, err)
		assert.NotEqual(t, id1, id2)
		assert.Len(t, id1, 36)

		require.NoError(t, b.Arrive(ctx, id1, envelope(t, "s1", 1)))
		responses, err := b.Collect(ctx, id1)
		require.NoError(t, err)
		assert.Equal(t, "s1", responses[0].ShardID)
	})

	t.Run("bad options", func(t *testing.T) {
		_, err := NewBarrierWithOptions(&BarrierOptions{SessionID: &ref.TypeOptions{Type: "UUIDGenerator", Options: &uid.UUIDOptions{Version: "v2"}}})
		assert.Error(t, err)
	})
}
