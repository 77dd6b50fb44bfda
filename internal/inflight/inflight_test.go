package inflight

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/VoteDrop/internal/logging"
)

func guards(t *testing.T) map[string]Guard {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return map[string]Guard{
		"local": NewLocal(),
		"redis": NewRedis(client, "test:", time.Minute, logging.Discard()),
	}
}

func TestGuardIsPerID(t *testing.T) {
	for name, g := range guards(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			releaseA, ok, err := g.TryAcquire(ctx, "a")
			require.NoError(t, err)
			require.True(t, ok)

			_, ok, err = g.TryAcquire(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok, "same id must be rejected while held")

			releaseB, ok, err := g.TryAcquire(ctx, "b")
			require.NoError(t, err)
			assert.True(t, ok, "other ids are independent")
			releaseB()

			releaseA()
			releaseA()
			again, ok, err := g.TryAcquire(ctx, "a")
			require.NoError(t, err)
			assert.True(t, ok)
			again()
		})
	}
}

func TestLocalConcurrentClaims(t *testing.T) {
	g := NewLocal()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := g.TryAcquire(context.Background(), "same"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	_, ok, err := g.TryAcquire(context.Background(), "same")
	require.NoError(t, err)
	assert.False(t, ok)
}
