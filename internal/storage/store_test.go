package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/VoteDrop/internal/logging"
	"github.com/dharsanguruparan/VoteDrop/internal/model"
)

type backend struct {
	pending PendingStore
	applied AppliedStore
}

func backends(t *testing.T) map[string]func(t *testing.T) backend {
	return map[string]func(t *testing.T) backend{
		"memory": func(t *testing.T) backend {
			m := NewMemoryStore()
			return backend{m.Pending(), m.Applied()}
		},
		"redis": func(t *testing.T) backend {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			r := NewRedisStore(client, "test:", logging.Discard())
			return backend{r.Pending(), r.Applied()}
		},
	}
}

func dataset(id string, n int) model.PendingDataset {
	recs := make([]model.VoteRecord, n)
	for i := range recs {
		recs[i] = model.VoteRecord{DNI: "12345678", Categoria: model.CategoriaCongreso, Partido: "AZUL", Region: "Lima", Mesa: i + 1}
	}
	return model.PendingDataset{
		ID: id, Name: id + ".json", Type: model.DatasetTypeResultados,
		Records: n, UploadDate: time.Date(2026, 4, 12, 10, 0, 0, 0, time.UTC),
		Status: model.StatusPending, RawData: recs,
	}
}

func TestPendingStoreContract(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := mk(t)

			list, err := b.pending.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)

			require.NoError(t, b.pending.Append(ctx, dataset("b", 1)))
			require.NoError(t, b.pending.Append(ctx, dataset("a", 2)))
			require.NoError(t, b.pending.Append(ctx, dataset("c", 3)))
			assert.ErrorIs(t, b.pending.Append(ctx, dataset("a", 1)), ErrDuplicate)

			list, err = b.pending.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []string{"b", "a", "c"}, []string{list[0].ID, list[1].ID, list[2].ID})
			assert.Equal(t, 2, list[1].RawData[1].Mesa)

			updated, err := b.pending.Update(ctx, "a", func(ds *model.PendingDataset) error {
				ds.Status = model.StatusVerified
				ds.Issues = []model.DataIssue{{ID: "i", Level: model.LevelWarning}}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, model.StatusVerified, updated.Status)
			assert.Equal(t, int64(1), updated.Version)

			got, err := b.pending.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, model.StatusVerified, got.Status)
			assert.Len(t, got.Issues, 1)
			assert.True(t, got.UploadDate.Equal(dataset("a", 1).UploadDate))

			boom := errors.New("boom")
			_, err = b.pending.Update(ctx, "a", func(ds *model.PendingDataset) error {
				ds.Status = model.StatusError
				return boom
			})
			assert.ErrorIs(t, err, boom)
			got, _ = b.pending.Get(ctx, "a")
			assert.Equal(t, model.StatusVerified, got.Status, "failed update must not persist")

			_, err = b.pending.Update(ctx, "zzz", func(*model.PendingDataset) error { return nil })
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = b.pending.Get(ctx, "zzz")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.pending.Remove(ctx, "a"))
			assert.ErrorIs(t, b.pending.Remove(ctx, "a"), ErrNotFound)
			list, _ = b.pending.List(ctx)
			assert.Equal(t, []string{"b", "c"}, []string{list[0].ID, list[1].ID})

			require.NoError(t, b.pending.SaveAll(ctx, []model.PendingDataset{dataset("z", 1)}))
			list, _ = b.pending.List(ctx)
			require.Len(t, list, 1)
			assert.Equal(t, "z", list[0].ID)
		})
	}
}

func TestAppliedStoreContract(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := mk(t)

			n, err := b.applied.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)

			vote := model.AppliedVote{VoteRecord: model.VoteRecord{DNI: "12345678", Partido: "AZUL"}, SourceDatasetID: "ds-1"}
			require.NoError(t, b.applied.Append(ctx, []model.AppliedVote{vote, vote}))
			require.NoError(t, b.applied.Append(ctx, []model.AppliedVote{vote}))

			n, err = b.applied.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n, "applied votes are never deduplicated")

			votes, err := b.applied.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, "ds-1", votes[2].SourceDatasetID)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore().Pending()
	require.NoError(t, m.Append(ctx, dataset("a", 1)))

	got, _ := m.Get(ctx, "a")
	got.RawData[0].DNI = "changed"
	again, _ := m.Get(ctx, "a")
	assert.Equal(t, "12345678", again.RawData[0].DNI)
}

func TestRedisCorruptCollectionsReadAsEmpty(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, mr.Set(PendingDatasetsKey, "{not json"))
	require.NoError(t, mr.Set(CleanedVotesKey, `{"an":"object"}`))

	r := NewRedisStore(client, "", logging.Discard())
	list, err := r.Pending().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	votes, err := r.Applied().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, votes)

	// Writing after corruption starts a fresh collection.
	require.NoError(t, r.Pending().Append(ctx, dataset("a", 1)))
	list, _ = r.Pending().List(ctx)
	assert.Len(t, list, 1)
}

func TestRedisUsesDocumentedLayout(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	r := NewRedisStore(client, "", logging.Discard())
	require.NoError(t, r.Pending().Append(ctx, dataset("a", 1)))
	require.NoError(t, r.Applied().Append(ctx, []model.AppliedVote{{VoteRecord: model.VoteRecord{DNI: "12345678"}}}))

	raw, err := mr.Get(PendingDatasetsKey)
	require.NoError(t, err)
	assert.Contains(t, raw, `"rawData":[{"DNI":"12345678","categoria":"congreso"`)
	assert.Contains(t, raw, `"uploadDate":"2026-04-12T10:00:00Z"`)
	raw, err = mr.Get(CleanedVotesKey)
	require.NoError(t, err)
	assert.Contains(t, raw, `"DNI":"12345678"`)
}

func TestRedisConcurrentWritersAllLand(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	r := NewRedisStore(client, "", logging.Discard())
	ctx := context.Background()

	require.NoError(t, r.Pending().Append(ctx, dataset("busy", 1)))

	const writers = 40
	var wg sync.WaitGroup
	errs := make(chan error, 2*writers)
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- r.Pending().Append(ctx, dataset(fmt.Sprintf("ds-%d", i), 1))
		}(i)
		go func() {
			defer wg.Done()
			_, err := r.Pending().Update(ctx, "busy", func(ds *model.PendingDataset) error {
				ds.Records++
				return nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	list, err := r.Pending().List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, writers+1)
	busy, err := r.Pending().Get(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, 1+writers, busy.Records)
	assert.Equal(t, int64(writers), busy.Version)
}
