package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/VoteDrop/internal/logging"
	"github.com/dharsanguruparan/VoteDrop/internal/model"
)

// Keys of the two persisted collections, each holding one JSON array.
const (
	PendingDatasetsKey = "pendingDatasets"
	CleanedVotesKey    = "cleanedUploadedVotes"
)

// RedisStore persists both collections as JSON documents under two keys.
// Writes go through WATCH/MULTI so a concurrent writer surfaces as
// ErrConflict instead of a silently lost update.
type RedisStore struct {
	client     *redis.Client
	pendingKey string
	votesKey   string
	log        *logrus.Entry
}

// NewRedisStore wraps an existing client. prefix is prepended to both keys.
func NewRedisStore(client *redis.Client, prefix string, logger logrus.FieldLogger) *RedisStore {
	return &RedisStore{
		client:     client,
		pendingKey: prefix + PendingDatasetsKey,
		votesKey:   prefix + CleanedVotesKey,
		log:        logging.Component(logger, "redis-store"),
	}
}

// Pending exposes the dataset half of the store.
func (r *RedisStore) Pending() PendingStore { return redisPending{r} }

// Applied exposes the applied-votes half of the store.
func (r *RedisStore) Applied() AppliedStore { return redisApplied{r} }

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// readList decodes the JSON array stored at key. A missing key yields an
// empty list; a corrupt document is logged and also treated as empty.
func readList[T any](ctx context.Context, g getter, key string, log *logrus.Entry) ([]T, error) {
	raw, err := g.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		log.WithError(err).WithField("key", key).Warn("corrupt collection, treating as empty")
		return []T{}, nil
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func (r *RedisStore) loadPending(ctx context.Context, g getter) ([]model.PendingDataset, error) {
	return readList[model.PendingDataset](ctx, g, r.pendingKey, r.log)
}

// mutatePending runs fn over the full collection inside an optimistic
// transaction and writes the result back.
func (r *RedisStore) mutatePending(ctx context.Context, fn func([]model.PendingDataset) ([]model.PendingDataset, error)) error {
	return r.watch(ctx, r.pendingKey, func(tx *redis.Tx) error {
		datasets, err := r.loadPending(ctx, tx)
		if err != nil {
			return err
		}
		next, err := fn(datasets)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode datasets: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.pendingKey, data, 0)
			return nil
		})
		return err
	})
}

// maxTxRetries bounds how often a transaction is replayed after another
// writer touched the watched key.
const maxTxRetries = 1000

// watch runs fn in a WATCH/MULTI transaction on key, replaying it while
// other writers win the race. ErrConflict means every attempt lost.
func (r *RedisStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return ErrConflict
}

type redisPending struct{ r *RedisStore }

func (p redisPending) List(ctx context.Context) ([]model.PendingDataset, error) {
	return p.r.loadPending(ctx, p.r.client)
}

func (p redisPending) Get(ctx context.Context, id string) (*model.PendingDataset, error) {
	datasets, err := p.r.loadPending(ctx, p.r.client)
	if err != nil {
		return nil, err
	}
	i := indexOf(datasets, id)
	if i < 0 {
		return nil, ErrNotFound
	}
	return &datasets[i], nil
}

func (p redisPending) Append(ctx context.Context, ds model.PendingDataset) error {
	return p.r.mutatePending(ctx, func(datasets []model.PendingDataset) ([]model.PendingDataset, error) {
		if indexOf(datasets, ds.ID) >= 0 {
			return nil, ErrDuplicate
		}
		return append(datasets, ds), nil
	})
}

func (p redisPending) Update(ctx context.Context, id string, fn UpdateFunc) (*model.PendingDataset, error) {
	var updated model.PendingDataset
	err := p.r.mutatePending(ctx, func(datasets []model.PendingDataset) ([]model.PendingDataset, error) {
		i := indexOf(datasets, id)
		if i < 0 {
			return nil, ErrNotFound
		}
		next := datasets[i].Clone()
		if err := fn(&next); err != nil {
			return nil, err
		}
		next.ID = id
		next.Version = datasets[i].Version + 1
		datasets[i] = next
		updated = next
		return datasets, nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (p redisPending) Remove(ctx context.Context, id string) error {
	return p.r.mutatePending(ctx, func(datasets []model.PendingDataset) ([]model.PendingDataset, error) {
		i := indexOf(datasets, id)
		if i < 0 {
			return nil, ErrNotFound
		}
		return append(datasets[:i], datasets[i+1:]...), nil
	})
}

func (p redisPending) SaveAll(ctx context.Context, datasets []model.PendingDataset) error {
	if datasets == nil {
		datasets = []model.PendingDataset{}
	}
	data, err := json.Marshal(datasets)
	if err != nil {
		return fmt.Errorf("encode datasets: %w", err)
	}
	if err := p.r.client.Set(ctx, p.r.pendingKey, data, 0).Err(); err != nil {
		return fmt.Errorf("write %s: %w", p.r.pendingKey, err)
	}
	return nil
}

type redisApplied struct{ r *RedisStore }

func (a redisApplied) List(ctx context.Context) ([]model.AppliedVote, error) {
	return readList[model.AppliedVote](ctx, a.r.client, a.r.votesKey, a.r.log)
}

func (a redisApplied) Append(ctx context.Context, votes []model.AppliedVote) error {
	return a.r.watch(ctx, a.r.votesKey, func(tx *redis.Tx) error {
		existing, err := readList[model.AppliedVote](ctx, tx, a.r.votesKey, a.r.log)
		if err != nil {
			return err
		}
		data, err := json.Marshal(append(existing, votes...))
		if err != nil {
			return fmt.Errorf("encode votes: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, a.r.votesKey, data, 0)
			return nil
		})
		return err
	})
}

func (a redisApplied) Count(ctx context.Context) (int, error) {
	votes, err := a.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(votes), nil
}
