package inflight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/VoteDrop/internal/logging"
)

// Redis is a Guard shared by every process talking to the same Redis, used
// when several workers pull verify/apply jobs. Claims expire after ttl so a
// crashed worker cannot wedge a dataset forever.
type Redis struct {
	locker *redislock.Client
	prefix string
	ttl    time.Duration
	log    *logrus.Entry
}

// NewRedis constructs a Redis guard.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration, logger logrus.FieldLogger) *Redis {
	return &Redis{
		locker: redislock.New(client),
		prefix: prefix + "inflight:",
		ttl:    ttl,
		log:    logging.Component(logger, "inflight"),
	}
}

// TryAcquire implements Guard.
func (r *Redis) TryAcquire(ctx context.Context, id string) (func(), bool, error) {
	lock, err := r.locker.Obtain(ctx, r.prefix+id, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain lock for %s: %w", id, err)
	}
	return func() {
		// Release with a fresh context: the caller's may already be done.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.log.WithError(err).WithField("dataset_id", id).Warn("release lock")
		}
	}, true, nil
}
