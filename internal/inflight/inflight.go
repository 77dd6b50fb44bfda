// Package inflight marks datasets that are being verified or applied so the
// same dataset is never processed twice at once. Different datasets do not
// block each other.
package inflight

import (
	"context"
	"sync"
)

// Guard hands out per-id claims.
type Guard interface {
	// TryAcquire claims id. ok is false when another caller holds it; release
	// must be called exactly once after a successful claim.
	TryAcquire(ctx context.Context, id string) (release func(), ok bool, err error)
}

// Local is an in-process Guard backed by a set of ids.
type Local struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewLocal constructs an empty Local guard.
func NewLocal() *Local {
	return &Local{ids: make(map[string]struct{})}
}

// TryAcquire implements Guard.
func (l *Local) TryAcquire(_ context.Context, id string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.ids[id]; busy {
		return nil, false, nil
	}
	l.ids[id] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.ids, id)
			l.mu.Unlock()
		})
	}, true, nil
}
