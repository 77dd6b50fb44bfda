// Package storage holds the persistence contracts for pending datasets and
// applied votes, plus the in-memory and Redis implementations. The Postgres
// implementation lives in package repository.
package storage

import (
	"context"
	"errors"

	"github.com/dharsanguruparan/VoteDrop/internal/model"
)

var (
	// ErrNotFound is exported so callers elsewhere can compare errors using
	// errors.Is.
	ErrNotFound = errors.New("dataset not found")
	// ErrConflict means another writer changed the entry between our read and
	// our write.
	ErrConflict = errors.New("dataset was modified concurrently")
	// ErrDuplicate is returned when appending an id that already exists.
	ErrDuplicate = errors.New("dataset already exists")
)

// UpdateFunc mutates a dataset in place. Returning an error aborts the update
// and is passed through to the caller unchanged.
type UpdateFunc func(*model.PendingDataset) error

// PendingStore is the ordered queue of uploaded datasets.
type PendingStore interface {
	// List returns every dataset in insertion order. Unreadable persisted
	// state yields an empty list rather than an error.
	List(ctx context.Context) ([]model.PendingDataset, error)
	Get(ctx context.Context, id string) (*model.PendingDataset, error)
	Append(ctx context.Context, ds model.PendingDataset) error
	// Update atomically applies fn to one dataset and bumps its version.
	Update(ctx context.Context, id string, fn UpdateFunc) (*model.PendingDataset, error)
	Remove(ctx context.Context, id string) error
	// SaveAll replaces the whole collection in a single write.
	SaveAll(ctx context.Context, datasets []model.PendingDataset) error
}

// AppliedStore is the append-only pool of applied votes.
type AppliedStore interface {
	List(ctx context.Context) ([]model.AppliedVote, error)
	Append(ctx context.Context, votes []model.AppliedVote) error
	Count(ctx context.Context) (int, error)
}

func indexOf(datasets []model.PendingDataset, id string) int {
	for i := range datasets {
		if datasets[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneAll(in []model.PendingDataset) []model.PendingDataset {
	out := make([]model.PendingDataset, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
