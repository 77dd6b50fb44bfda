package processing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/VoteDrop/internal/logging"
	"github.com/dharsanguruparan/VoteDrop/internal/model"
	"github.com/dharsanguruparan/VoteDrop/internal/pipeline"
	"github.com/dharsanguruparan/VoteDrop/internal/storage"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []Job
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeRunner) record(job Job) error {
	f.mu.Lock()
	f.calls = append(f.calls, job)
	f.mu.Unlock()
	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.block != nil {
		<-f.block
	}
	return f.err
}

func (f *fakeRunner) Verify(_ context.Context, id string) (*model.PendingDataset, error) {
	return nil, f.record(Job{Kind: KindVerify, DatasetID: id})
}

func (f *fakeRunner) Apply(_ context.Context, id string) (int, error) {
	return 0, f.record(Job{Kind: KindApply, DatasetID: id})
}

func (f *fakeRunner) jobs() []Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Job(nil), f.calls...)
}

func TestRunSwallowsExpectedOutcomes(t *testing.T) {
	log := logging.Discard()
	for _, err := range []error{pipeline.ErrBusy, pipeline.ErrActionUnavailable, storage.ErrNotFound} {
		r := &fakeRunner{err: err}
		assert.NoError(t, Run(context.Background(), r, Job{Kind: KindApply, DatasetID: "a"}, log))
	}

	boom := errors.New("boom")
	r := &fakeRunner{err: boom}
	assert.ErrorIs(t, Run(context.Background(), r, Job{Kind: KindVerify, DatasetID: "a"}, log), boom)

	assert.Error(t, Run(context.Background(), r, Job{Kind: "reindex", DatasetID: "a"}, log))
}

func TestProcessorRunsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeRunner{}
	p := New(r, 2, logging.Discard())
	p.Start(ctx)

	require.NoError(t, p.Dispatch(ctx, Job{Kind: KindVerify, DatasetID: "a"}))
	require.NoError(t, p.Dispatch(ctx, Job{Kind: KindApply, DatasetID: "b"}))

	assert.Eventually(t, func() bool { return len(r.jobs()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []Job{{KindVerify, "a"}, {KindApply, "b"}}, r.jobs())
}

func TestDispatchRejectsWhenFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	p := New(r, 1, logging.Discard())
	p.Start(ctx)

	require.NoError(t, p.Dispatch(ctx, Job{Kind: KindVerify, DatasetID: "running"}))
	<-r.started
	// One worker blocked; the buffer holds four more.
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Dispatch(ctx, Job{Kind: KindVerify, DatasetID: "queued"}))
	}
	assert.ErrorIs(t, p.Dispatch(ctx, Job{Kind: KindVerify, DatasetID: "dropped"}), ErrQueueFull)
	close(r.block)
}
