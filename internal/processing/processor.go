// Package processing runs verify and apply jobs in the background. Goroutines
// + channels (core Go concurrency primitives) power the in-process pool; the
// same Job type travels through the Redis-backed queue.
package processing

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/VoteDrop/internal/logging"
	"github.com/dharsanguruparan/VoteDrop/internal/model"
	"github.com/dharsanguruparan/VoteDrop/internal/pipeline"
	"github.com/dharsanguruparan/VoteDrop/internal/storage"
)

// Kind names the work a Job performs.
type Kind string

const (
	KindVerify Kind = "verify"
	KindApply  Kind = "apply"
)

// ErrQueueFull is returned by Dispatch when the pool cannot take more work.
var ErrQueueFull = errors.New("processing queue full")

// Job represents background processing work. Simple structs like this make it
// easy to extend later without changing channel type signatures.
type Job struct {
	Kind      Kind   `json:"kind"`
	DatasetID string `json:"dataset_id"`
}

// Dispatcher hands a Job to whatever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Runner is the part of the pipeline jobs drive.
type Runner interface {
	Verify(ctx context.Context, id string) (*model.PendingDataset, error)
	Apply(ctx context.Context, id string) (int, error)
}

// Run executes job against runner. Busy datasets and actions the dataset no
// longer offers are expected outcomes of duplicate requests and are logged,
// not returned.
func Run(ctx context.Context, runner Runner, job Job, log logrus.FieldLogger) error {
	var err error
	switch job.Kind {
	case KindVerify:
		_, err = runner.Verify(ctx, job.DatasetID)
	case KindApply:
		_, err = runner.Apply(ctx, job.DatasetID)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
	entry := log.WithFields(logrus.Fields{"dataset_id": job.DatasetID, "job": job.Kind})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrBusy), errors.Is(err, pipeline.ErrActionUnavailable):
		entry.WithError(err).Info("job skipped")
		return nil
	case errors.Is(err, storage.ErrNotFound):
		entry.Warn("dataset vanished before job ran")
		return nil
	default:
		entry.WithError(err).Error("job failed")
		return err
	}
}

// Processor consumes Jobs on a fixed set of goroutines.
type Processor struct {
	runner  Runner
	queue   chan Job
	workers int
	log     *logrus.Entry
}

var _ Dispatcher = (*Processor)(nil)

// New builds a Processor with queue capacity tied to worker count.
func New(runner Runner, workers int, logger logrus.FieldLogger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		runner: runner,
		// make(chan T, N) creates a buffered channel that can hold N messages
		// without blocking producers, keeping requests responsive.
		queue:   make(chan Job, workers*4),
		workers: workers,
		log:     logging.Component(logger, "processing"),
	}
}

// Start launches worker goroutines.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		// Each worker listens for jobs until the context closes.
		go p.worker(ctx)
	}
}

// Dispatch queues a job for async processing. A full queue rejects the job
// and leaves the dataset untouched, so the request can simply be repeated.
func (p *Processor) Dispatch(ctx context.Context, job Job) error {
	select {
	case p.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.log.WithField("dataset_id", job.DatasetID).Warn("processor queue full, dropping job")
		return ErrQueueFull
	}
}

func (p *Processor) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Exit once the context is cancelled (signal handling in main.go).
			return
		case job := <-p.queue:
			_ = Run(ctx, p.runner, job, p.log)
		}
	}
}
