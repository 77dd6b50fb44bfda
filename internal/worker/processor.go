package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/VoteDrop/internal/logging"
	"github.com/dharsanguruparan/VoteDrop/internal/processing"
	"github.com/dharsanguruparan/VoteDrop/internal/queue"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	runner processing.Runner
	log    *logrus.Entry
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner processing.Runner, logger logrus.FieldLogger) *Processor {
	return &Processor{runner: runner, log: logging.Component(logger, "worker")}
}

// Handler registers the dataset job handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.VerifyDatasetTask, p.handle(processing.KindVerify))
	mux.HandleFunc(queue.ApplyDatasetTask, p.handle(processing.KindApply))
	return mux
}

func (p *Processor) handle(kind processing.Kind) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload queue.DatasetPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
		if payload.DatasetID == "" {
			return fmt.Errorf("payload without dataset id: %w", asynq.SkipRetry)
		}
		if err := processing.Run(ctx, p.runner, processing.Job{Kind: kind, DatasetID: payload.DatasetID}, p.log); err != nil {
			return fmt.Errorf("%s %s: %v: %w", kind, payload.DatasetID, err, asynq.SkipRetry)
		}
		return nil
	}
}
