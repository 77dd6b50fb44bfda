// Package pipeline runs the dataset workflow: upload into the pending queue,
// verification, and application to the applied votes pool or deletion.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/VoteDrop/internal/events"
	"github.com/dharsanguruparan/VoteDrop/internal/inflight"
	"github.com/dharsanguruparan/VoteDrop/internal/logging"
	"github.com/dharsanguruparan/VoteDrop/internal/model"
	"github.com/dharsanguruparan/VoteDrop/internal/normalize"
	"github.com/dharsanguruparan/VoteDrop/internal/storage"
)

var (
	// ErrActionUnavailable means the dataset's status does not offer the
	// requested action.
	ErrActionUnavailable = errors.New("action not available for dataset status")
	// ErrBusy means another verify/apply/delete on the same dataset is still
	// running. Callers treat it as a no-op.
	ErrBusy = errors.New("dataset is already being processed")
)

// Archiver keeps copies of uploads and applied batches outside the stores.
type Archiver interface {
	ArchiveUpload(ctx context.Context, datasetID, name string, data []byte) error
	ArchiveApplied(ctx context.Context, datasetID string, votes []model.AppliedVote) error
}

// Options configures a Pipeline. Zero values pick sensible defaults.
type Options struct {
	VerifyDelay time.Duration
	ApplyDelay  time.Duration
	Guard       inflight.Guard
	Archiver    Archiver
	Bus         *events.Bus
	Logger      logrus.FieldLogger
	Now         func() time.Time
}

// Pipeline owns the dataset workflow. All state lives in the injected stores.
type Pipeline struct {
	pending     storage.PendingStore
	applied     storage.AppliedStore
	guard       inflight.Guard
	archiver    Archiver
	bus         *events.Bus
	log         *logrus.Entry
	now         func() time.Time
	verifyDelay time.Duration
	applyDelay  time.Duration
}

// New builds a Pipeline over the two stores.
func New(pending storage.PendingStore, applied storage.AppliedStore, opts Options) *Pipeline {
	p := &Pipeline{
		pending:     pending,
		applied:     applied,
		guard:       opts.Guard,
		archiver:    opts.Archiver,
		bus:         opts.Bus,
		log:         logging.Component(opts.Logger, "pipeline"),
		now:         opts.Now,
		verifyDelay: opts.VerifyDelay,
		applyDelay:  opts.ApplyDelay,
	}
	if p.guard == nil {
		p.guard = inflight.NewLocal()
	}
	if p.bus == nil {
		p.bus = events.NewBus(opts.Logger)
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// Bus returns the bus the pipeline publishes on.
func (p *Pipeline) Bus() *events.Bus { return p.bus }

// List returns the queue in upload order, optionally filtered by status.
func (p *Pipeline) List(ctx context.Context, status model.DatasetStatus) ([]model.PendingDataset, error) {
	all, err := p.pending.List(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return all, nil
	}
	out := make([]model.PendingDataset, 0, len(all))
	for _, ds := range all {
		if ds.Status == status {
			out = append(out, ds)
		}
	}
	return out, nil
}

// Get returns one dataset.
func (p *Pipeline) Get(ctx context.Context, id string) (*model.PendingDataset, error) {
	return p.pending.Get(ctx, id)
}

// AppliedVotes returns the applied votes pool.
func (p *Pipeline) AppliedVotes(ctx context.Context) ([]model.AppliedVote, error) {
	return p.applied.List(ctx)
}

// Upload parses and normalizes an uploaded file and queues it as a pending
// dataset. Malformed uploads are rejected whole and nothing is stored.
func (p *Pipeline) Upload(ctx context.Context, name string, data []byte) (*model.PendingDataset, error) {
	raw, err := normalize.Parse(name, data)
	if err != nil {
		return nil, err
	}
	records, err := normalize.Normalize(raw)
	if err != nil {
		return nil, err
	}
	// UUIDv7 ids sort by creation time.
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate dataset id: %w", err)
	}
	ds := model.PendingDataset{
		ID:         id.String(),
		Name:       name,
		Type:       model.DatasetTypeResultados,
		Records:    len(records),
		UploadDate: p.now(),
		Status:     model.StatusPending,
		RawData:    records,
	}
	if err := p.pending.Append(ctx, ds); err != nil {
		return nil, fmt.Errorf("queue dataset: %w", err)
	}
	log := p.log.WithField("dataset_id", ds.ID)
	if p.archiver != nil {
		if err := p.archiver.ArchiveUpload(ctx, ds.ID, name, data); err != nil {
			log.WithError(err).Warn("archive upload")
		}
	}
	log.WithFields(logrus.Fields{"name": name, "records": ds.Records}).Info("dataset queued for verification")
	p.publish(events.DatasetUploaded, ds.ID)
	return &ds, nil
}

// Verify classifies a pending dataset's records and moves it to verified or
// error. Issues, warnings included, are kept on the dataset.
func (p *Pipeline) Verify(ctx context.Context, id string) (*model.PendingDataset, error) {
	release, err := p.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := p.require(ctx, id, model.ActionVerify); err != nil {
		return nil, err
	}
	if err := sleep(ctx, p.verifyDelay); err != nil {
		return nil, err
	}
	updated, err := p.pending.Update(ctx, id, func(ds *model.PendingDataset) error {
		if !model.Allows(ds.Status, model.ActionVerify) {
			return ErrActionUnavailable
		}
		ds.Issues = FindIssues(ds.ID, ds.RawData)
		ds.Status = Classify(ds.Issues)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log := p.log.WithFields(logrus.Fields{
		"dataset_id": id,
		"errors":     updated.CountIssues(model.LevelError),
		"warnings":   updated.CountIssues(model.LevelWarning),
	})
	if updated.Status == model.StatusError {
		log.Warn("verification finished with errors")
	} else {
		log.Info("verification complete, ready to apply")
	}
	p.publish(events.DatasetVerified, id)
	return updated, nil
}

// Apply merges a verified dataset into the applied votes pool and removes it
// from the queue. It returns how many votes were applied.
//
// The two writes are not atomic. If removal fails after the merge, the
// dataset stays queued; applying it again only retries the removal, since
// votes already carrying its id are not merged twice.
func (p *Pipeline) Apply(ctx context.Context, id string) (int, error) {
	release, err := p.claim(ctx, id)
	if err != nil {
		return 0, err
	}
	defer release()

	ds, err := p.require(ctx, id, model.ActionApply)
	if err != nil {
		return 0, err
	}
	if err := sleep(ctx, p.applyDelay); err != nil {
		return 0, err
	}
	log := p.log.WithField("dataset_id", id)
	votes, merged, err := p.mergedVotes(ctx, id)
	if err != nil {
		return 0, err
	}
	if merged {
		log.Warn("votes already merged by an earlier apply, finishing removal")
	} else {
		votes = ApplicableVotes(*ds, p.now())
		if err := p.applied.Append(ctx, votes); err != nil {
			return 0, fmt.Errorf("merge applied votes: %w", err)
		}
	}
	if err := p.pending.Remove(ctx, id); err != nil {
		log.WithError(err).Error("votes applied but dataset could not be removed from the queue")
		p.publish(events.CleanedDataApplied, id)
		return len(votes), fmt.Errorf("remove applied dataset: %w", err)
	}
	if p.archiver != nil {
		if err := p.archiver.ArchiveApplied(ctx, id, votes); err != nil {
			log.WithError(err).Warn("archive applied votes")
		}
	}
	log.WithField("applied", len(votes)).Info("dataset applied")
	p.publish(events.CleanedDataApplied, id)
	return len(votes), nil
}

// Delete discards a dataset that failed verification. The applied votes pool
// is never touched.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	release, err := p.claim(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if _, err := p.require(ctx, id, model.ActionDelete); err != nil {
		return err
	}
	if err := p.pending.Remove(ctx, id); err != nil {
		return err
	}
	p.log.WithField("dataset_id", id).Info("dataset deleted")
	p.publish(events.DatasetDeleted, id)
	return nil
}

// ApplicableVotes converts a verified dataset into applied votes. Records
// the verifier flagged with an ERROR are skipped; a verified dataset has none,
// so in practice every record is applied.
func ApplicableVotes(ds model.PendingDataset, at time.Time) []model.AppliedVote {
	rejected := make(map[int]bool)
	for _, issue := range ds.Issues {
		if issue.Level == model.LevelError {
			rejected[issue.Record] = true
		}
	}
	votes := make([]model.AppliedVote, 0, len(ds.RawData))
	for i, rec := range ds.RawData {
		if rejected[i] {
			continue
		}
		votes = append(votes, model.AppliedVote{VoteRecord: rec, SourceDatasetID: ds.ID, AppliedAt: at})
	}
	return votes
}

// mergedVotes returns the applied votes that came from dataset id, if any.
func (p *Pipeline) mergedVotes(ctx context.Context, id string) ([]model.AppliedVote, bool, error) {
	all, err := p.applied.List(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("read applied votes: %w", err)
	}
	var out []model.AppliedVote
	for _, v := range all {
		if v.SourceDatasetID == id {
			out = append(out, v)
		}
	}
	return out, len(out) > 0, nil
}

func (p *Pipeline) claim(ctx context.Context, id string) (func(), error) {
	release, ok, err := p.guard.TryAcquire(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		p.log.WithField("dataset_id", id).Debug("dataset busy, ignoring request")
		return nil, ErrBusy
	}
	return release, nil
}

func (p *Pipeline) require(ctx context.Context, id string, action model.Action) (*model.PendingDataset, error) {
	ds, err := p.pending.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.Allows(ds.Status, action) {
		return nil, fmt.Errorf("%w: %s on %s dataset", ErrActionUnavailable, action, ds.Status)
	}
	return ds, nil
}

// publish fires the specific event followed by the generic storage-changed
// signal.
func (p *Pipeline) publish(name events.Name, id string) {
	p.bus.Publish(name, id)
	p.bus.Publish(events.StorageChanged, id)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
