package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/VoteDrop/internal/logging"
	"github.com/dharsanguruparan/VoteDrop/internal/model"
	"github.com/dharsanguruparan/VoteDrop/internal/storage"
)

const uniqueViolation = "23505"

const selectDataset = `
	SELECT id, name, type, records, upload_date, status, raw_data, issues, version
	FROM pending_datasets`

// DatasetRepository wraps all SQL touching the pending dataset queue.
type DatasetRepository struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

// NewDatasetRepository constructs a repository.
func NewDatasetRepository(pool *pgxpool.Pool, logger logrus.FieldLogger) *DatasetRepository {
	return &DatasetRepository{pool: pool, log: logging.Component(logger, "dataset-repository")}
}

var _ storage.PendingStore = (*DatasetRepository)(nil)

// List returns datasets in upload order.
func (r *DatasetRepository) List(ctx context.Context) ([]model.PendingDataset, error) {
	rows, err := r.pool.Query(ctx, selectDataset+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("select datasets: %w", err)
	}
	defer rows.Close()
	out := []model.PendingDataset{}
	for rows.Next() {
		ds, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datasets: %w", err)
	}
	return out, nil
}

// Get returns a dataset by id.
func (r *DatasetRepository) Get(ctx context.Context, id string) (*model.PendingDataset, error) {
	return r.get(ctx, r.pool, id, "")
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *DatasetRepository) get(ctx context.Context, q queryer, id, suffix string) (*model.PendingDataset, error) {
	ds, err := r.scan(q.QueryRow(ctx, selectDataset+` WHERE id=$1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return ds, err
}

// Append inserts a dataset at the end of the queue.
func (r *DatasetRepository) Append(ctx context.Context, ds model.PendingDataset) error {
	return r.insert(ctx, r.pool, ds)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *DatasetRepository) insert(ctx context.Context, e execer, ds model.PendingDataset) error {
	rawData, issues, err := encodeDataset(ds)
	if err != nil {
		return err
	}
	_, err = e.Exec(ctx, `
		INSERT INTO pending_datasets (id, name, type, records, upload_date, status, raw_data, issues, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, ds.ID, ds.Name, ds.Type, ds.Records, ds.UploadDate.UTC(), ds.Status, rawData, issues, ds.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

// Update locks the row, applies fn and writes the result with a bumped
// version, all inside one transaction.
func (r *DatasetRepository) Update(ctx context.Context, id string, fn storage.UpdateFunc) (*model.PendingDataset, error) {
	var updated *model.PendingDataset
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		ds, err := r.get(ctx, tx, id, ` FOR UPDATE`)
		if err != nil {
			return err
		}
		prev := ds.Version
		if err := fn(ds); err != nil {
			return err
		}
		ds.ID = id
		ds.Version = prev + 1
		rawData, issues, err := encodeDataset(*ds)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE pending_datasets
			SET name=$1, type=$2, records=$3, upload_date=$4, status=$5, raw_data=$6, issues=$7, version=$8
			WHERE id=$9 AND version=$10
		`, ds.Name, ds.Type, ds.Records, ds.UploadDate.UTC(), ds.Status, rawData, issues, ds.Version, id, prev)
		if err != nil {
			return fmt.Errorf("update dataset: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrConflict
		}
		updated = ds
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Remove deletes a dataset.
func (r *DatasetRepository) Remove(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM pending_datasets WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SaveAll replaces the queue with datasets, preserving their order.
func (r *DatasetRepository) SaveAll(ctx context.Context, datasets []model.PendingDataset) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM pending_datasets`); err != nil {
			return fmt.Errorf("clear datasets: %w", err)
		}
		for _, ds := range datasets {
			if err := r.insert(ctx, tx, ds); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *DatasetRepository) scan(row pgx.Row) (*model.PendingDataset, error) {
	var (
		ds      model.PendingDataset
		rawData []byte
		issues  []byte
	)
	if err := row.Scan(&ds.ID, &ds.Name, &ds.Type, &ds.Records, &ds.UploadDate, &ds.Status, &rawData, &issues, &ds.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan dataset: %w", err)
	}
	// A corrupt payload degrades to an empty one instead of failing the read.
	if err := json.Unmarshal(rawData, &ds.RawData); err != nil {
		r.log.WithError(err).WithField("dataset_id", ds.ID).Warn("corrupt raw_data")
		ds.RawData = nil
	}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &ds.Issues); err != nil {
			r.log.WithError(err).WithField("dataset_id", ds.ID).Warn("corrupt issues")
			ds.Issues = nil
		}
	}
	return &ds, nil
}

func encodeDataset(ds model.PendingDataset) (rawData, issues []byte, err error) {
	records := ds.RawData
	if records == nil {
		records = []model.VoteRecord{}
	}
	rawData, err = json.Marshal(records)
	if err != nil {
		return nil, nil, fmt.Errorf("encode raw data: %w", err)
	}
	if ds.Issues != nil {
		issues, err = json.Marshal(ds.Issues)
		if err != nil {
			return nil, nil, fmt.Errorf("encode issues: %w", err)
		}
	}
	return rawData, issues, nil
}
