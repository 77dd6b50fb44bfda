package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/VoteDrop/internal/model"
	"github.com/dharsanguruparan/VoteDrop/internal/storage"
)

var appliedColumns = []string{"dni", "categoria", "partido", "region", "mesa", "candidato", "source_dataset_id", "applied_at"}

// VoteRepository stores applied votes in an append-only table.
type VoteRepository struct {
	pool *pgxpool.Pool
}

// NewVoteRepository constructs a repository.
func NewVoteRepository(pool *pgxpool.Pool) *VoteRepository {
	return &VoteRepository{pool: pool}
}

var _ storage.AppliedStore = (*VoteRepository)(nil)

// List returns applied votes in the order they were appended.
func (r *VoteRepository) List(ctx context.Context) ([]model.AppliedVote, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT dni, categoria, partido, region, mesa, candidato, COALESCE(source_dataset_id,''), applied_at
		FROM applied_votes ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("select applied votes: %w", err)
	}
	defer rows.Close()
	out := []model.AppliedVote{}
	for rows.Next() {
		var v model.AppliedVote
		if err := rows.Scan(&v.DNI, &v.Categoria, &v.Partido, &v.Region, &v.Mesa, &v.Candidato, &v.SourceDatasetID, &v.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan applied vote: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied votes: %w", err)
	}
	return out, nil
}

// Append bulk-loads votes with COPY.
func (r *VoteRepository) Append(ctx context.Context, votes []model.AppliedVote) error {
	if len(votes) == 0 {
		return nil
	}
	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"applied_votes"}, appliedColumns,
		pgx.CopyFromSlice(len(votes), func(i int) ([]any, error) {
			v := votes[i]
			var source any
			if v.SourceDatasetID != "" {
				source = v.SourceDatasetID
			}
			return []any{v.DNI, string(v.Categoria), v.Partido, v.Region, v.Mesa, v.Candidato, source, v.AppliedAt.UTC()}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy applied votes: %w", err)
	}
	return nil
}

// Count returns the number of applied votes.
func (r *VoteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM applied_votes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count applied votes: %w", err)
	}
	return n, nil
}
