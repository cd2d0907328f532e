package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"photoenhance/internal/domain"
	"photoenhance/internal/infra"
	"photoenhance/internal/sqlinline"
)

// AttemptRepositoryPG implements domain.AttemptRepository.
type AttemptRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewAttemptRepository(sql infra.SQLExecutor) *AttemptRepositoryPG {
	return &AttemptRepositoryPG{sql: sql}
}

func (r *AttemptRepositoryPG) Record(ctx context.Context, a *domain.Attempt) error {
	if a == nil {
		return nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertPhotoAttempt,
		a.ID,
		a.PhotoID,
		a.Attempt,
		a.Caller,
		string(a.Outcome),
		a.ErrorCode,
		a.Latency.Milliseconds(),
		a.UpstreamLatency.Milliseconds(),
		a.Confidence,
		a.Model,
		a.CreatedAt,
	)
	return err
}

func (r *AttemptRepositoryPG) ListByPhoto(ctx context.Context, photoID string, limit int) ([]domain.Attempt, error) {
	if !validID(photoID) {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListPhotoAttempts, photoID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Attempt
	for rows.Next() {
		var (
			a                 domain.Attempt
			outcome           string
			latencyMS, upstMS int64
		)
		if err := rows.Scan(&a.ID, &a.PhotoID, &a.Attempt, &a.Caller, &outcome, &a.ErrorCode, &latencyMS, &upstMS, &a.Confidence, &a.Model, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Outcome = domain.PhotoStatus(outcome)
		a.Latency = time.Duration(latencyMS) * time.Millisecond
		a.UpstreamLatency = time.Duration(upstMS) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ domain.AttemptRepository = (*AttemptRepositoryPG)(nil)
