package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"photoenhance/internal/domain"
	"photoenhance/internal/infra"
	"photoenhance/internal/sqlinline"
)

// PhotoRepositoryPG implements domain.PhotoRepository and
// domain.AdmissionStore on PostgreSQL.
type PhotoRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewPhotoRepository creates a photo repository backed by PostgreSQL.
func NewPhotoRepository(sql infra.SQLExecutor) *PhotoRepositoryPG {
	return &PhotoRepositoryPG{sql: sql}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row rowScanner) (*domain.Photo, error) {
	var (
		p         domain.Photo
		resultRef *string
		status    string
	)
	if err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.SourceRef,
		&p.SourceName,
		&p.SourceMIME,
		&p.SourceChecksum,
		&p.SourceBytes,
		&resultRef,
		&p.ResultChecksum,
		&status,
		&p.Attempts,
		&p.ErrorCode,
		&p.ErrorMessage,
		&p.Title,
		&p.Description,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.StartedAt,
		&p.CompletedAt,
	); err != nil {
		return nil, err
	}
	if resultRef != nil {
		p.ResultRef = *resultRef
	}
	p.Status = domain.PhotoStatus(status)
	return &p, nil
}

// photo ids are uuids; anything else cannot exist.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// GetByID fetches a photo by its identifier.
func (r *PhotoRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Photo, error) {
	if !validID(id) {
		return nil, domain.ErrNotFound
	}
	p, err := scanPhoto(r.sql.QueryRow(ctx, sqlinline.QSelectPhotoByID, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// Admit inserts the photo and debits its owner in a single statement.
func (r *PhotoRepositoryPG) Admit(ctx context.Context, photo *domain.Photo, cost int) (*domain.CreditBalance, error) {
	if photo == nil {
		return nil, fmt.Errorf("admit: photo is required")
	}
	row := r.sql.QueryRow(ctx, sqlinline.QAdmitPhoto,
		photo.ID,
		photo.OwnerID,
		photo.SourceRef,
		photo.SourceName,
		photo.SourceMIME,
		photo.SourceChecksum,
		photo.SourceBytes,
		photo.Title,
		photo.Description,
		photo.CreatedAt,
		photo.UpdatedAt,
		cost,
	)
	var (
		balance    domain.CreditBalance
		insertedID *string
	)
	if err := row.Scan(&balance.Credits, &balance.Unlimited, &insertedID); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrInsufficientCredits
		}
		return nil, err
	}
	if insertedID == nil {
		return nil, fmt.Errorf("admit %s: %w", photo.ID, domain.ErrConflict)
	}
	balance.UserID = photo.OwnerID
	balance.UpdatedAt = photo.UpdatedAt
	photo.Status = domain.StatusPending
	return &balance, nil
}

// Claim moves a claimable photo to PROCESSING.
func (r *PhotoRepositoryPG) Claim(ctx context.Context, id string, at time.Time) (*domain.Photo, error) {
	if !validID(id) {
		return nil, domain.ErrNotFound
	}
	p, err := scanPhoto(r.sql.QueryRow(ctx, sqlinline.QClaimPhoto, id, at))
	if err == nil {
		return p, nil
	}
	if !infra.IsNoRows(err) {
		return nil, err
	}
	return nil, r.conflictOrMissing(ctx, id, "claim")
}

// Complete records the result of a PROCESSING photo.
func (r *PhotoRepositoryPG) Complete(ctx context.Context, id, resultRef, resultChecksum string, at time.Time) error {
	if !validID(id) {
		return domain.ErrNotFound
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QCompletePhoto, id, resultRef, resultChecksum, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, id, "complete")
	}
	return nil
}

// Fail marks a PROCESSING photo FAILED.
func (r *PhotoRepositoryPG) Fail(ctx context.Context, id string, code domain.ErrorCode, message string, at time.Time) error {
	if !validID(id) {
		return domain.ErrNotFound
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QFailPhoto, id, string(code), message, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, id, "fail")
	}
	return nil
}

// Reset returns a photo to PENDING when it is still in status from.
func (r *PhotoRepositoryPG) Reset(ctx context.Context, id string, from domain.PhotoStatus, notAfter, at time.Time) error {
	if !validID(id) {
		return domain.ErrNotFound
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QResetPhoto, id, string(from), notAfter, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, id, "reset")
	}
	return nil
}

func (r *PhotoRepositoryPG) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Photo, error) {
	return r.list(ctx, sqlinline.QListStalePendingPhotos, createdBefore, limit)
}

func (r *PhotoRepositoryPG) ListStalledProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.Photo, error) {
	return r.list(ctx, sqlinline.QListStalledProcessingPhotos, updatedBefore, limit)
}

func (r *PhotoRepositoryPG) ListCompleted(ctx context.Context, updatedAfter time.Time, limit int) ([]domain.Photo, error) {
	return r.list(ctx, sqlinline.QListCompletedPhotos, updatedAfter, limit)
}

// UpdateDetails changes owner-editable metadata.
func (r *PhotoRepositoryPG) UpdateDetails(ctx context.Context, id, ownerID, title, description string, at time.Time) (*domain.Photo, error) {
	if !validID(id) {
		return nil, domain.ErrNotFound
	}
	p, err := scanPhoto(r.sql.QueryRow(ctx, sqlinline.QUpdatePhotoDetails, id, ownerID, title, description, at))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *PhotoRepositoryPG) list(ctx context.Context, query string, cutoff time.Time, limit int) ([]domain.Photo, error) {
	rows, err := r.sql.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var photos []domain.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, *p)
	}
	return photos, rows.Err()
}

func (r *PhotoRepositoryPG) conflictOrMissing(ctx context.Context, id, op string) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s from %s: %w", op, id, current.Status, domain.ErrConflict)
}

var (
	_ domain.PhotoRepository = (*PhotoRepositoryPG)(nil)
	_ domain.AdmissionStore  = (*PhotoRepositoryPG)(nil)
)
