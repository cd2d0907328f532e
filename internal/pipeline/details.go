package pipeline

import (
	"context"
	"errors"
	"time"

	"photoenhance/internal/cache"
	"photoenhance/internal/domain"
)

// DetailsChange carries an owner edit. Nil fields keep their stored value.
type DetailsChange struct {
	Title       *string
	Description *string
}

// Details edits owner-managed photo metadata.
type Details struct {
	photos domain.PhotoRepository
	cache  cache.StatusCache
	now    func() time.Time
}

func NewDetails(photos domain.PhotoRepository, statusCache cache.StatusCache) *Details {
	if statusCache == nil {
		statusCache = cache.Noop{}
	}
	return &Details{photos: photos, cache: statusCache, now: func() time.Time { return time.Now().UTC() }}
}

// Update applies change for the photo's owner. Anyone else gets NOT_FOUND.
func (d *Details) Update(ctx context.Context, caller domain.Caller, photoID string, change DetailsChange) (*domain.Photo, error) {
	if caller.Kind != domain.CallerEndUser {
		return nil, domain.NewError(domain.CodeUnauthorized, "authentication required", nil)
	}
	if change.Title == nil && change.Description == nil {
		return nil, domain.NewError(domain.CodeBadRequest, "nothing to update", nil)
	}
	current, err := d.photos.GetByID(ctx, photoID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, "photo not found", nil)
		}
		return nil, domain.NewError(domain.CodeStorageError, "load photo", err)
	}
	if !current.OwnedBy(caller.UserID) {
		return nil, domain.NewError(domain.CodeNotFound, "photo not found", nil)
	}

	title, description := current.Title, current.Description
	if change.Title != nil {
		title = clip(*change.Title, maxTitleLength)
	}
	if change.Description != nil {
		description = clip(*change.Description, maxDescriptionLength)
	}
	updated, err := d.photos.UpdateDetails(ctx, photoID, caller.UserID, title, description, d.now())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, "photo not found", nil)
		}
		return nil, domain.NewError(domain.CodeStorageError, "update photo", err)
	}
	_ = d.cache.Invalidate(ctx, photoID)
	return updated, nil
}
