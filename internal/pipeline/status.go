package pipeline

import (
	"context"
	"errors"
	"time"

	"photoenhance/internal/cache"
	"photoenhance/internal/domain"
	"photoenhance/internal/infra"
)

// StatusConfig carries the polling hints handed to clients.
type StatusConfig struct {
	PollInterval       time.Duration
	PollTimeout        time.Duration
	ExpectedProcessing time.Duration
	DispatchSlack      time.Duration
}

// Status is the polling view of a job.
type Status struct {
	PhotoID            string
	Status             domain.PhotoStatus
	ResultRef          string
	IsComplete         bool
	IsTerminal         bool
	Elapsed            time.Duration
	EstimatedRemaining time.Duration
	PollAfter          time.Duration
	ShouldStopPolling  bool
	CanRetry           bool
	ErrorCode          string
	ErrorMessage       string
	Attempts           int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StatusService answers read-only status queries for job owners.
type StatusService struct {
	photos domain.PhotoRepository
	cache  cache.StatusCache
	cfg    StatusConfig
	logger infra.Logger
	now    func() time.Time
}

func NewStatusService(photos domain.PhotoRepository, statusCache cache.StatusCache, cfg StatusConfig, logger infra.Logger) *StatusService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Minute
	}
	if cfg.ExpectedProcessing <= 0 {
		cfg.ExpectedProcessing = 20 * time.Second
	}
	if cfg.DispatchSlack < 0 {
		cfg.DispatchSlack = 0
	}
	if statusCache == nil {
		statusCache = cache.Noop{}
	}
	return &StatusService{
		photos: photos,
		cache:  statusCache,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the status of photoID to its owner. Only end users may poll;
// any other caller is UNAUTHORIZED and non-owners get NOT_FOUND. Nothing is
// mutated.
func (s *StatusService) Get(ctx context.Context, photoID string, caller domain.Caller) (*Status, error) {
	if caller.Kind != domain.CallerEndUser || caller.UserID == "" {
		return nil, domain.NewError(domain.CodeUnauthorized, "end-user authentication required", nil)
	}
	if photoID == "" {
		return nil, domain.NewError(domain.CodeBadRequest, "jobId is required", nil)
	}
	photo, err := s.load(ctx, photoID)
	if err != nil {
		return nil, err
	}
	if !photo.OwnedBy(caller.UserID) {
		return nil, domain.NewError(domain.CodeNotFound, "photo not found", nil)
	}
	return s.describe(photo), nil
}

func (s *StatusService) load(ctx context.Context, photoID string) (*domain.Photo, error) {
	if p, ok, err := s.cache.Get(ctx, photoID); err != nil {
		s.logger.Debug().Err(err).Str("photo_id", photoID).Msg("status cache read failed")
	} else if ok {
		return p, nil
	}
	p, err := s.photos.GetByID(ctx, photoID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, "photo not found", nil)
		}
		return nil, domain.NewError(domain.CodeStorageError, "load photo", err)
	}
	if err := s.cache.Set(ctx, p); err != nil {
		s.logger.Debug().Err(err).Str("photo_id", photoID).Msg("status cache write failed")
	}
	return p, nil
}

func (s *StatusService) describe(p *domain.Photo) *Status {
	now := s.now()
	elapsed := nonNegative(now.Sub(p.CreatedAt))
	st := &Status{
		PhotoID:      p.ID,
		Status:       p.Status,
		ResultRef:    p.ResultRef,
		IsComplete:   p.Status == domain.StatusCompleted,
		IsTerminal:   p.Status.IsTerminal(),
		Elapsed:      elapsed,
		PollAfter:    s.cfg.PollInterval,
		ErrorCode:    p.ErrorCode,
		ErrorMessage: p.ErrorMessage,
		Attempts:     p.Attempts,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	switch p.Status {
	case domain.StatusProcessing:
		since := p.UpdatedAt
		if p.StartedAt != nil {
			since = *p.StartedAt
		}
		st.EstimatedRemaining = nonNegative(s.cfg.ExpectedProcessing - now.Sub(since))
	case domain.StatusPending:
		st.EstimatedRemaining = s.cfg.ExpectedProcessing + s.cfg.DispatchSlack
	}
	overdue := elapsed > s.cfg.PollTimeout
	st.ShouldStopPolling = st.IsTerminal || overdue
	st.CanRetry = p.Status == domain.StatusFailed || (p.Status == domain.StatusPending && overdue)
	if st.ShouldStopPolling {
		st.PollAfter = 0
	}
	return st
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
