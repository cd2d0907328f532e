package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"photoenhance/internal/cache"
	"photoenhance/internal/domain"
	"photoenhance/internal/infra"
)

// Sweep names.
const (
	SweepStalePending      = "stale_pending"
	SweepInconsistent      = "inconsistent_completed"
	SweepStalledProcessing = "stalled_processing"
)

// Item actions.
const (
	ActionReenhance = "reenhance"
	ActionReset     = "reset_and_reenhance"
	ActionSkipped   = "skipped"
	ActionNone      = "none"
)

// ScannerConfig tunes the recovery sweeps.
type ScannerConfig struct {
	StaleAfter   time.Duration
	StalledAfter time.Duration
	Lookback     time.Duration
	BatchSize    int
	Concurrency  int
	Check        domain.InconsistencyCheck
	Service      string
}

// SweepItem is the result for one matched photo.
type SweepItem struct {
	PhotoID   string             `json:"photoId"`
	Status    domain.PhotoStatus `json:"status"`
	Reason    string             `json:"reason,omitempty"`
	Action    string             `json:"action"`
	Succeeded bool               `json:"succeeded"`
	ErrorCode domain.ErrorCode   `json:"errorCode,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// SweepReport aggregates one sweep.
type SweepReport struct {
	Sweep     string      `json:"sweep"`
	DryRun    bool        `json:"dryRun"`
	Scanned   int         `json:"scanned"`
	Matched   int         `json:"matched"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Items     []SweepItem `json:"items"`
	StartedAt time.Time   `json:"startedAt"`
	Duration  string      `json:"duration"`
}

// Scanner finds jobs the normal flow left behind and sends them through the
// orchestrator again. Every mutation is conditional, so overlapping sweeps
// and concurrent triggers are harmless.
type Scanner struct {
	photos domain.PhotoRepository
	orch   Enhancer
	cache  cache.StatusCache
	cfg    ScannerConfig
	logger infra.Logger
	now    func() time.Time
}

func NewScanner(photos domain.PhotoRepository, orch Enhancer, statusCache cache.StatusCache, cfg ScannerConfig, logger infra.Logger) *Scanner {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.StalledAfter <= 0 {
		cfg.StalledAfter = 2 * DefaultBudget
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 7 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > 50 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Check == nil {
		cfg.Check = domain.DefaultInconsistencyCheck
	}
	if cfg.Service == "" {
		cfg.Service = "scanner"
	}
	if statusCache == nil {
		statusCache = cache.Noop{}
	}
	return &Scanner{
		photos: photos,
		orch:   orch,
		cache:  statusCache,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Scanner) caller() domain.Caller {
	return domain.InternalService(s.cfg.Service, "")
}

// SweepStalePending re-enhances PENDING jobs older than StaleAfter.
func (s *Scanner) SweepStalePending(ctx context.Context, dryRun bool) (*SweepReport, error) {
	report := s.newReport(SweepStalePending, dryRun)
	candidates, err := s.photos.ListStalePending(ctx, report.StartedAt.Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		return nil, domain.NewError(domain.CodeStorageError, "list stale pending photos", err)
	}
	report.Scanned = len(candidates)
	var matched []match
	for _, p := range candidates {
		matched = append(matched, match{photo: p, reason: "pending_since " + p.CreatedAt.Format(time.RFC3339)})
	}
	return s.process(ctx, report, matched, func(ctx context.Context, m match) SweepItem {
		return s.reenhance(ctx, m, ActionReenhance)
	}), nil
}

// SweepInconsistent resets COMPLETED jobs whose result fails the configured
// check and re-enhances them.
func (s *Scanner) SweepInconsistent(ctx context.Context, dryRun bool) (*SweepReport, error) {
	report := s.newReport(SweepInconsistent, dryRun)
	candidates, err := s.photos.ListCompleted(ctx, report.StartedAt.Add(-s.cfg.Lookback), s.cfg.BatchSize)
	if err != nil {
		return nil, domain.NewError(domain.CodeStorageError, "list completed photos", err)
	}
	report.Scanned = len(candidates)
	var matched []match
	for _, p := range candidates {
		if reason := s.cfg.Check(p); reason != "" {
			matched = append(matched, match{photo: p, reason: reason})
		}
	}
	return s.process(ctx, report, matched, func(ctx context.Context, m match) SweepItem {
		// rows touched after listing are left alone
		return s.resetAndReenhance(ctx, m, domain.StatusCompleted, m.photo.UpdatedAt.Add(time.Microsecond))
	}), nil
}

// SweepStalledProcessing recovers PROCESSING jobs whose invocation died
// without a terminal write.
func (s *Scanner) SweepStalledProcessing(ctx context.Context, dryRun bool) (*SweepReport, error) {
	report := s.newReport(SweepStalledProcessing, dryRun)
	cutoff := report.StartedAt.Add(-s.cfg.StalledAfter)
	candidates, err := s.photos.ListStalledProcessing(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return nil, domain.NewError(domain.CodeStorageError, "list stalled photos", err)
	}
	report.Scanned = len(candidates)
	var matched []match
	for _, p := range candidates {
		matched = append(matched, match{photo: p, reason: "processing_since " + p.UpdatedAt.Format(time.RFC3339)})
	}
	return s.process(ctx, report, matched, func(ctx context.Context, m match) SweepItem {
		return s.resetAndReenhance(ctx, m, domain.StatusProcessing, cutoff)
	}), nil
}

// Run executes all sweeps every interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes each sweep once and logs the reports.
func (s *Scanner) RunOnce(ctx context.Context) []*SweepReport {
	sweeps := []func(context.Context, bool) (*SweepReport, error){
		s.SweepStalledProcessing,
		s.SweepStalePending,
		s.SweepInconsistent,
	}
	var reports []*SweepReport
	for _, sweep := range sweeps {
		if ctx.Err() != nil {
			break
		}
		report, err := sweep(ctx, false)
		if err != nil {
			s.logger.Error().Err(err).Msg("scanner: sweep failed")
			continue
		}
		reports = append(reports, report)
		if report.Matched > 0 {
			s.logger.Info().
				Str("sweep", report.Sweep).
				Int("matched", report.Matched).
				Int("succeeded", report.Succeeded).
				Int("failed", report.Failed).
				Int("skipped", report.Skipped).
				Msg("scanner: sweep finished")
		}
	}
	return reports
}

type match struct {
	photo  domain.Photo
	reason string
}

func (s *Scanner) newReport(name string, dryRun bool) *SweepReport {
	return &SweepReport{Sweep: name, DryRun: dryRun, StartedAt: s.now(), Items: []SweepItem{}}
}

// process runs fn for every match with bounded concurrency. One item's
// failure never affects the others.
func (s *Scanner) process(ctx context.Context, report *SweepReport, matched []match, fn func(context.Context, match) SweepItem) *SweepReport {
	report.Matched = len(matched)
	items := make([]SweepItem, len(matched))
	if report.DryRun {
		for i, m := range matched {
			items[i] = SweepItem{PhotoID: m.photo.ID, Status: m.photo.Status, Reason: m.reason, Action: ActionNone}
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(s.cfg.Concurrency)
		for i, m := range matched {
			i, m := i, m
			g.Go(func() error {
				items[i] = fn(ctx, m)
				return nil
			})
		}
		_ = g.Wait()
	}
	for _, it := range items {
		switch {
		case report.DryRun:
		case it.Action == ActionSkipped:
			report.Skipped++
		case it.Succeeded:
			report.Succeeded++
		default:
			report.Failed++
		}
	}
	report.Items = items
	report.Duration = time.Since(report.StartedAt).Round(time.Millisecond).String()
	return report
}

func (s *Scanner) reenhance(ctx context.Context, m match, action string) SweepItem {
	item := SweepItem{PhotoID: m.photo.ID, Status: m.photo.Status, Reason: m.reason, Action: action}
	out, err := s.orch.Enhance(ctx, s.caller(), m.photo.ID)
	if out != nil {
		item.Status = out.Status
	}
	if err != nil {
		item.ErrorCode = domain.CodeOf(err)
		item.Error = err.Error()
		if item.ErrorCode == domain.CodeAlreadyProcessing || item.ErrorCode == domain.CodeAlreadyTerminal {
			// another invocation got there first
			item.Action = ActionSkipped
		}
		return item
	}
	item.Succeeded = true
	return item
}

func (s *Scanner) resetAndReenhance(ctx context.Context, m match, from domain.PhotoStatus, notAfter time.Time) SweepItem {
	err := s.photos.Reset(ctx, m.photo.ID, from, notAfter, s.now())
	if invErr := s.cache.Invalidate(ctx, m.photo.ID); invErr != nil {
		s.logger.Debug().Err(invErr).Str("photo_id", m.photo.ID).Msg("status cache invalidate failed")
	}
	if err != nil {
		item := SweepItem{PhotoID: m.photo.ID, Status: m.photo.Status, Reason: m.reason, Action: ActionSkipped}
		if !errors.Is(err, domain.ErrConflict) && !errors.Is(err, domain.ErrNotFound) {
			item.Action = ActionReset
			item.ErrorCode = domain.CodeStorageError
		}
		item.Error = err.Error()
		return item
	}
	s.logger.Info().Str("photo_id", m.photo.ID).Str("from", string(from)).Str("reason", m.reason).Msg("scanner: reset photo")
	return s.reenhance(ctx, m, ActionReset)
}
