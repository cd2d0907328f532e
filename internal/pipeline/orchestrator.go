// Package pipeline runs the enhancement job lifecycle: admission, the single
// enhancement attempt, trigger dispatch, stuck-job recovery and status reads.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"photoenhance/internal/cache"
	"photoenhance/internal/domain"
	"photoenhance/internal/imaging"
	"photoenhance/internal/infra"
	"photoenhance/internal/providers/enhance"
)

// DefaultBudget bounds everything an enhancement does after its claim.
const DefaultBudget = 50 * time.Second

// terminal writes get their own short deadline so an exhausted budget cannot
// prevent them.
const terminalWriteTimeout = 5 * time.Second

// maxErrorMessage is counted in runes.
const maxErrorMessage = 500

// Enhancer runs one enhancement for a photo on behalf of a caller.
type Enhancer interface {
	Enhance(ctx context.Context, caller domain.Caller, photoID string) (*Outcome, error)
}

// Metrics describes a single enhancement attempt.
type Metrics struct {
	Attempt         int
	Latency         time.Duration
	UpstreamLatency time.Duration
	Confidence      float64
	Model           string
}

func (m Metrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Attempt           int     `json:"attempt"`
		LatencyMS         int64   `json:"latencyMs"`
		UpstreamLatencyMS int64   `json:"upstreamLatencyMs"`
		Confidence        float64 `json:"confidence"`
		Model             string  `json:"model,omitempty"`
	}{m.Attempt, m.Latency.Milliseconds(), m.UpstreamLatency.Milliseconds(), m.Confidence, m.Model})
}

// Outcome is the state an enhancement left the photo in.
type Outcome struct {
	PhotoID   string             `json:"jobId"`
	Status    domain.PhotoStatus `json:"status"`
	ResultRef string             `json:"resultRef,omitempty"`
	Noop      bool               `json:"noop"`
	ErrorCode domain.ErrorCode   `json:"errorCode,omitempty"`
	Metrics   *Metrics           `json:"metrics,omitempty"`
}

// OrchestratorConfig tunes the orchestrator.
type OrchestratorConfig struct {
	Budget      time.Duration
	Instruction string
}

// Orchestrator claims a photo, calls the enhancement service once and always
// leaves the record COMPLETED or FAILED.
type Orchestrator struct {
	photos   domain.PhotoRepository
	attempts domain.AttemptRepository
	objects  domain.ObjectStore
	enhancer enhance.Enhancer
	cache    cache.StatusCache
	cfg      OrchestratorConfig
	logger   infra.Logger
	now      func() time.Time
}

func NewOrchestrator(
	photos domain.PhotoRepository,
	attempts domain.AttemptRepository,
	objects domain.ObjectStore,
	enhancer enhance.Enhancer,
	statusCache cache.StatusCache,
	cfg OrchestratorConfig,
	logger infra.Logger,
) *Orchestrator {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if statusCache == nil {
		statusCache = cache.Noop{}
	}
	return &Orchestrator{
		photos:   photos,
		attempts: attempts,
		objects:  objects,
		enhancer: enhancer,
		cache:    statusCache,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enhance runs the enhancement for photoID. A COMPLETED, consistent photo is
// returned as a no-op. Once the claim succeeds the work is detached from ctx
// cancellation and bounded by the budget.
func (o *Orchestrator) Enhance(ctx context.Context, caller domain.Caller, photoID string) (*Outcome, error) {
	if !caller.Authenticated() {
		return nil, domain.NewError(domain.CodeUnauthorized, "authentication required", nil)
	}
	if photoID == "" {
		return nil, domain.NewError(domain.CodeBadRequest, "jobId is required", nil)
	}

	photo, err := o.photos.GetByID(ctx, photoID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, "photo not found", nil)
		}
		return nil, domain.NewError(domain.CodeStorageError, "load photo", err)
	}
	if !caller.CanAccess(*photo) {
		return nil, domain.NewError(domain.CodeNotFound, "photo not found", nil)
	}
	if out, err := precheck(photo); out != nil || err != nil {
		return out, err
	}

	claimed, err := o.photos.Claim(ctx, photoID, o.now())
	if err != nil {
		return nil, o.claimError(ctx, photoID, err)
	}
	o.invalidate(ctx, photoID)

	log := o.logger.With().Str("photo_id", photoID).Int("attempt", claimed.Attempts).Str("caller", caller.String()).Logger()
	log.Info().Msg("enhance: claimed")

	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.Budget)
	defer cancel()
	return o.finish(workCtx, caller, claimed, log)
}

func precheck(photo *domain.Photo) (*Outcome, error) {
	switch photo.Status {
	case domain.StatusCompleted:
		if photo.Consistent() {
			return &Outcome{PhotoID: photo.ID, Status: photo.Status, ResultRef: photo.ResultRef, Noop: true}, nil
		}
		return nil, domain.NewError(domain.CodeAlreadyTerminal, "photo is completed but its result is invalid; awaiting recovery", nil)
	case domain.StatusProcessing:
		return nil, domain.NewError(domain.CodeAlreadyProcessing, "photo is already processing", nil)
	}
	return nil, nil
}

func (o *Orchestrator) claimError(ctx context.Context, photoID string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.NewError(domain.CodeNotFound, "photo not found", nil)
	case errors.Is(err, domain.ErrConflict):
		current, getErr := o.photos.GetByID(ctx, photoID)
		if getErr == nil && current.Status == domain.StatusCompleted {
			return domain.NewError(domain.CodeAlreadyTerminal, "photo completed concurrently", err)
		}
		return domain.NewError(domain.CodeAlreadyProcessing, "photo was claimed concurrently", err)
	default:
		return domain.NewError(domain.CodeStorageError, "claim photo", err)
	}
}

// finish runs the claimed attempt and writes its terminal state. The deferred
// recover turns a panic into a FAILED record instead of a stuck PROCESSING one.
func (o *Orchestrator) finish(ctx context.Context, caller domain.Caller, photo *domain.Photo, log infra.Logger) (out *Outcome, err error) {
	start := time.Now()
	metrics := &Metrics{Attempt: photo.Attempts, Model: o.enhancer.Model()}
	written := false

	defer func() {
		if r := recover(); r != nil {
			failure := domain.Errorf(domain.CodeInternal, "enhancement panicked: %v", r)
			log.Error().Interface("panic", r).Msg("enhance: recovered panic")
			if !written {
				o.writeFailure(ctx, photo, failure, log)
			}
			metrics.Latency = time.Since(start)
			o.recordAttempt(ctx, caller, photo, metrics, domain.StatusFailed, failure.Code)
			out = &Outcome{PhotoID: photo.ID, Status: domain.StatusFailed, ErrorCode: failure.Code, Metrics: metrics}
			err = failure
		}
	}()

	resultRef, runErr := o.run(ctx, photo, metrics)
	if runErr == nil {
		runErr = o.writeCompletion(ctx, photo, resultRef, metrics, log)
	} else {
		o.writeFailure(ctx, photo, runErr, log)
	}
	written = true
	metrics.Latency = time.Since(start)

	if runErr != nil {
		code := domain.CodeOf(runErr)
		o.recordAttempt(ctx, caller, photo, metrics, domain.StatusFailed, code)
		log.Warn().Err(runErr).Str("code", string(code)).Dur("latency", metrics.Latency).Msg("enhance: failed")
		return &Outcome{PhotoID: photo.ID, Status: domain.StatusFailed, ErrorCode: code, Metrics: metrics}, runErr
	}
	o.recordAttempt(ctx, caller, photo, metrics, domain.StatusCompleted, "")
	log.Info().Dur("latency", metrics.Latency).Dur("upstream_latency", metrics.UpstreamLatency).Float64("confidence", metrics.Confidence).Msg("enhance: completed")
	return &Outcome{PhotoID: photo.ID, Status: domain.StatusCompleted, ResultRef: resultRef, Metrics: metrics}, nil
}

// run reads the source, calls the enhancer and stores the result object.
func (o *Orchestrator) run(ctx context.Context, photo *domain.Photo, metrics *Metrics) (string, error) {
	source, err := o.objects.Read(ctx, photo.SourceRef)
	if err != nil {
		return "", budgetOr(ctx, domain.CodeNetworkError, "read source image", err)
	}

	upstreamStart := time.Now()
	res, err := o.enhancer.Enhance(ctx, enhance.Request{
		PhotoID:     photo.ID,
		Data:        source,
		MIME:        photo.SourceMIME,
		Instruction: o.cfg.Instruction,
	})
	metrics.UpstreamLatency = time.Since(upstreamStart)
	if err != nil {
		if ctx.Err() != nil {
			return "", domain.NewError(domain.CodeUpstreamTimeout, "enhancement exceeded the processing budget", err)
		}
		return "", domain.NewError(enhance.Classify(err), "enhancement service call failed", err)
	}
	if res == nil || len(res.Data) == 0 {
		return "", domain.NewError(domain.CodeUpstreamServiceError, "enhancement service returned an empty image", nil)
	}
	metrics.Confidence = res.Confidence
	if res.Model != "" {
		metrics.Model = res.Model
	}

	checksum := imaging.Checksum(res.Data)
	if checksum == imaging.Checksum(source) || (photo.SourceChecksum != "" && checksum == photo.SourceChecksum) {
		return "", domain.NewError(domain.CodeUpstreamServiceError, "enhancement service returned the source image unchanged", nil)
	}

	mime := res.MIME
	if mime == "" {
		mime = photo.SourceMIME
	}
	key := domain.ResultKey(photo.OwnerID, photo.ID, photo.Attempts, imaging.ExtensionFor(mime))
	if key == photo.SourceRef {
		return "", domain.Errorf(domain.CodeInternal, "result key collides with source key %s", key)
	}
	ref, err := o.objects.Write(ctx, key, res.Data)
	if err != nil {
		return "", budgetOr(ctx, domain.CodeStorageError, "write result image", err)
	}
	photo.ResultChecksum = checksum
	return ref, nil
}

func (o *Orchestrator) writeCompletion(ctx context.Context, photo *domain.Photo, resultRef string, metrics *Metrics, log infra.Logger) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	err := o.photos.Complete(wctx, photo.ID, resultRef, photo.ResultChecksum, o.now())
	o.invalidate(wctx, photo.ID)
	if err == nil {
		return nil
	}
	o.discard(wctx, resultRef, log)
	if errors.Is(err, domain.ErrConflict) {
		// recovery reset the record underneath us; it will be re-run
		return domain.NewError(domain.CodeAlreadyTerminal, "photo changed state during enhancement", err)
	}
	failure := domain.NewError(domain.CodeStorageError, "record completion", err)
	o.writeFailure(ctx, photo, failure, log)
	return failure
}

func (o *Orchestrator) writeFailure(ctx context.Context, photo *domain.Photo, failure error, log infra.Logger) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	msg := clip(strings.ToValidUTF8(failure.Error(), "\uFFFD"), maxErrorMessage)
	if err := o.photos.Fail(wctx, photo.ID, domain.CodeOf(failure), msg, o.now()); err != nil {
		log.Error().Err(err).Msg("enhance: could not record failure; stalled sweep will recover")
	}
	o.invalidate(wctx, photo.ID)
}

func (o *Orchestrator) recordAttempt(ctx context.Context, caller domain.Caller, photo *domain.Photo, m *Metrics, outcome domain.PhotoStatus, code domain.ErrorCode) {
	if o.attempts == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()
	err := o.attempts.Record(wctx, &domain.Attempt{
		PhotoID:         photo.ID,
		Attempt:         photo.Attempts,
		Caller:          string(caller.Kind),
		Outcome:         outcome,
		ErrorCode:       string(code),
		Latency:         m.Latency,
		UpstreamLatency: m.UpstreamLatency,
		Confidence:      m.Confidence,
		Model:           m.Model,
		CreatedAt:       o.now(),
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("photo_id", photo.ID).Msg("enhance: record attempt failed")
	}
}

func (o *Orchestrator) discard(ctx context.Context, ref string, log infra.Logger) {
	if ref == "" {
		return
	}
	if err := o.objects.Delete(ctx, ref); err != nil {
		log.Warn().Err(err).Str("ref", ref).Msg("enhance: discard result object failed")
	}
}

func (o *Orchestrator) invalidate(ctx context.Context, photoID string) {
	if err := o.cache.Invalidate(ctx, photoID); err != nil {
		o.logger.Debug().Err(err).Str("photo_id", photoID).Msg("status cache invalidate failed")
	}
}

// budgetOr reports UPSTREAM_TIMEOUT when the budget ran out, otherwise code.
func budgetOr(ctx context.Context, code domain.ErrorCode, msg string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewError(domain.CodeUpstreamTimeout, fmt.Sprintf("%s: processing budget exceeded", msg), err)
	}
	return domain.NewError(code, msg, err)
}
