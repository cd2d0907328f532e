package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"photoenhance/internal/domain"
	"photoenhance/internal/infra"
	"photoenhance/internal/queue"
	"photoenhance/internal/retry"
)

// DispatcherConfig tunes trigger retries.
type DispatcherConfig struct {
	Attempts int
	Backoff  time.Duration
	// Service names the internal caller the orchestrator sees.
	Service string
}

// TriggerQueue hands triggers to a worker process.
type TriggerQueue interface {
	Push(ctx context.Context, t queue.Trigger) error
}

// TriggerSource yields queued triggers.
type TriggerSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.Trigger, error)
}

// DispatchReport summarizes one Run.
type DispatchReport struct {
	PhotoID   string             `json:"jobId"`
	Attempts  int                `json:"attempts"`
	Succeeded bool               `json:"succeeded"`
	Status    domain.PhotoStatus `json:"status,omitempty"`
	ErrorCode domain.ErrorCode   `json:"errorCode,omitempty"`
	Duration  time.Duration      `json:"-"`
}

// Dispatcher starts enhancements after admission. It never writes records or
// balances itself.
type Dispatcher struct {
	orch   Enhancer
	queue  TriggerQueue
	cfg    DispatcherConfig
	logger infra.Logger
	wg     sync.WaitGroup
}

// NewDispatcher builds a dispatcher. q may be nil, in which case Trigger runs
// enhancements in-process.
func NewDispatcher(orch Enhancer, q TriggerQueue, cfg DispatcherConfig, logger infra.Logger) *Dispatcher {
	schedule := retry.DispatchConfig()
	if cfg.Attempts <= 0 {
		cfg.Attempts = schedule.MaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = schedule.InitialDelay
	}
	if cfg.Service == "" {
		cfg.Service = "dispatcher"
	}
	return &Dispatcher{orch: orch, queue: q, cfg: cfg, logger: logger}
}

func (d *Dispatcher) caller() domain.Caller {
	return domain.InternalService(d.cfg.Service, "")
}

// permanent codes mean another invocation owns the photo or it is gone.
func permanent(code domain.ErrorCode) bool {
	switch code {
	case domain.CodeAlreadyProcessing, domain.CodeAlreadyTerminal, domain.CodeNotFound, domain.CodeUnauthorized:
		return true
	}
	return false
}

// Run invokes the orchestrator up to the configured attempts with a linear
// backoff. Failures are logged and reported, never returned.
func (d *Dispatcher) Run(ctx context.Context, photoID string) DispatchReport {
	report := DispatchReport{PhotoID: photoID}
	cfg := retry.DispatchConfig()
	cfg.MaxAttempts = d.cfg.Attempts
	cfg.InitialDelay = d.cfg.Backoff
	cfg.MaxDelay = time.Duration(d.cfg.Attempts) * d.cfg.Backoff
	ctx = d.logger.With().Str("photo_id", photoID).Logger().WithContext(ctx)

	res := retry.Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		out, err := d.orch.Enhance(ctx, d.caller(), photoID)
		if out != nil {
			report.Status = out.Status
		}
		if err == nil {
			report.ErrorCode = ""
			return nil
		}
		report.ErrorCode = domain.CodeOf(err)
		if permanent(report.ErrorCode) {
			return retry.Permanent(err)
		}
		return err
	})

	report.Attempts = res.Attempts
	report.Succeeded = res.Success
	report.Duration = res.TotalDuration
	if !res.Success {
		ev := d.logger.Warn()
		if permanent(report.ErrorCode) {
			ev = d.logger.Debug()
		}
		ev.Err(res.Err()).
			Str("photo_id", photoID).
			Int("attempts", res.Attempts).
			Str("code", string(report.ErrorCode)).
			Msg("dispatch: enhancement not completed")
	}
	return report
}

// Trigger starts enhancement without waiting for it. With a queue the photo id
// is enqueued; otherwise, or when enqueueing fails, Run executes in a tracked
// goroutine detached from ctx.
func (d *Dispatcher) Trigger(ctx context.Context, photoID string) {
	if d.queue != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err := d.queue.Push(pctx, queue.Trigger{PhotoID: photoID, Service: d.cfg.Service, Reason: "admission"})
		cancel()
		if err == nil {
			return
		}
		d.logger.Warn().Err(err).Str("photo_id", photoID).Msg("dispatch: enqueue failed, running in-process")
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Run(context.WithoutCancel(ctx), photoID)
	}()
}

// Wait blocks until every in-process Run started by Trigger has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Consume runs queued triggers with at most concurrency in flight until ctx
// is cancelled, then waits for the in-flight ones.
func (d *Dispatcher) Consume(ctx context.Context, src TriggerSource, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for ctx.Err() == nil {
		t, err := src.Pop(ctx, 5*time.Second)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) || ctx.Err() != nil {
				continue
			}
			d.logger.Error().Err(err).Msg("dispatch: pop trigger failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		photoID := t.PhotoID
		g.Go(func() error {
			d.Run(context.WithoutCancel(ctx), photoID)
			return nil
		})
	}
	return g.Wait()
}
