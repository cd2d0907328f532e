package handlers

import (
	"context"
	"net/http"

	"photoenhance/internal/domain"
	"photoenhance/internal/pipeline"
)

type sweepFunc func(ctx context.Context, dryRun bool) (*pipeline.SweepReport, error)

// runSweep wraps a scanner sweep. GET is a dry run, POST mutates. Only trusted
// callers may run sweeps.
func (a *App) runSweep(sweep sweepFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := a.caller(r)
		if !caller.Trusted() {
			a.error(w, r, domain.CodeUnauthorized, "internal service authentication required")
			return
		}
		dryRun := r.Method == http.MethodGet
		report, err := sweep(r.Context(), dryRun)
		if err != nil {
			a.fail(w, r, domain.NewError(domain.CodeStorageError, "sweep failed", err), "")
			return
		}
		a.Logger.Info().
			Str("sweep", report.Sweep).
			Bool("dry_run", dryRun).
			Str("caller", caller.String()).
			Int("matched", report.Matched).
			Msg("recovery sweep requested")
		a.json(w, http.StatusOK, report)
	}
}

func (a *App) RecoverStale() http.HandlerFunc {
	return a.runSweep(a.Scanner.SweepStalePending)
}

func (a *App) RecoverInconsistent() http.HandlerFunc {
	return a.runSweep(a.Scanner.SweepInconsistent)
}

func (a *App) RecoverProcessing() http.HandlerFunc {
	return a.runSweep(a.Scanner.SweepStalledProcessing)
}
