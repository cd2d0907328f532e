package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"photoenhance/internal/domain"
	"photoenhance/internal/infra"
	"photoenhance/internal/middleware"
	"photoenhance/internal/pipeline"
)

// Triggerer starts enhancement for an admitted photo without blocking.
type Triggerer interface {
	Trigger(ctx context.Context, photoID string)
}

// App holds the collaborators shared by every handler.
type App struct {
	Logger      infra.Logger
	Admission   *pipeline.Admission
	Enhancer    pipeline.Enhancer
	Dispatcher  Triggerer
	Scanner     *pipeline.Scanner
	Status      *pipeline.StatusService
	Details     *pipeline.Details
	Ledger      domain.CreditLedger
	PurchaseURL string
	// MaxUploadBytes bounds the multipart body; zero means 10 MiB.
	MaxUploadBytes int64
	// Ready reports backend health for /healthz. Nil means always ready.
	Ready   func(ctx context.Context) error
	Backend string
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) caller(r *http.Request) domain.Caller {
	return middleware.CallerFromContext(r.Context())
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
