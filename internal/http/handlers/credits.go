package handlers

import (
	"net/http"

	"photoenhance/internal/domain"
)

type creditsResponse struct {
	Credits   int  `json:"credits"`
	Unlimited bool `json:"unlimited"`
}

func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	caller := a.caller(r)
	if caller.Kind != domain.CallerEndUser {
		a.error(w, r, domain.CodeUnauthorized, "end-user authentication required")
		return
	}
	b, err := a.Ledger.GetBalance(r.Context(), caller.UserID)
	if err != nil {
		a.fail(w, r, domain.NewError(domain.CodeStorageError, "read credit balance", err), "")
		return
	}
	a.json(w, http.StatusOK, creditsResponse{Credits: b.Credits, Unlimited: b.Unlimited})
}
