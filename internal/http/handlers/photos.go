package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"photoenhance/internal/domain"
	"photoenhance/internal/middleware"
	"photoenhance/internal/pipeline"
)

const defaultMaxUpload = 10 << 20

type uploadResponse struct {
	JobID            string `json:"jobId"`
	Message          string `json:"message"`
	CreditsRemaining *int   `json:"creditsRemaining"`
	Unlimited        bool   `json:"unlimited,omitempty"`
}

var uploadAccepted = map[string]string{
	"en": "Photo received. Enhancement has started.",
	"id": "Foto diterima. Proses peningkatan sudah dimulai.",
}

// UploadPhoto admits a multipart upload and starts enhancement in the
// background. The response does not wait for the enhancer.
func (a *App) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	caller := a.caller(r)
	if caller.Kind != domain.CallerEndUser {
		a.error(w, r, domain.CodeUnauthorized, "end-user authentication required")
		return
	}

	limit := a.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, r, domain.CodeInvalidFile, "file is too large")
			return
		}
		a.error(w, r, domain.CodeBadRequest, "expected a multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, r, domain.CodeInvalidFile, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		a.error(w, r, domain.CodeInvalidFile, "could not read uploaded file")
		return
	}

	admitted, err := a.Admission.Submit(r.Context(), caller.UserID, pipeline.Upload{
		Filename:     header.Filename,
		Data:         data,
		DeclaredMIME: header.Header.Get("Content-Type"),
		Title:        r.FormValue("title"),
		Description:  r.FormValue("description"),
	})
	if err != nil {
		a.fail(w, r, err, "")
		return
	}

	a.Dispatcher.Trigger(r.Context(), admitted.PhotoID)

	msg, ok := uploadAccepted[middleware.LocaleFromContext(r.Context())]
	if !ok {
		msg = uploadAccepted["en"]
	}
	a.json(w, http.StatusCreated, uploadResponse{
		JobID:            admitted.PhotoID,
		Message:          msg,
		CreditsRemaining: admitted.CreditsRemaining,
		Unlimited:        admitted.Unlimited,
	})
}

type enhanceRequest struct {
	JobID string `json:"jobId"`
}

type enhanceResponse struct {
	JobID     string             `json:"jobId"`
	Status    domain.PhotoStatus `json:"status"`
	ResultRef string             `json:"resultRef"`
	Noop      bool               `json:"noop,omitempty"`
	Metrics   *pipeline.Metrics  `json:"metrics"`
}

// EnhancePhoto runs the enhancement synchronously. Owners use it to retry a
// FAILED photo; internal services use it to drive admitted ones.
func (a *App) EnhancePhoto(w http.ResponseWriter, r *http.Request) {
	caller := a.caller(r)
	if !caller.Authenticated() {
		a.error(w, r, domain.CodeUnauthorized, "authentication required")
		return
	}
	var req enhanceRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, r, domain.CodeBadRequest, "body must be {\"jobId\": \"...\"}")
		return
	}

	out, err := a.Enhancer.Enhance(r.Context(), caller, req.JobID)
	if err != nil {
		var jobStatus domain.PhotoStatus
		switch {
		case out != nil:
			jobStatus = out.Status
		case domain.HasCode(err, domain.CodeAlreadyProcessing):
			jobStatus = domain.StatusProcessing
		case domain.HasCode(err, domain.CodeAlreadyTerminal):
			jobStatus = domain.StatusCompleted
		}
		a.fail(w, r, err, jobStatus)
		return
	}
	a.json(w, http.StatusOK, enhanceResponse{
		JobID:     out.PhotoID,
		Status:    out.Status,
		ResultRef: out.ResultRef,
		Noop:      out.Noop,
		Metrics:   out.Metrics,
	})
}

type statusResponse struct {
	JobID                     string             `json:"jobId"`
	Status                    domain.PhotoStatus `json:"status"`
	ResultRef                 string             `json:"resultRef,omitempty"`
	IsComplete                bool               `json:"isComplete"`
	IsTerminal                bool               `json:"isTerminal"`
	ElapsedSeconds            float64            `json:"elapsedSeconds"`
	EstimatedRemainingSeconds float64            `json:"estimatedRemainingSeconds"`
	PollAfterMs               int64              `json:"pollAfterMs"`
	ShouldStopPolling         bool               `json:"shouldStopPolling"`
	CanRetry                  bool               `json:"canRetry"`
	ErrorCode                 string             `json:"errorCode,omitempty"`
	ErrorMessage              string             `json:"errorMessage,omitempty"`
	Attempts                  int                `json:"attempts"`
	CreatedAt                 time.Time          `json:"createdAt"`
	UpdatedAt                 time.Time          `json:"updatedAt"`
}

// PhotoStatus answers client polling.
func (a *App) PhotoStatus(w http.ResponseWriter, r *http.Request) {
	caller := a.caller(r)
	if caller.Kind != domain.CallerEndUser {
		a.error(w, r, domain.CodeUnauthorized, "end-user authentication required")
		return
	}
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		a.error(w, r, domain.CodeBadRequest, "jobId query parameter is required")
		return
	}
	st, err := a.Status.Get(r.Context(), jobID, caller)
	if err != nil {
		a.fail(w, r, err, "")
		return
	}
	a.json(w, http.StatusOK, statusResponse{
		JobID:                     st.PhotoID,
		Status:                    st.Status,
		ResultRef:                 st.ResultRef,
		IsComplete:                st.IsComplete,
		IsTerminal:                st.IsTerminal,
		ElapsedSeconds:            st.Elapsed.Seconds(),
		EstimatedRemainingSeconds: st.EstimatedRemaining.Seconds(),
		PollAfterMs:               st.PollAfter.Milliseconds(),
		ShouldStopPolling:         st.ShouldStopPolling,
		CanRetry:                  st.CanRetry,
		ErrorCode:                 st.ErrorCode,
		ErrorMessage:              st.ErrorMessage,
		Attempts:                  st.Attempts,
		CreatedAt:                 st.CreatedAt,
		UpdatedAt:                 st.UpdatedAt,
	})
}

type detailsRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type photoSummary struct {
	JobID       string             `json:"jobId"`
	Status      domain.PhotoStatus `json:"status"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	SourceName  string             `json:"sourceName"`
	ResultRef   string             `json:"resultRef,omitempty"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// UpdatePhoto edits the owner's title and description.
func (a *App) UpdatePhoto(w http.ResponseWriter, r *http.Request) {
	var req detailsRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, r, domain.CodeBadRequest, "body must be {\"title\"?, \"description\"?}")
		return
	}
	p, err := a.Details.Update(r.Context(), a.caller(r), chi.URLParam(r, "jobId"), pipeline.DetailsChange{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		a.fail(w, r, err, "")
		return
	}
	a.json(w, http.StatusOK, photoSummary{
		JobID:       p.ID,
		Status:      p.Status,
		Title:       p.Title,
		Description: p.Description,
		SourceName:  p.SourceName,
		ResultRef:   p.ResultRef,
		UpdatedAt:   p.UpdatedAt,
	})
}
