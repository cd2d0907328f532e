package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"photoenhance/internal/domain"
	"photoenhance/internal/middleware"
)

func TestHTTPStatusCoversTaxonomy(t *testing.T) {
	tests := map[domain.ErrorCode]int{
		domain.CodeUnauthorized:         401,
		domain.CodeInvalidFile:          400,
		domain.CodeBadRequest:           400,
		domain.CodeInsufficientCredits:  402,
		domain.CodeNotFound:             404,
		domain.CodeAlreadyProcessing:    409,
		domain.CodeAlreadyTerminal:      409,
		domain.CodeRateLimited:          429,
		domain.CodeUpstreamTimeout:      504,
		domain.CodeUpstreamServiceError: 502,
		domain.CodeNetworkError:         502,
		domain.CodeStorageError:         503,
		domain.CodeInternal:             500,
		domain.ErrorCode("SOMETHING"):   500,
	}
	for code, want := range tests {
		if got := HTTPStatus(code); got != want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestEveryLocaleHasEveryMessage(t *testing.T) {
	for locale, table := range messages {
		for code := range messages["en"] {
			if table[code] == "" {
				t.Fatalf("locale %s has no message for %s", locale, code)
			}
		}
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestFailLocalizesAndAddsPurchaseURL(t *testing.T) {
	app := &App{Logger: zerolog.New(io.Discard), PurchaseURL: "/pricing"}
	req := httptest.NewRequest(http.MethodPost, "/photos", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.LocaleKey, "id"))
	rec := httptest.NewRecorder()

	app.fail(rec, req, domain.NewError(domain.CodeInsufficientCredits, "balance 0", nil), "")

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Error.Code != domain.CodeInsufficientCredits {
		t.Fatalf("code = %s", body.Error.Code)
	}
	if body.Error.Message != messages["id"][domain.CodeInsufficientCredits] {
		t.Fatalf("message = %q", body.Error.Message)
	}
	if body.PurchaseURL != "/pricing" {
		t.Fatalf("purchaseUrl = %q", body.PurchaseURL)
	}
}

func TestFailKeepsValidationDetail(t *testing.T) {
	app := &App{Logger: zerolog.New(io.Discard), PurchaseURL: "/pricing"}
	req := httptest.NewRequest(http.MethodPost, "/photos", nil)
	rec := httptest.NewRecorder()

	app.fail(rec, req, domain.Errorf(domain.CodeInvalidFile, "unsupported file type %s", "text/plain"), domain.StatusFailed)

	body := decodeError(t, rec)
	if body.Error.Message != "unsupported file type text/plain" {
		t.Fatalf("message = %q", body.Error.Message)
	}
	if body.PurchaseURL != "" {
		t.Fatalf("unexpected purchaseUrl %q", body.PurchaseURL)
	}
	if body.JobStatus != domain.StatusFailed {
		t.Fatalf("jobStatus = %q", body.JobStatus)
	}
}

func TestUnclassifiedErrorIsInternal(t *testing.T) {
	app := &App{Logger: zerolog.New(io.Discard)}
	rec := httptest.NewRecorder()
	app.fail(rec, httptest.NewRequest(http.MethodGet, "/", nil), io.ErrUnexpectedEOF, "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error.Code != domain.CodeInternal {
		t.Fatalf("code = %s", body.Error.Code)
	}
}

func TestHealthReportsDegradedBackend(t *testing.T) {
	app := &App{Logger: zerolog.New(io.Discard), Backend: "postgres", Ready: func(context.Context) error { return io.EOF }}
	rec := httptest.NewRecorder()
	app.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
