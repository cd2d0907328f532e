package handlers

import (
	"errors"
	"net/http"

	"photoenhance/internal/domain"
	"photoenhance/internal/middleware"
)

var statusByCode = map[domain.ErrorCode]int{
	domain.CodeUnauthorized:         http.StatusUnauthorized,
	domain.CodeInvalidFile:          http.StatusBadRequest,
	domain.CodeBadRequest:           http.StatusBadRequest,
	domain.CodeInsufficientCredits:  http.StatusPaymentRequired,
	domain.CodeNotFound:             http.StatusNotFound,
	domain.CodeAlreadyProcessing:    http.StatusConflict,
	domain.CodeAlreadyTerminal:      http.StatusConflict,
	domain.CodeRateLimited:          http.StatusTooManyRequests,
	domain.CodeUpstreamTimeout:      http.StatusGatewayTimeout,
	domain.CodeUpstreamServiceError: http.StatusBadGateway,
	domain.CodeNetworkError:         http.StatusBadGateway,
	domain.CodeStorageError:         http.StatusServiceUnavailable,
	domain.CodeInternal:             http.StatusInternalServerError,
}

// Client-facing messages per locale. INVALID_FILE and BAD_REQUEST carry the
// validation detail instead.
var messages = map[string]map[domain.ErrorCode]string{
	"en": {
		domain.CodeUnauthorized:         "Please sign in to continue.",
		domain.CodeInsufficientCredits:  "You have no enhancement credits left. Buy more to continue.",
		domain.CodeNotFound:             "We couldn't find that photo.",
		domain.CodeAlreadyProcessing:    "This photo is already being enhanced. Check its status shortly.",
		domain.CodeAlreadyTerminal:      "This photo has already finished processing.",
		domain.CodeRateLimited:          "Too many requests. Please slow down and try again.",
		domain.CodeUpstreamTimeout:      "Enhancement took too long. You can retry this photo.",
		domain.CodeUpstreamServiceError: "The enhancement service could not process this photo. You can retry it.",
		domain.CodeNetworkError:         "We couldn't reach the enhancement service. You can retry this photo.",
		domain.CodeStorageError:         "Storage is temporarily unavailable. Please try again.",
		domain.CodeInternal:             "Something went wrong on our side. Please try again.",
	},
	"id": {
		domain.CodeUnauthorized:         "Silakan masuk untuk melanjutkan.",
		domain.CodeInsufficientCredits:  "Kredit peningkatan Anda habis. Beli kredit untuk melanjutkan.",
		domain.CodeNotFound:             "Foto tidak ditemukan.",
		domain.CodeAlreadyProcessing:    "Foto ini sedang diproses. Periksa statusnya sebentar lagi.",
		domain.CodeAlreadyTerminal:      "Foto ini sudah selesai diproses.",
		domain.CodeRateLimited:          "Terlalu banyak permintaan. Coba lagi sebentar lagi.",
		domain.CodeUpstreamTimeout:      "Proses peningkatan terlalu lama. Anda dapat mencoba lagi.",
		domain.CodeUpstreamServiceError: "Layanan peningkatan gagal memproses foto ini. Anda dapat mencoba lagi.",
		domain.CodeNetworkError:         "Layanan peningkatan tidak dapat dihubungi. Anda dapat mencoba lagi.",
		domain.CodeStorageError:         "Penyimpanan sedang tidak tersedia. Silakan coba lagi.",
		domain.CodeInternal:             "Terjadi kesalahan pada sistem kami. Silakan coba lagi.",
	},
}

type errorBody struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

type errorResponse struct {
	Error       errorBody          `json:"error"`
	JobStatus   domain.PhotoStatus `json:"jobStatus,omitempty"`
	PurchaseURL string             `json:"purchaseUrl,omitempty"`
}

// HTTPStatus maps a taxonomy code to its response status.
func HTTPStatus(code domain.ErrorCode) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Message returns the localized client message for code.
func Message(locale string, code domain.ErrorCode) string {
	table, ok := messages[locale]
	if !ok {
		table = messages["en"]
	}
	if msg, ok := table[code]; ok {
		return msg
	}
	return messages["en"][domain.CodeInternal]
}

// fail writes err as a typed error response. jobStatus is included when the
// caller should know the job's current state.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error, jobStatus domain.PhotoStatus) {
	code := domain.CodeOf(err)
	status := HTTPStatus(code)
	body := errorResponse{
		Error:     errorBody{Code: code, Message: a.message(r, code, err)},
		JobStatus: jobStatus,
	}
	if code == domain.CodeInsufficientCredits {
		body.PurchaseURL = a.PurchaseURL
	}

	log := a.Logger.With().Str("request_id", middleware.RequestIDFromContext(r.Context())).Str("code", string(code)).Logger()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	} else {
		log.Debug().Err(err).Msg("request rejected")
	}
	a.json(w, status, body)
}

// error writes a coded error with a fixed message.
func (a *App) error(w http.ResponseWriter, r *http.Request, code domain.ErrorCode, msg string) {
	a.fail(w, r, domain.NewError(code, msg, nil), "")
}

func (a *App) message(r *http.Request, code domain.ErrorCode, err error) string {
	if code == domain.CodeInvalidFile || code == domain.CodeBadRequest {
		var coded *domain.Error
		if errors.As(err, &coded) && coded.Message != "" {
			return coded.Message
		}
	}
	return Message(middleware.LocaleFromContext(r.Context()), code)
}

// RateLimited answers requests rejected by the rate limiter.
func (a *App) RateLimited(w http.ResponseWriter, r *http.Request) {
	a.error(w, r, domain.CodeRateLimited, "rate limit exceeded")
}
