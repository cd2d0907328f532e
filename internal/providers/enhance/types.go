// Package enhance talks to the external image enhancement service.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"photoenhance/internal/domain"
)

// Enhancer turns source image bytes into enhanced image bytes.
type Enhancer interface {
	Enhance(ctx context.Context, req Request) (*Result, error)
	Model() string
}

// Request carries the source image.
type Request struct {
	PhotoID     string
	Data        []byte
	MIME        string
	Instruction string
}

// Result is the enhanced image and the service's confidence in it.
type Result struct {
	Data       []byte
	MIME       string
	Confidence float64
	Model      string
}

// ErrEmptyResult is returned when the service answers without image data.
var ErrEmptyResult = errors.New("enhance: service returned no image")

// ErrTransport wraps failures to reach the service.
var ErrTransport = errors.New("enhance: transport failure")

// UpstreamError is a non-success answer from the service.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("enhance: upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("enhance: upstream status %d: %s", e.StatusCode, e.Message)
}

// Classify maps an enhancement failure onto the pipeline error taxonomy.
func Classify(err error) domain.ErrorCode {
	if err == nil {
		return ""
	}
	var coded *domain.Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.CodeUpstreamTimeout
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		if upstream.StatusCode == http.StatusGatewayTimeout || upstream.StatusCode == http.StatusRequestTimeout {
			return domain.CodeUpstreamTimeout
		}
		return domain.CodeUpstreamServiceError
	}
	if errors.Is(err, ErrEmptyResult) {
		return domain.CodeUpstreamServiceError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.CodeUpstreamTimeout
		}
		return domain.CodeNetworkError
	}
	if errors.Is(err, ErrTransport) {
		return domain.CodeNetworkError
	}
	return domain.CodeInternal
}
