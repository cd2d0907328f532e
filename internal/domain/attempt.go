package domain

import "time"

// Attempt records one enhancement invocation for observability.
type Attempt struct {
	ID              string
	PhotoID         string
	Attempt         int
	Caller          string
	Outcome         PhotoStatus
	ErrorCode       string
	Latency         time.Duration
	UpstreamLatency time.Duration
	Confidence      float64
	Model           string
	CreatedAt       time.Time
}
