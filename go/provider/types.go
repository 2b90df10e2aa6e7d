package provider

import "time"

// Attempt is one recorded provider call outcome.
type Attempt struct {
	PaymentID     string
	AttemptNumber int
	Result        string // AUTHORIZED or FAILED
	LatencyMs     int64
	ErrorCode     string // PROVIDER_DECLINE, PROVIDER_TIMEOUT, or empty
	CreatedAt     time.Time
}

const (
	ResultAuthorized = "AUTHORIZED"
	ResultFailed     = "FAILED"

	ErrCodeDecline = "PROVIDER_DECLINE"
	ErrCodeTimeout = "PROVIDER_TIMEOUT"
)
