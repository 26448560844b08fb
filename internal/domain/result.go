package domain

import "time"

// ConfirmationCard is the safety artifact emitted for a pending mutating
// request. It exists only between the gate issuing it and the caller
// confirming or rejecting; after ExpiresAt the token is dead and the request
// can never execute through it.
type ConfirmationCard struct {
	Token       string    `json:"token"`
	Description string    `json:"description"`
	Reasons     []string  `json:"reasons"` // machine-checkable policy reasons
	ContentHash string    `json:"content_hash"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ExecutionResult is the terminal record of one adapter call, surfaced to
// the caller and appended to the audit log. Never mutated after return.
type ExecutionResult struct {
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"` // 0 when the adapter was never reached
	Body       any           `json:"body,omitempty"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency"`
	CacheHit   bool          `json:"cache_hit"`
	Attempts   int           `json:"attempts"` // adapter calls made, retries included
}
