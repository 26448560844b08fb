package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aeshef/finam-ai-chat/internal/domain"
)

// Standard errors produced by the pipeline stages. Resolution errors are
// recoverable: the pipeline surfaces them as a "could not resolve" outcome
// (falling back to the offline mapper when the LLM path produced them)
// rather than failing the query.
var (
	ErrExtraction        = errors.New("extraction failed")
	ErrMissingParameter  = errors.New("missing required parameter")
	ErrInvalidParameter  = errors.New("invalid parameter value")
	ErrAmbiguousEndpoint = errors.New("ambiguous endpoint")
	ErrPolicyDenied      = errors.New("denied by safety policy")
	ErrUnknownToken      = errors.New("unknown confirmation token")
	ErrTokenExpired      = errors.New("confirmation token expired")
	ErrStaleConfirmation = errors.New("confirmation does not match pending request")
	ErrDuplicateRequest  = errors.New("duplicate mutating request suppressed")
)

// IntentProducer turns a free-text query into an endpoint candidate plus
// extracted parameters. The offline mapper and the LLM extractor are the two
// implementations; the pipeline selects one by configuration and both feed
// the same Resolver.
type IntentProducer interface {
	Produce(ctx context.Context, query string) (domain.Intent, domain.ExtractedParams, error)
}

// AdapterResponse is a successful reply from the trading backend.
type AdapterResponse struct {
	StatusCode int
	Body       any
}

// AdapterError is a typed failure from the trading backend. Transient
// failures (timeouts, 429, 5xx) are retried by the router with bounded
// backoff; everything else is surfaced immediately.
type AdapterError struct {
	StatusCode int // 0 for network-level failures
	Body       string
	Transient  bool
	Err        error
}

func (e *AdapterError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("adapter: HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("adapter: %v", e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// TradingAdapter issues one HTTP request against the trading backend. Auth
// and connection lifecycle are entirely the adapter's concern.
type TradingAdapter interface {
	Execute(ctx context.Context, method, path string) (*AdapterResponse, error)
}

// AuditRecord is one entry of the execution/safety audit trail.
type AuditRecord struct {
	Time     time.Time `json:"ts"`
	Kind     string    `json:"kind"` // "safety" or "execute"
	Method   string    `json:"method,omitempty"`
	Path     string    `json:"path,omitempty"`
	Decision string    `json:"decision,omitempty"`
	Reasons  []string  `json:"reasons,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// AuditSink receives audit records. Implementations must be safe for
// concurrent use.
type AuditSink interface {
	Record(rec AuditRecord)
}

// NopAudit discards all records. Used in tests and when auditing is off.
type NopAudit struct{}

func (NopAudit) Record(AuditRecord) {}
