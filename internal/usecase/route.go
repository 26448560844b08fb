package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aeshef/finam-ai-chat/internal/domain"
)

// RouterConfig tunes the execution facade.
type RouterConfig struct {
	// QuoteTTL caches fast-moving data (quotes, orderbooks); DefaultTTL
	// everything else read-only.
	QuoteTTL   time.Duration
	DefaultTTL time.Duration
	// RatePerSec and Burst shape the token bucket shared by all calls.
	RatePerSec float64
	Burst      int
	// MaxAttempts bounds adapter calls per request, transient retries
	// included. BaseDelay doubles per retry up to MaxDelay, with jitter.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// IdempotencyTTL suppresses a repeated mutating request with the same
	// content hash inside the window.
	IdempotencyTTL time.Duration
}

// DefaultRouterConfig mirrors the backend client's production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		QuoteTTL:       30 * time.Second,
		DefaultTTL:     5 * time.Minute,
		RatePerSec:     5,
		Burst:          10,
		MaxAttempts:    4,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		IdempotencyTTL: 60 * time.Second,
	}
}

type cacheEntry struct {
	result    domain.ExecutionResult
	expiresAt time.Time
}

// ToolRouter is the execution facade: it takes an allowed ResolvedRequest,
// applies read caching, rate limiting and bounded retry, and maps every
// adapter outcome to a uniform ExecutionResult. It is the only component
// holding shared mutable state across concurrent queries, all of it behind
// one mutex (the limiter synchronizes itself).
type ToolRouter struct {
	adapter TradingAdapter
	limiter *rate.Limiter
	cfg     RouterConfig
	audit   AuditSink
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
	idem  map[string]time.Time // content hash -> last execution
}

// NewToolRouter creates a router over the given adapter.
func NewToolRouter(adapter TradingAdapter, cfg RouterConfig, audit AuditSink, logger *slog.Logger) *ToolRouter {
	def := DefaultRouterConfig()
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = def.QuoteTTL
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = def.RatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	return &ToolRouter{
		adapter: adapter,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		cfg:     cfg,
		audit:   audit,
		logger:  logger.With("component", "tool_router"),
		now:     time.Now,
	}
}

// Execute runs the request against the adapter. Read requests are served
// from cache inside the TTL window; mutating requests pass an idempotency
// check first. The limiter delays rather than drops: Wait blocks until a
// token is available or ctx is done.
func (t *ToolRouter) Execute(ctx context.Context, req domain.ResolvedRequest) domain.ExecutionResult {
	log := t.logger.With(slog.String("method", req.Method), slog.String("path", req.Path))

	if !req.Endpoint.Mutating {
		if res, ok := t.cached(req); ok {
			log.Debug("Cache hit")
			t.record(req, res)
			return res
		}
	} else if !t.claimIdempotency(req) {
		log.Warn("Duplicate mutating request suppressed")
		res := failure(0, ErrDuplicateRequest.Error(), 0, 0)
		t.record(req, res)
		return res
	}

	if err := t.limiter.Wait(ctx); err != nil {
		res := failure(0, fmt.Sprintf("rate limiter: %v", err), 0, 0)
		t.record(req, res)
		return res
	}

	res := t.callWithRetry(ctx, req, log)
	if res.Success && !req.Endpoint.Mutating {
		t.store(req, res)
	}
	t.record(req, res)
	return res
}

// callWithRetry is an explicit bounded loop: transient failures back off
// exponentially with jitter, everything else returns immediately.
func (t *ToolRouter) callWithRetry(ctx context.Context, req domain.ResolvedRequest, log *slog.Logger) domain.ExecutionResult {
	started := t.now()
	delay := t.cfg.BaseDelay
	var lastErr *AdapterError

	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		resp, err := t.adapter.Execute(ctx, req.Method, req.Path)
		if err == nil {
			return domain.ExecutionResult{
				Success:    true,
				StatusCode: resp.StatusCode,
				Body:       resp.Body,
				Latency:    t.now().Sub(started),
				Attempts:   attempt,
			}
		}

		var ae *AdapterError
		if !errors.As(err, &ae) {
			ae = &AdapterError{Err: err}
		}
		lastErr = ae
		if !ae.Transient || attempt == t.cfg.MaxAttempts {
			return failure(ae.StatusCode, ae.Error(), t.now().Sub(started), attempt)
		}

		log.Warn("Transient adapter failure, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", ae))
		if err := sleepWithContext(ctx, withJitter(delay)); err != nil {
			return failure(ae.StatusCode, fmt.Sprintf("canceled during backoff: %v", err), t.now().Sub(started), attempt)
		}
		delay *= 2
		if delay > t.cfg.MaxDelay {
			delay = t.cfg.MaxDelay
		}
	}
	// Unreachable: the loop always returns. Kept for the compiler.
	return failure(lastErr.StatusCode, lastErr.Error(), t.now().Sub(started), t.cfg.MaxAttempts)
}

func (t *ToolRouter) cached(req domain.ResolvedRequest) (domain.ExecutionResult, bool) {
	key := req.CacheKey()
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.cache[key]
	if !ok {
		return domain.ExecutionResult{}, false
	}
	if t.now().After(entry.expiresAt) {
		delete(t.cache, key)
		return domain.ExecutionResult{}, false
	}
	res := entry.result
	res.CacheHit = true
	return res, true
}

func (t *ToolRouter) store(req domain.ResolvedRequest, res domain.ExecutionResult) {
	ttl := t.cfg.DefaultTTL
	if strings.Contains(req.Path, "/quotes") || strings.Contains(req.Path, "/orderbook") {
		ttl = t.cfg.QuoteTTL
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cache == nil {
		t.cache = make(map[string]cacheEntry)
	}
	t.cache[req.CacheKey()] = cacheEntry{result: res, expiresAt: t.now().Add(ttl)}
}

// claimIdempotency registers the request hash, reporting false when the
// same mutating request already executed inside the window.
func (t *ToolRouter) claimIdempotency(req domain.ResolvedRequest) bool {
	hash := req.ContentHash()
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idem == nil {
		t.idem = make(map[string]time.Time)
	}
	for k, at := range t.idem {
		if now.Sub(at) > t.cfg.IdempotencyTTL {
			delete(t.idem, k)
		}
	}
	if _, dup := t.idem[hash]; dup {
		return false
	}
	t.idem[hash] = now
	return true
}

func (t *ToolRouter) record(req domain.ResolvedRequest, res domain.ExecutionResult) {
	decision := "success"
	if !res.Success {
		decision = "failure"
	}
	if res.CacheHit {
		decision = "cache_hit"
	}
	t.audit.Record(AuditRecord{
		Time:     t.now(),
		Kind:     "execute",
		Method:   req.Method,
		Path:     req.Path,
		Decision: decision,
		Detail:   res.Error,
	})
}

func failure(status int, msg string, latency time.Duration, attempts int) domain.ExecutionResult {
	return domain.ExecutionResult{
		Success:    false,
		StatusCode: status,
		Error:      msg,
		Latency:    latency,
		Attempts:   attempts,
	}
}

// withJitter spreads a delay by ±30% so concurrent retries do not align.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	span := int64(d) * 30 / 100
	return d + time.Duration(rand.Int64N(2*span+1)-span)
}

// sleepWithContext sleeps for d, returning early if ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
