package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aeshef/finam-ai-chat/internal/domain"
)

// DecisionKind is the outcome of a safety check.
type DecisionKind string

const (
	DecisionAllow               DecisionKind = "allow"
	DecisionRequireConfirmation DecisionKind = "require_confirmation"
	DecisionDeny                DecisionKind = "deny"
)

// Decision is what SafetyGate.Check returns: Allow for read-only requests,
// RequireConfirmation with a card for mutating ones, Deny with reasons for
// policy violations.
type Decision struct {
	Kind    DecisionKind
	Card    *domain.ConfirmationCard
	Reasons []string
}

// SafetyPolicy configures the gate. Deny rules fire regardless of
// confirmation; confirmation is additionally required for every mutating
// endpoint, which is not configurable.
type SafetyPolicy struct {
	// Denylist of policy tags rejected outright (e.g. account-closing).
	Denylist []domain.PolicyTag
	// AllowedMarkets restricts instrument markets; empty means any.
	AllowedMarkets []string
	// MaxOrderQuantity caps the quantity parameter of order placement.
	MaxOrderQuantity int
	// ConfirmTTL bounds the lifetime of a confirmation card.
	ConfirmTTL time.Duration
}

// DefaultSafetyPolicy mirrors the backend's production defaults.
func DefaultSafetyPolicy() SafetyPolicy {
	return SafetyPolicy{
		Denylist:         []domain.PolicyTag{domain.PolicyCloseAccount},
		AllowedMarkets:   []string{"MISX", "FORTS", "RTSX", "XNGS", "SPBEX"},
		MaxOrderQuantity: 10000,
		ConfirmTTL:       60 * time.Second,
	}
}

// pendingConfirmation is the persisted record of a request suspended at
// AwaitingConfirmation. Keyed by token; a process that restarts before the
// confirmation arrives simply finds no record and the token expires.
type pendingConfirmation struct {
	request   domain.ResolvedRequest
	hash      string
	expiresAt time.Time
}

// SafetyGate classifies resolved requests and enforces the core invariant:
// no mutating call reaches execution without a fresh, explicit,
// content-bound confirmation.
type SafetyGate struct {
	policy SafetyPolicy
	audit  AuditSink
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]pendingConfirmation
}

// NewSafetyGate creates a gate with the given policy.
func NewSafetyGate(policy SafetyPolicy, audit AuditSink, logger *slog.Logger) *SafetyGate {
	if policy.ConfirmTTL <= 0 {
		policy.ConfirmTTL = DefaultSafetyPolicy().ConfirmTTL
	}
	return &SafetyGate{
		policy:  policy,
		audit:   audit,
		logger:  logger.With("component", "safety_gate"),
		now:     time.Now,
		pending: make(map[string]pendingConfirmation),
	}
}

// Classify evaluates the request against policy without issuing a card,
// touching pending state, or writing audit. Callers that only need the
// verdict, such as refusing an unconfirmed mutation, use this instead of
// Check so no dangling token is left behind.
func (g *SafetyGate) Classify(req domain.ResolvedRequest) Decision {
	if reasons := g.denyReasons(req); len(reasons) > 0 {
		return Decision{Kind: DecisionDeny, Reasons: reasons}
	}
	if !req.Endpoint.Mutating {
		return Decision{Kind: DecisionAllow}
	}
	return Decision{Kind: DecisionRequireConfirmation, Reasons: []string{policyReason(req.Endpoint.Policy)}}
}

// Check classifies the request. A mutating endpoint is never allowed
// directly: the result is either a confirmation card or a denial.
func (g *SafetyGate) Check(req domain.ResolvedRequest) Decision {
	d := g.Classify(req)
	switch d.Kind {
	case DecisionDeny:
		g.logger.Warn("Request denied by policy",
			slog.String("path", req.Path),
			slog.Any("reasons", d.Reasons))
		g.record(req, "denied", d.Reasons)
	case DecisionAllow:
		g.record(req, "allowed", nil)
	default:
		d.Card = g.issueCard(req)
		g.record(req, "needs_confirm", d.Card.Reasons)
	}
	return d
}

// Confirm resumes the pending request bound to token. The stored request is
// re-hashed and compared against the hash recorded at card issuance, so a
// request mutated after the card went out is rejected as stale. An expired
// token is removed and denied; it never executes late.
func (g *SafetyGate) Confirm(token string) (domain.ResolvedRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[token]
	if !ok {
		return domain.ResolvedRequest{}, ErrUnknownToken
	}
	delete(g.pending, token)

	if g.now().After(p.expiresAt) {
		g.record(p.request, "expired", []string{"confirmation window elapsed"})
		return domain.ResolvedRequest{}, fmt.Errorf("%w: %s", ErrTokenExpired, token)
	}
	if p.request.ContentHash() != p.hash {
		g.record(p.request, "stale", []string{"request content changed after card issuance"})
		return domain.ResolvedRequest{}, ErrStaleConfirmation
	}
	g.record(p.request, "confirmed", nil)
	return p.request, nil
}

// Reject discards the pending request bound to token. Rejecting an unknown
// or already-expired token is not an error.
func (g *SafetyGate) Reject(token string) {
	g.mu.Lock()
	p, ok := g.pending[token]
	delete(g.pending, token)
	g.mu.Unlock()
	if ok {
		g.record(p.request, "rejected", nil)
	}
}

// Sweep drops expired pending confirmations. Called periodically; expiry is
// also enforced lazily in Confirm, so a missed sweep only delays cleanup.
func (g *SafetyGate) Sweep() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for token, p := range g.pending {
		if now.After(p.expiresAt) {
			delete(g.pending, token)
		}
	}
}

func (g *SafetyGate) issueCard(req domain.ResolvedRequest) *domain.ConfirmationCard {
	reasons := []string{policyReason(req.Endpoint.Policy)}
	card := &domain.ConfirmationCard{
		Token:       uuid.NewString(),
		Description: describeRequest(req),
		Reasons:     reasons,
		ContentHash: req.ContentHash(),
		ExpiresAt:   g.now().Add(g.policy.ConfirmTTL),
	}
	g.mu.Lock()
	g.pending[card.Token] = pendingConfirmation{
		request:   req,
		hash:      card.ContentHash,
		expiresAt: card.ExpiresAt,
	}
	g.mu.Unlock()
	return card
}

// denyReasons collects every policy violation; an empty slice means the
// request passes.
func (g *SafetyGate) denyReasons(req domain.ResolvedRequest) []string {
	var reasons []string
	for _, tag := range g.policy.Denylist {
		if req.Endpoint.Policy == tag {
			reasons = append(reasons, fmt.Sprintf("policy tag %s is denylisted", tag))
		}
	}
	if len(g.policy.AllowedMarkets) > 0 {
		if market, ok := requestMarket(req); ok && !contains(g.policy.AllowedMarkets, market) {
			reasons = append(reasons, fmt.Sprintf("market %s not in allowlist", market))
		}
	}
	if g.policy.MaxOrderQuantity > 0 && req.Endpoint.Policy == domain.PolicyPlaceOrder {
		if qty, ok := requestQuantity(req); ok && qty > g.policy.MaxOrderQuantity {
			reasons = append(reasons, fmt.Sprintf("order quantity %d exceeds limit %d", qty, g.policy.MaxOrderQuantity))
		}
	}
	return reasons
}

func (g *SafetyGate) record(req domain.ResolvedRequest, decision string, reasons []string) {
	g.audit.Record(AuditRecord{
		Time:     g.now(),
		Kind:     "safety",
		Method:   req.Method,
		Path:     req.Path,
		Decision: decision,
		Reasons:  reasons,
	})
}

func policyReason(tag domain.PolicyTag) string {
	switch tag {
	case domain.PolicyPlaceOrder:
		return "places an order"
	case domain.PolicyCancelOrder:
		return "cancels an order"
	case domain.PolicyModifyAccount:
		return "modifies account state"
	case domain.PolicyCloseAccount:
		return "closes the account"
	default:
		return fmt.Sprintf("mutating operation (%s)", tag)
	}
}

func describeRequest(req domain.ResolvedRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", req.Method, req.Path)
	if req.Endpoint.Description != "" {
		fmt.Fprintf(&b, " (%s)", req.Endpoint.Description)
	}
	return b.String()
}

// requestMarket extracts the market code from a symbol parameter, e.g.
// SBER@MISX -> MISX.
func requestMarket(req domain.ResolvedRequest) (string, bool) {
	for name, v := range req.Params {
		p, ok := req.Endpoint.Param(name)
		if !ok || p.Type != domain.ParamSymbol {
			continue
		}
		if at := strings.IndexByte(v, '@'); at >= 0 {
			return v[at+1:], true
		}
	}
	return "", false
}

func requestQuantity(req domain.ResolvedRequest) (int, bool) {
	for name, v := range req.Params {
		p, ok := req.Endpoint.Param(name)
		if !ok || p.Type != domain.ParamQuantity {
			continue
		}
		var qty int
		if _, err := fmt.Sscanf(v, "%d", &qty); err == nil {
			return qty, true
		}
	}
	return 0, false
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
