package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aeshef/finam-ai-chat/internal/domain"
)

// Mode selects the intent production strategy.
type Mode string

const (
	// ModeOffline uses only the deterministic mapper. This is the scoring
	// baseline and needs no network.
	ModeOffline Mode = "offline"
	// ModeLLM asks the model first and falls back to the offline mapper on
	// any extraction or resolution failure.
	ModeLLM Mode = "llm"
)

// OutcomeKind classifies the terminal state of one query.
type OutcomeKind string

const (
	OutcomeExecuted          OutcomeKind = "executed"
	OutcomeResolved          OutcomeKind = "resolved" // dry-run stops after resolution
	OutcomeNeedsConfirmation OutcomeKind = "needs_confirmation"
	OutcomeDenied            OutcomeKind = "denied"
	OutcomeUnresolved        OutcomeKind = "unresolved"
)

// Outcome is the single result shape the pipeline hands to its callers. No
// stage error escapes as a raw failure: extraction and resolution problems
// degrade to OutcomeUnresolved, policy problems to OutcomeDenied.
type Outcome struct {
	Kind    OutcomeKind               `json:"kind"`
	Request *domain.ResolvedRequest   `json:"request,omitempty"`
	Card    *domain.ConfirmationCard  `json:"card,omitempty"`
	Result  *domain.ExecutionResult   `json:"result,omitempty"`
	Message string                    `json:"message,omitempty"`
}

// Pipeline wires the stages into the Ask/Confirm facade. Each concurrent
// query runs independently; the router's cache and limiter are the only
// shared synchronization points.
type Pipeline struct {
	mode      Mode
	mapper    *OfflineMapper
	extractor IntentProducer // nil in offline mode
	resolver  *Resolver
	gate      *SafetyGate
	router    *ToolRouter
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewPipeline assembles the facade. extractor may be nil, which forces
// offline mode regardless of the configured mode.
func NewPipeline(mode Mode, mapper *OfflineMapper, extractor IntentProducer, resolver *Resolver, gate *SafetyGate, router *ToolRouter, logger *slog.Logger) *Pipeline {
	if extractor == nil {
		mode = ModeOffline
	}
	return &Pipeline{
		mode:      mode,
		mapper:    mapper,
		extractor: extractor,
		resolver:  resolver,
		gate:      gate,
		router:    router,
		logger:    logger.With("component", "pipeline"),
		tracer:    otel.Tracer("finam-ai-chat/pipeline"),
	}
}

// Ask maps a natural-language query to its terminal outcome. With dryRun
// the pipeline stops after resolution, which is the scoring path: the
// observable output for the evaluator is (method, path) of the request.
func (p *Pipeline) Ask(ctx context.Context, query string, dryRun bool) Outcome {
	req, outcome := p.resolveQuery(ctx, query)
	if outcome != nil {
		return *outcome
	}

	if dryRun {
		return Outcome{Kind: OutcomeResolved, Request: req}
	}

	ctx, span := p.tracer.Start(ctx, "safety")
	decision := p.gate.Check(*req)
	span.End()
	switch decision.Kind {
	case DecisionDeny:
		return Outcome{
			Kind:    OutcomeDenied,
			Request: req,
			Message: joinReasons(decision.Reasons),
		}
	case DecisionRequireConfirmation:
		return Outcome{
			Kind:    OutcomeNeedsConfirmation,
			Request: req,
			Card:    decision.Card,
			Message: joinReasons(decision.Reasons),
		}
	}

	res := p.execute(ctx, *req)
	return Outcome{Kind: OutcomeExecuted, Request: req, Result: &res}
}

// Confirm resumes a query suspended at AwaitingConfirmation. decision is
// "confirm" or "reject"; anything else rejects. An expired or stale token
// denies without touching the adapter.
func (p *Pipeline) Confirm(ctx context.Context, token, decision string) Outcome {
	if decision != "confirm" {
		p.gate.Reject(token)
		return Outcome{Kind: OutcomeDenied, Message: "confirmation rejected"}
	}
	req, err := p.gate.Confirm(token)
	if err != nil {
		var msg string
		switch {
		case errors.Is(err, ErrTokenExpired):
			msg = "expired"
		case errors.Is(err, ErrStaleConfirmation):
			msg = "stale confirmation"
		default:
			msg = "unknown confirmation token"
		}
		return Outcome{Kind: OutcomeDenied, Message: msg}
	}
	res := p.execute(ctx, req)
	return Outcome{Kind: OutcomeExecuted, Request: &req, Result: &res}
}

// Execute runs an already resolved request through the gate and, only when
// allowed, the router. A mutating request presented here without a prior
// confirmation fails with ErrPolicyDenied; this is the enforcement point
// behind the no-silent-mutation invariant.
func (p *Pipeline) Execute(ctx context.Context, req domain.ResolvedRequest) (domain.ExecutionResult, error) {
	decision := p.gate.Classify(req)
	if decision.Kind != DecisionAllow {
		return domain.ExecutionResult{}, fmt.Errorf("%w: %s", ErrPolicyDenied, joinReasons(decision.Reasons))
	}
	return p.execute(ctx, req), nil
}

// Score resolves the query without side effects and returns the (method,
// path) pair the automated evaluator compares. Exact-match equality against
// the reference pair is the correctness contract, parameters in the path
// included, nothing else.
func (p *Pipeline) Score(ctx context.Context, query string) (method, path string, ok bool) {
	req, outcome := p.resolveQuery(ctx, query)
	if outcome != nil {
		return "", "", false
	}
	return req.Method, req.Path, true
}

// resolveQuery runs produce + resolve with fallback. A nil outcome means
// req is valid; a non-nil outcome is terminal (always OutcomeUnresolved).
func (p *Pipeline) resolveQuery(ctx context.Context, query string) (*domain.ResolvedRequest, *Outcome) {
	ctx, span := p.tracer.Start(ctx, "produce",
		trace.WithAttributes(attribute.String("mode", string(p.mode))))
	intent, params, err := p.produce(ctx, query)
	span.End()
	if err != nil {
		// produce only errs after the fallback also failed, which the
		// offline mapper never does; treat as unresolved regardless.
		return nil, &Outcome{Kind: OutcomeUnresolved, Message: err.Error()}
	}
	if intent.Unresolved() {
		return nil, &Outcome{Kind: OutcomeUnresolved, Message: "could not understand the question"}
	}

	_, span = p.tracer.Start(ctx, "resolve",
		trace.WithAttributes(attribute.String("endpoint", intent.Endpoint)))
	req, err := p.resolver.Resolve(intent, params)
	span.End()
	if err != nil && params.Source == domain.SourceModel {
		// The model's parameters did not survive validation; retry the
		// whole stage with the deterministic mapper before giving up.
		p.logger.Warn("Model-derived resolution failed, falling back to offline mapper", slog.Any("error", err))
		intent, params = p.mapper.MapAndExtract(query)
		if intent.Unresolved() {
			return nil, &Outcome{Kind: OutcomeUnresolved, Message: "could not understand the question"}
		}
		req, err = p.resolver.Resolve(intent, params)
	}
	if err != nil {
		p.logger.Info("Resolution failed", slog.String("query", query), slog.Any("error", err))
		return nil, &Outcome{Kind: OutcomeUnresolved, Message: resolveFailureMessage(err)}
	}
	return &req, nil
}

// produce selects the configured producer; in LLM mode an ErrExtraction
// degrades to the offline mapper instead of surfacing.
func (p *Pipeline) produce(ctx context.Context, query string) (domain.Intent, domain.ExtractedParams, error) {
	if p.mode == ModeLLM {
		intent, params, err := p.extractor.Produce(ctx, query)
		if err == nil {
			return intent, params, nil
		}
		p.logger.Warn("Extraction failed, using offline mapper", slog.Any("error", err))
	}
	return p.mapper.Produce(ctx, query)
}

func (p *Pipeline) execute(ctx context.Context, req domain.ResolvedRequest) domain.ExecutionResult {
	ctx, span := p.tracer.Start(ctx, "execute",
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.path", req.Path)))
	defer span.End()
	return p.router.Execute(ctx, req)
}

func resolveFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingParameter):
		return fmt.Sprintf("could not resolve: %v", err)
	case errors.Is(err, ErrInvalidParameter):
		return fmt.Sprintf("could not resolve: %v", err)
	case errors.Is(err, ErrAmbiguousEndpoint):
		return "could not resolve: the question is ambiguous"
	case errors.Is(err, domain.ErrUnknownEndpoint):
		return "could not resolve: unknown endpoint"
	default:
		return "could not resolve the question"
	}
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}
