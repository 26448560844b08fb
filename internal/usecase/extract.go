package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aeshef/finam-ai-chat/internal/domain"
)

// ChatCompleter is the boundary to the external LLM provider: one prompt
// in, one completion out. Prompt construction and model selection live on
// this side; transport, auth and token accounting on the other.
type ChatCompleter interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// IntentExtractor is the LLM-backed counterpart of the offline mapper. The
// model output is treated as untrusted input: it must be valid JSON and name
// an endpoint that exists in the registry, otherwise Produce returns
// ErrExtraction and the pipeline falls back to the offline mapper. All
// non-determinism of the system is confined to this component.
type IntentExtractor struct {
	registry  *domain.Registry
	completer ChatCompleter
	logger    *slog.Logger
}

// NewIntentExtractor creates an extractor over the given registry and model
// boundary.
func NewIntentExtractor(registry *domain.Registry, completer ChatCompleter, logger *slog.Logger) *IntentExtractor {
	return &IntentExtractor{
		registry:  registry,
		completer: completer,
		logger:    logger.With("component", "intent_extractor"),
	}
}

// extractorOutput is the structured shape the model is asked to produce.
type extractorOutput struct {
	Endpoint string            `json:"endpoint"`
	Params   map[string]string `json:"params"`
}

// Produce implements IntentProducer via one model call.
func (e *IntentExtractor) Produce(ctx context.Context, query string) (domain.Intent, domain.ExtractedParams, error) {
	raw, err := e.completer.Complete(ctx, e.systemPrompt(), e.userPrompt(query))
	if err != nil {
		e.logger.Warn("Model call failed", slog.Any("error", err))
		return domain.Intent{}, domain.ExtractedParams{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	out, err := parseExtractorOutput(raw)
	if err != nil {
		e.logger.Warn("Malformed model output", slog.Any("error", err))
		return domain.Intent{}, domain.ExtractedParams{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if _, err := e.registry.Lookup(out.Endpoint); err != nil {
		e.logger.Warn("Model named an endpoint not in registry", slog.String("endpoint", out.Endpoint))
		return domain.Intent{}, domain.ExtractedParams{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	intent := domain.Intent{Query: query, Endpoint: out.Endpoint, Score: 1}
	params := domain.NewExtractedParams(domain.SourceModel)
	for k, v := range out.Params {
		if v != "" {
			params.Values[k] = v
		}
	}
	e.logger.Debug("Extracted intent", slog.String("endpoint", out.Endpoint), slog.Int("params", len(params.Values)))
	return intent, params, nil
}

// parseExtractorOutput decodes the model reply, tolerating a markdown code
// fence around the JSON but nothing else.
func parseExtractorOutput(raw string) (extractorOutput, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	var out extractorOutput
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return extractorOutput{}, fmt.Errorf("output is not valid JSON: %v", err)
	}
	if out.Endpoint == "" {
		return extractorOutput{}, fmt.Errorf("output missing endpoint field")
	}
	return out, nil
}

// systemPrompt describes the task and the full endpoint catalog, so a new
// registry entry is immediately visible to the model without code changes.
func (e *IntentExtractor) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You map a trading question to exactly one API endpoint.\n")
	b.WriteString("Reply with JSON only: {\"endpoint\": \"<id>\", \"params\": {\"<name>\": \"<value>\"}}.\n")
	b.WriteString("Known endpoints:\n")
	for _, spec := range e.registry.Specs() {
		fmt.Fprintf(&b, "- %s: %s %s", spec.ID, spec.Method, spec.Path)
		if spec.Description != "" {
			fmt.Fprintf(&b, " (%s)", spec.Description)
		}
		if req := spec.RequiredParams(); len(req) > 0 {
			fmt.Fprintf(&b, " (required: %s)", strings.Join(req, ", "))
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nExamples:\n")
	for _, ex := range fewShotExamples {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", ex.question, ex.answer)
	}
	return b.String()
}

func (e *IntentExtractor) userPrompt(query string) string {
	return fmt.Sprintf("Q: %s\nA:", query)
}

// fewShotExamples anchor the output format. Endpoint IDs here must stay in
// sync with the default catalog.
var fewShotExamples = []struct {
	question string
	answer   string
}{
	{
		question: "Какая цена Сбербанка?",
		answer:   `{"endpoint": "quote.latest", "params": {"symbol": "SBER@MISX"}}`,
	},
	{
		question: "Покажи мои ордера по счету ACC-001-A",
		answer:   `{"endpoint": "orders.list", "params": {"account_id": "ACC-001-A"}}`,
	},
	{
		question: "Отмени заявку ORD123 на счете ACC-001-A",
		answer:   `{"endpoint": "orders.cancel", "params": {"account_id": "ACC-001-A", "order_id": "ORD123"}}`,
	},
}
