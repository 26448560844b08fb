package usecase

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aeshef/finam-ai-chat/internal/domain"
)

// OfflineMapper is the deterministic, rule/lookup-based NL to endpoint
// resolver. It requires no external model call: the output is a pure
// function of the query text and the registry contents, which makes it both
// the fallback for the LLM path and the scoring baseline.
type OfflineMapper struct {
	registry *domain.Registry
	aliases  []aliasEntry // lower-cased company name -> ticker, longest first
	logger   *slog.Logger
	now      func() time.Time
}

type aliasEntry struct {
	name   string
	ticker string
}

// NewOfflineMapper builds a mapper over the given registry. Aliases map
// lower-cased company names (any language) to plain tickers; they are
// matched as substrings of the query, longest name first.
func NewOfflineMapper(registry *domain.Registry, aliases map[string]string, logger *slog.Logger) *OfflineMapper {
	entries := make([]aliasEntry, 0, len(aliases))
	for name, ticker := range aliases {
		entries = append(entries, aliasEntry{name: strings.ToLower(name), ticker: ticker})
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].name) != len(entries[j].name) {
			return len(entries[i].name) > len(entries[j].name)
		}
		return entries[i].name < entries[j].name
	})
	return &OfflineMapper{
		registry: registry,
		aliases:  entries,
		logger:   logger.With("component", "offline_mapper"),
		now:      time.Now,
	}
}

// Produce implements IntentProducer. It never returns an error: a query that
// matches no rule yields an unresolved Intent so the pipeline can surface a
// "could not understand" outcome instead of failing.
func (m *OfflineMapper) Produce(_ context.Context, query string) (domain.Intent, domain.ExtractedParams, error) {
	intent, params := m.MapAndExtract(query)
	return intent, params, nil
}

// Map scores every registry endpoint against the query and returns the best
// candidate. Scoring: synonym hit = 2, keyword hit = 1, plus boosts when the
// query carries a slot value the endpoint needs (symbol, account, order id)
// and when cancellation wording lines up with a DELETE endpoint. Ties go to
// the endpoint binding more parameters, then to declaration order.
func (m *OfflineMapper) Map(query string) domain.Intent {
	q := strings.ToLower(query)

	_, hasSym := m.findSymbol(query)
	_, hasAccount := InferAccountID(query)
	_, hasOrder := InferOrderID(query)
	wantsCancel := strings.Contains(q, "отмен") || strings.HasPrefix(strings.TrimSpace(q), "delete")

	best := domain.Intent{Query: query}
	bestScore, bestBound := 0, 0
	for _, spec := range m.registry.Specs() {
		score := 0
		for _, s := range spec.Synonyms {
			if s != "" && strings.Contains(q, strings.ToLower(s)) {
				score += 2
			}
		}
		for _, k := range spec.Keywords {
			if k != "" && strings.Contains(q, strings.ToLower(k)) {
				score++
			}
		}
		bound := 0
		if hasSym && specNeeds(spec, domain.ParamSymbol) {
			score++
			bound++
		}
		if hasAccount && specNeeds(spec, domain.ParamAccountID) {
			score++
			bound++
		}
		if hasOrder && specNeeds(spec, domain.ParamOrderID) {
			score += 2
			bound++
		}
		if wantsCancel && spec.Method == "DELETE" {
			score += 2
		}
		if score > bestScore || (score == bestScore && score > 0 && bound > bestBound) {
			bestScore, bestBound = score, bound
			best.Endpoint = spec.ID
			best.Score = float64(score)
		}
	}
	if best.Unresolved() {
		m.logger.Debug("No rule matched query", slog.String("query", query))
	}
	return best
}

// MapAndExtract runs scoring and slot extraction in one pass, which is how
// the pipeline consumes the mapper.
func (m *OfflineMapper) MapAndExtract(query string) (domain.Intent, domain.ExtractedParams) {
	return m.Map(query), m.extract(query)
}

// extract pulls every recognizable slot value out of the query. Which slots
// actually matter is the Resolver's decision; extraction is endpoint-blind.
func (m *OfflineMapper) extract(query string) domain.ExtractedParams {
	params := domain.NewExtractedParams(domain.SourceRule)
	q := strings.ToLower(query)

	if sym, ok := m.findSymbol(query); ok {
		params.Values["symbol"] = sym
	}
	if acc, ok := InferAccountID(query); ok {
		params.Values["account_id"] = acc
	}
	if ord, ok := InferOrderID(query); ok {
		params.Values["order_id"] = ord
	}
	// Short codes like "1h" or "d" are too ambiguous inside free text, so
	// query extraction only accepts cues of three runes or more.
	if tf, ok := matchTimeframe(q, 3); ok {
		params.Values["timeframe"] = tf
	}
	if start, end, ok := ParseDateRange(query, m.now()); ok {
		params.Values["interval.start_time"] = start
		params.Values["interval.end_time"] = end
	}
	switch {
	case strings.Contains(q, "купи") || strings.Contains(q, "покупк") || strings.Contains(q, "buy"):
		params.Values["side"] = "buy"
	case strings.Contains(q, "прода") || strings.Contains(q, "sell"):
		params.Values["side"] = "sell"
	}
	if qty := quantityPattern.FindString(query); qty != "" {
		params.Values["quantity"] = qty
	}
	return params
}

var quantityPattern = regexp.MustCompile(`\b\d{1,6}\b`)

// findSymbol tries an explicit ticker token first, then company-name aliases.
func (m *OfflineMapper) findSymbol(query string) (string, bool) {
	if sym, ok := InferSymbol(query); ok {
		return sym, true
	}
	low := strings.ToLower(query)
	for _, a := range m.aliases {
		if strings.Contains(low, a.name) {
			return NormalizeSymbol(a.ticker), true
		}
	}
	return "", false
}

func specNeeds(spec domain.EndpointSpec, t domain.ParamType) bool {
	for _, name := range spec.Placeholders() {
		if p, ok := spec.Param(name); ok && p.Type == t {
			return true
		}
	}
	for _, p := range spec.Params {
		if p.Type == t {
			return true
		}
	}
	return false
}
