package usecase

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aeshef/finam-ai-chat/internal/domain"
)

// DefaultScoreThreshold is the minimum offline-mapper score accepted without
// disambiguation. One synonym hit scores 2, so anything below means the
// query only brushed against the endpoint.
const DefaultScoreThreshold = 2

// Resolver binds an Intent plus extracted parameters to a concrete, fully
// substituted request. It owns normalization and validation: whatever shape
// the mapper or the model produced, what leaves the Resolver satisfies the
// endpoint's parameter spec or an error says why not.
type Resolver struct {
	registry  *domain.Registry
	threshold float64
	logger    *slog.Logger
	now       func() time.Time
}

// NewResolver creates a Resolver with the given confidence threshold for
// rule-derived intents (model-derived ones are pre-validated against the
// registry by the extractor).
func NewResolver(registry *domain.Registry, threshold float64, logger *slog.Logger) *Resolver {
	if threshold <= 0 {
		threshold = DefaultScoreThreshold
	}
	return &Resolver{
		registry:  registry,
		threshold: threshold,
		logger:    logger.With("component", "resolver"),
		now:       time.Now,
	}
}

// Resolve produces a ResolvedRequest or one of ErrAmbiguousEndpoint,
// ErrMissingParameter, ErrInvalidParameter, domain.ErrUnknownEndpoint.
// Guarantee: a returned path has every placeholder substituted; no partial
// path ever leaves this function.
func (r *Resolver) Resolve(intent domain.Intent, extracted domain.ExtractedParams) (domain.ResolvedRequest, error) {
	if intent.Unresolved() {
		return domain.ResolvedRequest{}, fmt.Errorf("%w: no endpoint candidate for query", ErrAmbiguousEndpoint)
	}
	if extracted.Source == domain.SourceRule && intent.Score < r.threshold {
		return domain.ResolvedRequest{}, fmt.Errorf("%w: score %.0f below threshold %.0f", ErrAmbiguousEndpoint, intent.Score, r.threshold)
	}
	spec, err := r.registry.Lookup(intent.Endpoint)
	if err != nil {
		return domain.ResolvedRequest{}, err
	}

	values, err := r.normalize(spec, extracted.Values)
	if err != nil {
		return domain.ResolvedRequest{}, err
	}
	for _, name := range spec.RequiredParams() {
		if values[name] == "" {
			return domain.ResolvedRequest{}, fmt.Errorf("%w: %s", ErrMissingParameter, name)
		}
	}

	path := spec.Path
	inPath := make(map[string]struct{})
	for _, ph := range spec.Placeholders() {
		path = strings.ReplaceAll(path, "{"+ph+"}", values[ph])
		inPath[ph] = struct{}{}
	}
	if spec.Method == "GET" {
		path += queryString(spec, values, inPath)
	}

	r.logger.Debug("Resolved request",
		slog.String("endpoint", spec.ID),
		slog.String("method", spec.Method),
		slog.String("path", path))
	return domain.ResolvedRequest{
		Method:   spec.Method,
		Path:     path,
		Params:   values,
		Endpoint: spec,
	}, nil
}

// normalize validates and canonicalizes every value the endpoint declares,
// applying catalog defaults for absent ones. Extracted values the endpoint
// does not declare are dropped.
func (r *Resolver) normalize(spec domain.EndpointSpec, raw map[string]string) (map[string]string, error) {
	now := r.now()
	values := make(map[string]string)

	names := make(map[string]struct{})
	for _, p := range spec.Params {
		names[p.Name] = struct{}{}
	}
	for _, ph := range spec.Placeholders() {
		names[ph] = struct{}{}
	}

	for name := range names {
		p, _ := spec.Param(name)
		v, ok := raw[name]
		if !ok || v == "" {
			if p.Default == "" {
				continue
			}
			v = p.Default
		}
		norm, err := normalizeValue(p.Type, v, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameter, name, err)
		}
		// A requested end bound in the future is clamped to now; the
		// backend rejects future intervals.
		if p.Type == domain.ParamDate && strings.Contains(name, "end") {
			if nowISO := now.UTC().Format(isoLayout); norm > nowISO {
				norm = nowISO
			}
		}
		values[name] = norm
	}
	return values, nil
}

func normalizeValue(t domain.ParamType, v string, now time.Time) (string, error) {
	switch t {
	case domain.ParamSymbol:
		sym := NormalizeSymbol(v)
		if !ValidSymbol(sym) {
			return "", fmt.Errorf("malformed symbol %q", v)
		}
		return sym, nil
	case domain.ParamDate:
		return NormalizeDate(v, now)
	case domain.ParamTimeframe:
		return NormalizeTimeframe(v), nil
	case domain.ParamQuantity:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return "", fmt.Errorf("quantity must be a positive integer, got %q", v)
		}
		return strconv.Itoa(n), nil
	case domain.ParamSide:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "buy", "купить", "купи", "покупка":
			return "buy", nil
		case "sell", "продать", "продай", "продажа":
			return "sell", nil
		}
		return "", fmt.Errorf("unknown side %q", v)
	case domain.ParamOrderID:
		s := strings.ToUpper(strings.TrimSpace(v))
		if s == "" {
			return "", fmt.Errorf("empty order id")
		}
		return s, nil
	case domain.ParamAccountID:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", fmt.Errorf("empty account id")
		}
		return s, nil
	default:
		return strings.TrimSpace(v), nil
	}
}

// queryString renders non-placeholder parameters as an inline query string
// in sorted key order, so equal requests render byte-identical paths (the
// cache and the scorer both depend on that).
func queryString(spec domain.EndpointSpec, values map[string]string, inPath map[string]struct{}) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if _, ok := inPath[k]; ok {
			continue
		}
		if values[k] == "" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		// Values are written verbatim: the reference pairs used for
		// scoring carry unescaped ISO timestamps in the query.
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values[k])
	}
	return b.String()
}
