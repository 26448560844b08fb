package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

// ErrUnknownEndpoint is returned by Registry.Lookup for an ID that is not in
// the catalog.
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// ParamSource records which stage produced an extracted value.
type ParamSource string

const (
	SourceRule  ParamSource = "rule"  // deterministic offline mapper
	SourceModel ParamSource = "model" // LLM-backed extractor
)

// Intent is a candidate mapping of a natural-language query to a registry
// endpoint. It is produced by the offline mapper or the LLM extractor and is
// never mutated after creation. A zero Endpoint marks an unresolved intent.
type Intent struct {
	Query    string
	Endpoint string // canonical EndpointSpec ID, "" when unresolved
	Score    float64
}

// Unresolved reports whether no endpoint could be mapped for the query.
func (in Intent) Unresolved() bool { return in.Endpoint == "" }

// ExtractedParams holds raw parameter values pulled out of the query text,
// keyed by parameter name. Values are unnormalized; the Resolver owns
// normalization and validation.
type ExtractedParams struct {
	Values map[string]string
	Source ParamSource
}

// NewExtractedParams returns an empty parameter set from the given source.
func NewExtractedParams(source ParamSource) ExtractedParams {
	return ExtractedParams{Values: make(map[string]string), Source: source}
}

// ResolvedRequest is a fully bound, executable API call: concrete method and
// path with every placeholder substituted, plus the normalized parameter
// values that produced it. It is immutable once constructed and is the unit
// that gets confirmed, cached, audited and scored.
type ResolvedRequest struct {
	Method   string            `json:"method"`
	Path     string            `json:"path"` // concrete, may carry an inline query string
	Params   map[string]string `json:"params,omitempty"`
	Endpoint EndpointSpec      `json:"-"` // originating registry entry
}

// CacheKey identifies the request for read caching.
func (r ResolvedRequest) CacheKey() string {
	return r.Method + " " + r.Path
}

// ContentHash returns a hex SHA-256 over the method, path and sorted
// normalized params. Confirmation tokens bind to this hash, so any change to
// the request after a card is issued invalidates the token.
func (r ResolvedRequest) ContentHash() string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('|')
	b.WriteString(r.Path)
	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.Params[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
