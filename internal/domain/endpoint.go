package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// PolicyTag classifies an endpoint for safety policy purposes.
type PolicyTag string

const (
	PolicyRead          PolicyTag = "read"
	PolicyPlaceOrder    PolicyTag = "place-order"
	PolicyCancelOrder   PolicyTag = "cancel-order"
	PolicyModifyAccount PolicyTag = "modify-account"
	PolicyCloseAccount  PolicyTag = "close-account"
)

// KnownPolicyTags lists every tag the registry accepts. A catalog entry with
// any other tag fails the whole load.
var KnownPolicyTags = map[PolicyTag]struct{}{
	PolicyRead:          {},
	PolicyPlaceOrder:    {},
	PolicyCancelOrder:   {},
	PolicyModifyAccount: {},
	PolicyCloseAccount:  {},
}

// ParamType is the semantic type of an endpoint parameter. The Resolver uses
// it to pick the right normalization and validation for extracted values.
type ParamType string

const (
	ParamSymbol    ParamType = "symbol"
	ParamAccountID ParamType = "account_id"
	ParamOrderID   ParamType = "order_id"
	ParamDate      ParamType = "date"
	ParamTimeframe ParamType = "timeframe"
	ParamQuantity  ParamType = "quantity"
	ParamSide      ParamType = "side"
	ParamString    ParamType = "string"
)

// ParamSpec describes one named parameter of an endpoint. Default, when
// non-empty, is substituted by the Resolver for an absent value; besides
// literals it accepts the relative forms "now" and "now-<N>d".
type ParamSpec struct {
	Name     string    `yaml:"name"`
	Type     ParamType `yaml:"type"`
	Required bool      `yaml:"required"`
	Default  string    `yaml:"default"`
}

// EndpointSpec is one entry of the endpoint catalog: a single capability of
// the trading backend, identified by its canonical ID. The registry is the
// only writer; specs are treated as values everywhere else.
type EndpointSpec struct {
	ID          string      `yaml:"id"`
	Method      string      `yaml:"method"`
	Path        string      `yaml:"path"` // template with {name} placeholders
	Params      []ParamSpec `yaml:"params"`
	Mutating    bool        `yaml:"mutating"`
	Policy      PolicyTag   `yaml:"policy"`
	Description string      `yaml:"description"`

	// Synonyms and Keywords drive the offline mapper. Synonyms are strong
	// triggers (weighted double), keywords weak ones.
	Synonyms []string `yaml:"synonyms"`
	Keywords []string `yaml:"keywords"`
}

// Placeholders returns the placeholder names of the path template in order
// of appearance.
func (s EndpointSpec) Placeholders() []string {
	var names []string
	rest := s.Path
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			return names
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return names
		}
		names = append(names, rest[open+1:open+end])
		rest = rest[open+end+1:]
	}
}

// RequiredParams returns the names of all parameters that must be bound
// before the endpoint can be resolved. Path placeholders are always required.
func (s EndpointSpec) RequiredParams() []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(n string) {
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	for _, ph := range s.Placeholders() {
		add(ph)
	}
	for _, p := range s.Params {
		if p.Required {
			add(p.Name)
		}
	}
	return names
}

// Param returns the spec for the named parameter. Path placeholders without
// an explicit entry default to a required string parameter.
func (s EndpointSpec) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	for _, ph := range s.Placeholders() {
		if ph == name {
			return ParamSpec{Name: name, Type: ParamString, Required: true}, true
		}
	}
	return ParamSpec{}, false
}

// LoadError reports a malformed endpoint catalog. Loading is fail-fast: a
// single bad entry aborts the whole load rather than producing a partial
// registry.
type LoadError struct {
	Entry  string
	Reason string
}

func (e *LoadError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("endpoint catalog: %s", e.Reason)
	}
	return fmt.Sprintf("endpoint catalog entry %q: %s", e.Entry, e.Reason)
}

// Registry is the immutable, versioned catalog of every supported endpoint.
// It is safe for concurrent use without locking; reloading means building a
// new Registry and swapping the shared handle atomically.
type Registry struct {
	version  string
	specs    []EndpointSpec
	byID     map[string]EndpointSpec
	patterns []*regexp.Regexp // parallel to specs, for Classify
}

// NewRegistry validates the given specs and builds a registry. It returns a
// *LoadError on duplicate IDs, duplicate (method, path) pairs, missing
// required fields or unknown policy tags.
func NewRegistry(version string, specs []EndpointSpec) (*Registry, error) {
	r := &Registry{
		version: version,
		specs:   make([]EndpointSpec, 0, len(specs)),
		byID:    make(map[string]EndpointSpec, len(specs)),
	}
	routes := make(map[string]string, len(specs))
	for _, s := range specs {
		if s.ID == "" {
			return nil, &LoadError{Entry: s.Path, Reason: "missing id"}
		}
		if s.Path == "" || !strings.HasPrefix(s.Path, "/") {
			return nil, &LoadError{Entry: s.ID, Reason: "missing or relative path"}
		}
		switch s.Method {
		case "GET", "POST", "DELETE":
		default:
			return nil, &LoadError{Entry: s.ID, Reason: fmt.Sprintf("unsupported method %q", s.Method)}
		}
		if s.Policy == "" {
			return nil, &LoadError{Entry: s.ID, Reason: "missing policy tag"}
		}
		if _, ok := KnownPolicyTags[s.Policy]; !ok {
			return nil, &LoadError{Entry: s.ID, Reason: fmt.Sprintf("unknown policy tag %q", s.Policy)}
		}
		if s.Mutating && s.Policy == PolicyRead {
			return nil, &LoadError{Entry: s.ID, Reason: "mutating endpoint tagged read"}
		}
		if _, dup := r.byID[s.ID]; dup {
			return nil, &LoadError{Entry: s.ID, Reason: "duplicate id"}
		}
		route := s.Method + " " + s.Path
		if prev, dup := routes[route]; dup {
			return nil, &LoadError{Entry: s.ID, Reason: fmt.Sprintf("duplicate route %s (already declared by %s)", route, prev)}
		}
		routes[route] = s.ID
		pat, err := templatePattern(s.Path)
		if err != nil {
			return nil, &LoadError{Entry: s.ID, Reason: err.Error()}
		}
		r.byID[s.ID] = s
		r.specs = append(r.specs, s)
		r.patterns = append(r.patterns, pat)
	}
	return r, nil
}

// Version reports the catalog version the registry was built from.
func (r *Registry) Version() string { return r.version }

// Specs returns all endpoint specs in declaration order. The mapper relies
// on this order to break scoring ties.
func (r *Registry) Specs() []EndpointSpec {
	out := make([]EndpointSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Lookup returns the spec with the given canonical ID.
func (r *Registry) Lookup(id string) (EndpointSpec, error) {
	s, ok := r.byID[id]
	if !ok {
		return EndpointSpec{}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, id)
	}
	return s, nil
}

// Classify reverse-matches a concrete path (query string ignored) back to
// its endpoint spec. Used for audit and for validating untrusted model
// output that arrives as a raw path.
func (r *Registry) Classify(path string) (EndpointSpec, bool) {
	for i, pat := range r.patterns {
		if pat.MatchString(path) {
			return r.specs[i], true
		}
	}
	return EndpointSpec{}, false
}

// templatePattern converts a path template into a regexp matching concrete
// paths: each placeholder matches exactly one path segment, and a trailing
// query string is tolerated.
func templatePattern(template string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(regexp.QuoteMeta(rest))
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, fmt.Errorf("unterminated placeholder in template %q", template)
		}
		b.WriteString(regexp.QuoteMeta(rest[:open]))
		b.WriteString(`[^/?]+`)
		rest = rest[open+end+1:]
	}
	b.WriteString(`(?:\?.*)?$`)
	return regexp.Compile(b.String())
}
