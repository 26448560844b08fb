package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/aeshef/finam-ai-chat/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// ImportOpenAPI converts an OpenAPI 3 document into catalog entries. Only
// GET, POST and DELETE operations are imported; everything else is skipped
// with a warning. Policy tags and parameter types are inferred from the
// operation shape, so the output usually needs a human pass before it is
// promoted into the live catalog.
func ImportOpenAPI(ctx context.Context, data []byte, version string, logger *slog.Logger) (*domain.Registry, error) {
	log := logger.With("component", "catalog_import")

	loader := &openapi3.Loader{Context: ctx, IsExternalRefsAllowed: true}
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("parsing OpenAPI document: %w", err)
	}

	var specs []domain.EndpointSpec
	skipped := 0
	for path, pathItem := range doc.Paths.Map() {
		if pathItem == nil {
			continue
		}
		for method, operation := range pathItem.Operations() {
			if operation == nil {
				continue
			}
			if method != "GET" && method != "POST" && method != "DELETE" {
				log.Warn("skipping unsupported method", slog.String("method", method), slog.String("path", path))
				skipped++
				continue
			}

			spec := domain.EndpointSpec{
				ID:          operationID(operation, method, path),
				Method:      method,
				Path:        path,
				Description: operationDescription(operation, method, path),
				Mutating:    method != "GET",
				Policy:      inferPolicy(method, path),
			}
			spec.Params = importParams(path, operation)
			specs = append(specs, spec)
		}
	}

	log.Info("imported OpenAPI operations",
		slog.Int("imported", len(specs)),
		slog.Int("skipped", skipped))

	reg, err := domain.NewRegistry(version, specs)
	if err != nil {
		return nil, fmt.Errorf("building registry from OpenAPI import: %w", err)
	}
	return reg, nil
}

func operationID(op *openapi3.Operation, method, path string) string {
	if op.OperationID != "" {
		return op.OperationID
	}
	// Derive something stable from the route: "/v1/accounts/{account_id}/orders" -> "accounts.orders".
	segs := placeholderRe.ReplaceAllString(path, "")
	segs = strings.Trim(segs, "/")
	parts := strings.FieldsFunc(segs, func(r rune) bool { return r == '/' })
	filtered := parts[:0]
	for _, p := range parts {
		if p == "" || strings.HasPrefix(p, "v") && len(p) <= 3 {
			continue
		}
		filtered = append(filtered, p)
	}
	id := strings.Join(filtered, ".")
	if method == "DELETE" {
		id += ".cancel"
	} else if method == "POST" {
		id += ".create"
	}
	return id
}

func operationDescription(op *openapi3.Operation, method, path string) string {
	if op.Description != "" {
		return op.Description
	}
	if op.Summary != "" {
		return op.Summary
	}
	return fmt.Sprintf("%s %s", method, path)
}

// inferPolicy guesses a policy tag from the operation shape. GET is always a
// read; DELETE on an order route is a cancel; POST near orders is an order
// placement, anything else mutates account state.
func inferPolicy(method, path string) domain.PolicyTag {
	switch method {
	case "GET":
		return domain.PolicyRead
	case "DELETE":
		return domain.PolicyCancelOrder
	default:
		if strings.Contains(path, "/orders") {
			return domain.PolicyPlaceOrder
		}
		return domain.PolicyModifyAccount
	}
}

func importParams(path string, op *openapi3.Operation) []domain.ParamSpec {
	var params []domain.ParamSpec
	seen := map[string]bool{}

	for _, ref := range op.Parameters {
		p := ref.Value
		if p == nil {
			continue
		}
		if p.In != openapi3.ParameterInPath && p.In != openapi3.ParameterInQuery {
			continue
		}
		params = append(params, domain.ParamSpec{
			Name:     p.Name,
			Type:     inferParamType(p.Name),
			Required: p.Required || p.In == openapi3.ParameterInPath,
		})
		seen[p.Name] = true
	}

	// Path placeholders not declared in the parameter list still have to be
	// fillable, otherwise the route can never resolve.
	for _, m := range placeholderRe.FindAllStringSubmatch(path, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		params = append(params, domain.ParamSpec{
			Name:     name,
			Type:     inferParamType(name),
			Required: true,
		})
	}
	return params
}

func inferParamType(name string) domain.ParamType {
	n := strings.ToLower(name)
	switch {
	case n == "symbol" || strings.HasSuffix(n, "_symbol"):
		return domain.ParamSymbol
	case n == "account_id" || n == "accountid":
		return domain.ParamAccountID
	case n == "order_id" || n == "orderid":
		return domain.ParamOrderID
	case n == "timeframe":
		return domain.ParamTimeframe
	case n == "quantity" || n == "qty":
		return domain.ParamQuantity
	case n == "side":
		return domain.ParamSide
	case strings.Contains(n, "time") || strings.Contains(n, "date"):
		return domain.ParamDate
	default:
		return domain.ParamString
	}
}
