package catalog

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeshef/finam-ai-chat/internal/domain"
)

const sampleOpenAPI = `
openapi: 3.0.0
info:
  title: Trade API
  version: "1.0"
paths:
  /v1/instruments/{symbol}/quotes/latest:
    get:
      operationId: quote.latest
      summary: Latest quote
      parameters:
        - name: symbol
          in: path
          required: true
          schema:
            type: string
      responses:
        "200":
          description: OK
  /v1/accounts/{account_id}/orders:
    post:
      operationId: orders.place
      description: Place a new order
      responses:
        "200":
          description: OK
    put:
      operationId: orders.replace
      responses:
        "200":
          description: OK
  /v1/accounts/{account_id}/orders/{order_id}:
    delete:
      operationId: orders.cancel
      responses:
        "200":
          description: OK
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestImportOpenAPI(t *testing.T) {
	reg, err := ImportOpenAPI(context.Background(), []byte(sampleOpenAPI), "imported", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "imported", reg.Version())

	// PUT is not a supported method and must be skipped, not fail the load.
	assert.Len(t, reg.Specs(), 3)

	quote, err := reg.Lookup("quote.latest")
	require.NoError(t, err)
	assert.Equal(t, "GET", quote.Method)
	assert.False(t, quote.Mutating)
	assert.Equal(t, domain.PolicyRead, quote.Policy)
	assert.Equal(t, "Latest quote", quote.Description)
	p, ok := quote.Param("symbol")
	require.True(t, ok)
	assert.Equal(t, domain.ParamSymbol, p.Type)
	assert.True(t, p.Required)

	place, err := reg.Lookup("orders.place")
	require.NoError(t, err)
	assert.True(t, place.Mutating)
	assert.Equal(t, domain.PolicyPlaceOrder, place.Policy)
	// Path placeholder not declared as an OpenAPI parameter is still
	// imported as a required param.
	p, ok = place.Param("account_id")
	require.True(t, ok)
	assert.Equal(t, domain.ParamAccountID, p.Type)
	assert.True(t, p.Required)

	cancel, err := reg.Lookup("orders.cancel")
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyCancelOrder, cancel.Policy)
	assert.True(t, cancel.Mutating)
	_, ok = cancel.Param("order_id")
	assert.True(t, ok)
}

func TestImportOpenAPI_BadDocument(t *testing.T) {
	_, err := ImportOpenAPI(context.Background(), []byte("not: [valid"), "v", testLogger())
	assert.Error(t, err)
}

func TestInferParamType(t *testing.T) {
	tests := []struct {
		name string
		want domain.ParamType
	}{
		{"symbol", domain.ParamSymbol},
		{"account_id", domain.ParamAccountID},
		{"order_id", domain.ParamOrderID},
		{"timeframe", domain.ParamTimeframe},
		{"quantity", domain.ParamQuantity},
		{"side", domain.ParamSide},
		{"interval.start_time", domain.ParamDate},
		{"trade_date", domain.ParamDate},
		{"comment", domain.ParamString},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, inferParamType(tc.name), tc.name)
	}
}
