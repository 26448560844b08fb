package usecase

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aeshef/finam-ai-chat/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testAliases = map[string]string{
	"сбер":      "SBER",
	"сбербанк":  "SBER",
	"сбербанка": "SBER",
	"газпром":   "GAZP",
	"газпрома":  "GAZP",
	"лукойл":    "LKOH",
}

// testRegistry mirrors the production catalog closely enough to exercise
// every resolution path: reads with and without parameters, defaults, and
// both mutating endpoints.
func testRegistry(t *testing.T) *domain.Registry {
	t.Helper()
	reg, err := domain.NewRegistry("test", []domain.EndpointSpec{
		{
			ID:          "quote.latest",
			Method:      "GET",
			Path:        "/v1/instruments/{symbol}/quotes/latest",
			Policy:      domain.PolicyRead,
			Description: "Latest quote for an instrument",
			Synonyms:    []string{"цена", "котировка", "quote"},
			Keywords:    []string{"сейчас", "текущая"},
			Params:      []domain.ParamSpec{{Name: "symbol", Type: domain.ParamSymbol, Required: true}},
		},
		{
			ID:       "orderbook",
			Method:   "GET",
			Path:     "/v1/instruments/{symbol}/orderbook",
			Policy:   domain.PolicyRead,
			Synonyms: []string{"стакан", "orderbook"},
			Params:   []domain.ParamSpec{{Name: "symbol", Type: domain.ParamSymbol, Required: true}},
		},
		{
			ID:       "bars",
			Method:   "GET",
			Path:     "/v1/instruments/{symbol}/bars",
			Policy:   domain.PolicyRead,
			Synonyms: []string{"свечи", "бары", "график"},
			Keywords: []string{"динамика", "за период"},
			Params: []domain.ParamSpec{
				{Name: "symbol", Type: domain.ParamSymbol, Required: true},
				{Name: "timeframe", Type: domain.ParamTimeframe, Required: true, Default: "TIME_FRAME_D"},
				{Name: "interval.start_time", Type: domain.ParamDate, Required: true, Default: "now-7d"},
				{Name: "interval.end_time", Type: domain.ParamDate, Required: true, Default: "now"},
			},
		},
		{
			ID:       "orders.list",
			Method:   "GET",
			Path:     "/v1/accounts/{account_id}/orders",
			Policy:   domain.PolicyRead,
			Synonyms: []string{"мои заявки", "список заявок", "мои ордера"},
			Params:   []domain.ParamSpec{{Name: "account_id", Type: domain.ParamAccountID, Required: true, Default: "ACC-001"}},
		},
		{
			ID:          "orders.place",
			Method:      "POST",
			Path:        "/v1/accounts/{account_id}/orders",
			Mutating:    true,
			Policy:      domain.PolicyPlaceOrder,
			Description: "Place a new order",
			Synonyms:    []string{"купи", "продай", "выстави заявку", "buy", "sell"},
			Keywords:    []string{"акций", "лотов"},
			Params: []domain.ParamSpec{
				{Name: "account_id", Type: domain.ParamAccountID, Required: true, Default: "ACC-001"},
				{Name: "symbol", Type: domain.ParamSymbol, Required: true},
				{Name: "quantity", Type: domain.ParamQuantity, Required: true},
				{Name: "side", Type: domain.ParamSide, Required: true},
			},
		},
		{
			ID:          "orders.cancel",
			Method:      "DELETE",
			Path:        "/v1/accounts/{account_id}/orders/{order_id}",
			Mutating:    true,
			Policy:      domain.PolicyCancelOrder,
			Description: "Cancel an active order",
			Synonyms:    []string{"отмени", "отменить", "сними заявку", "cancel"},
			Params: []domain.ParamSpec{
				{Name: "account_id", Type: domain.ParamAccountID, Required: true, Default: "ACC-001"},
				{Name: "order_id", Type: domain.ParamOrderID, Required: true},
			},
		},
	})
	require.NoError(t, err)
	return reg
}

func testMapper(t *testing.T) *OfflineMapper {
	t.Helper()
	m := NewOfflineMapper(testRegistry(t), testAliases, testLogger())
	m.now = func() time.Time { return testNow }
	return m
}
