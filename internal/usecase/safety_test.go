package usecase

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeshef/finam-ai-chat/internal/domain"
)

// recordingAudit captures records for assertions.
type recordingAudit struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (a *recordingAudit) Record(rec AuditRecord) {
	a.mu.Lock()
	a.records = append(a.records, rec)
	a.mu.Unlock()
}

func (a *recordingAudit) decisions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.records))
	for i, r := range a.records {
		out[i] = r.Decision
	}
	return out
}

func testGate(t *testing.T, audit AuditSink) *SafetyGate {
	t.Helper()
	if audit == nil {
		audit = NopAudit{}
	}
	g := NewSafetyGate(DefaultSafetyPolicy(), audit, testLogger())
	g.now = func() time.Time { return testNow }
	return g
}

func readRequest() domain.ResolvedRequest {
	return domain.ResolvedRequest{
		Method: "GET",
		Path:   "/v1/instruments/SBER@MISX/quotes/latest",
		Params: map[string]string{"symbol": "SBER@MISX"},
		Endpoint: domain.EndpointSpec{
			ID:     "quote.latest",
			Method: "GET",
			Path:   "/v1/instruments/{symbol}/quotes/latest",
			Policy: domain.PolicyRead,
			Params: []domain.ParamSpec{{Name: "symbol", Type: domain.ParamSymbol, Required: true}},
		},
	}
}

func orderRequest() domain.ResolvedRequest {
	return domain.ResolvedRequest{
		Method: "POST",
		Path:   "/v1/accounts/ACC-001/orders",
		Params: map[string]string{
			"account_id": "ACC-001",
			"symbol":     "GAZP@MISX",
			"quantity":   "10",
			"side":       "buy",
		},
		Endpoint: domain.EndpointSpec{
			ID:          "orders.place",
			Method:      "POST",
			Path:        "/v1/accounts/{account_id}/orders",
			Mutating:    true,
			Policy:      domain.PolicyPlaceOrder,
			Description: "Place a new order",
			Params: []domain.ParamSpec{
				{Name: "account_id", Type: domain.ParamAccountID, Required: true},
				{Name: "symbol", Type: domain.ParamSymbol, Required: true},
				{Name: "quantity", Type: domain.ParamQuantity, Required: true},
				{Name: "side", Type: domain.ParamSide, Required: true},
			},
		},
	}
}

func TestSafetyGate_AllowsReads(t *testing.T) {
	g := testGate(t, nil)
	d := g.Check(readRequest())
	assert.Equal(t, DecisionAllow, d.Kind)
	assert.Nil(t, d.Card)
}

func TestSafetyGate_ClassifyIsSideEffectFree(t *testing.T) {
	audit := &recordingAudit{}
	g := testGate(t, audit)

	d := g.Classify(orderRequest())
	assert.Equal(t, DecisionRequireConfirmation, d.Kind)
	assert.Nil(t, d.Card)
	assert.NotEmpty(t, d.Reasons)

	assert.Equal(t, DecisionAllow, g.Classify(readRequest()).Kind)

	// No card issued, nothing pending, nothing audited.
	g.mu.Lock()
	assert.Empty(t, g.pending)
	g.mu.Unlock()
	assert.Empty(t, audit.decisions())
}

func TestSafetyGate_MutatingNeedsConfirmation(t *testing.T) {
	g := testGate(t, nil)
	req := orderRequest()

	d := g.Check(req)
	require.Equal(t, DecisionRequireConfirmation, d.Kind)
	require.NotNil(t, d.Card)
	assert.NotEmpty(t, d.Card.Token)
	assert.Equal(t, req.ContentHash(), d.Card.ContentHash)
	assert.Equal(t, testNow.Add(60*time.Second), d.Card.ExpiresAt)
	assert.Contains(t, d.Card.Reasons, "places an order")
}

func TestSafetyGate_ConfirmRoundTrip(t *testing.T) {
	g := testGate(t, nil)
	req := orderRequest()
	d := g.Check(req)
	require.NotNil(t, d.Card)

	got, err := g.Confirm(d.Card.Token)
	require.NoError(t, err)
	assert.Equal(t, req.Path, got.Path)

	// Single use: the same token cannot confirm twice.
	_, err = g.Confirm(d.Card.Token)
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestSafetyGate_ExpiredToken(t *testing.T) {
	g := testGate(t, nil)
	d := g.Check(orderRequest())
	require.NotNil(t, d.Card)

	g.now = func() time.Time { return testNow.Add(61 * time.Second) }
	_, err := g.Confirm(d.Card.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	// The expired entry is gone, not retryable.
	_, err = g.Confirm(d.Card.Token)
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestSafetyGate_StaleConfirmation(t *testing.T) {
	g := testGate(t, nil)
	req := orderRequest()
	d := g.Check(req)
	require.NotNil(t, d.Card)

	// Mutating the stored request's params after issuance must invalidate
	// the token: the hash no longer matches.
	req.Params["quantity"] = "10000"

	_, err := g.Confirm(d.Card.Token)
	assert.ErrorIs(t, err, ErrStaleConfirmation)
}

func TestSafetyGate_Reject(t *testing.T) {
	g := testGate(t, nil)
	d := g.Check(orderRequest())
	require.NotNil(t, d.Card)

	g.Reject(d.Card.Token)
	_, err := g.Confirm(d.Card.Token)
	assert.ErrorIs(t, err, ErrUnknownToken)

	g.Reject("no-such-token") // must not panic
}

func TestSafetyGate_DenylistedPolicy(t *testing.T) {
	g := testGate(t, nil)
	req := orderRequest()
	req.Endpoint.Policy = domain.PolicyCloseAccount

	d := g.Check(req)
	require.Equal(t, DecisionDeny, d.Kind)
	assert.Contains(t, d.Reasons[0], "denylisted")
}

func TestSafetyGate_MarketAllowlist(t *testing.T) {
	g := testGate(t, nil)
	req := orderRequest()
	req.Params["symbol"] = "AAPL@XNYS"

	d := g.Check(req)
	require.Equal(t, DecisionDeny, d.Kind)
	assert.Contains(t, d.Reasons[0], "XNYS")
}

func TestSafetyGate_QuantityCap(t *testing.T) {
	g := testGate(t, nil)
	req := orderRequest()
	req.Params["quantity"] = "10001"

	d := g.Check(req)
	require.Equal(t, DecisionDeny, d.Kind)
	assert.Contains(t, d.Reasons[0], "exceeds limit")

	// At the cap exactly is still allowed (with confirmation).
	req.Params["quantity"] = "10000"
	d = g.Check(req)
	assert.Equal(t, DecisionRequireConfirmation, d.Kind)
}

func TestSafetyGate_Sweep(t *testing.T) {
	g := testGate(t, nil)
	d := g.Check(orderRequest())
	require.NotNil(t, d.Card)

	g.now = func() time.Time { return testNow.Add(2 * time.Minute) }
	g.Sweep()

	_, err := g.Confirm(d.Card.Token)
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestSafetyGate_Audit(t *testing.T) {
	audit := &recordingAudit{}
	g := testGate(t, audit)

	g.Check(readRequest())
	d := g.Check(orderRequest())
	require.NotNil(t, d.Card)
	_, err := g.Confirm(d.Card.Token)
	require.NoError(t, err)

	assert.Equal(t, []string{"allowed", "needs_confirm", "confirmed"}, audit.decisions())
}
