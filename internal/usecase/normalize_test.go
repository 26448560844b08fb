package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixed clock for every date assertion: Friday 2025-08-15 12:30 UTC.
var testNow = time.Date(2025, 8, 15, 12, 30, 0, 0, time.UTC)

func TestNormalizeTimeframe(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"D", TimeframeD},
		{"1d", TimeframeD},
		{"дневные свечи", TimeframeD},
		{"часовой график", TimeframeH1},
		{"m15", TimeframeM15},
		{"15 мин", TimeframeM15},
		{"30 мин", TimeframeM30},
		{"4 часа", TimeframeH4},
		{"сейчас", TimeframeD}, // "час" embedded in a word is not a cue
		{"недельный", TimeframeW},
		{"месячный", TimeframeMN},
		{"TIME_FRAME_H4", TimeframeH4},
		{"time_frame_m5", TimeframeM5},
		{"что-то непонятное", TimeframeD}, // fallback
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeTimeframe(tc.in), tc.in)
	}
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "SBER@MISX", NormalizeSymbol("sber"))
	assert.Equal(t, "SBER@MISX", NormalizeSymbol("SBER@MISX"))
	assert.Equal(t, "GAZP@FORTS", NormalizeSymbol("gazp@forts"))
	assert.Equal(t, "", NormalizeSymbol("  "))
}

func TestValidSymbol(t *testing.T) {
	assert.True(t, ValidSymbol("SBER@MISX"))
	assert.True(t, ValidSymbol("RI100@FORTS"))
	assert.False(t, ValidSymbol("SBER"))
	assert.False(t, ValidSymbol("sber@misx"))
	assert.False(t, ValidSymbol("@MISX"))
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025-08-01", "2025-08-01T00:00:00Z"},
		{"2025/08/01", "2025-08-01T00:00:00Z"},
		{"2025-08-01 10:15", "2025-08-01T10:15:00Z"},
		{"2025-08-01T10:15:00Z", "2025-08-01T10:15:00Z"},
		{"сегодня", "2025-08-15T00:00:00Z"},
		{"today", "2025-08-15T00:00:00Z"},
		{"вчера", "2025-08-14T00:00:00Z"},
		{"now", "2025-08-15T12:30:00Z"},
		{"now-7d", "2025-08-08T00:00:00Z"},
	}
	for _, tc := range tests {
		got, err := NormalizeDate(tc.in, testNow)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := NormalizeDate("позавчера утром", testNow)
	assert.Error(t, err)
}

func TestParseDateRange(t *testing.T) {
	t.Run("month and year", func(t *testing.T) {
		start, end, ok := ParseDateRange("покажи свечи за август 2025", testNow)
		require.True(t, ok)
		assert.Equal(t, "2025-08-01T00:00:00Z", start)
		assert.Equal(t, "2025-08-31T23:59:59Z", end)
	})

	t.Run("last week", func(t *testing.T) {
		start, end, ok := ParseDateRange("за последнюю неделю", testNow)
		require.True(t, ok)
		assert.Equal(t, "2025-08-08T00:00:00Z", start)
		assert.Equal(t, "2025-08-15T12:30:00Z", end)
	})

	t.Run("last quarter", func(t *testing.T) {
		// August is Q3, so the last complete quarter is Q2.
		start, end, ok := ParseDateRange("отчет за последний квартал", testNow)
		require.True(t, ok)
		assert.Equal(t, "2025-04-01T00:00:00Z", start)
		assert.Equal(t, "2025-06-30T23:59:59Z", end)
	})

	t.Run("half a year", func(t *testing.T) {
		start, _, ok := ParseDateRange("динамика за полгода", testNow)
		require.True(t, ok)
		assert.Equal(t, "2025-02-14T00:00:00Z", start)
	})

	t.Run("last N days", func(t *testing.T) {
		start, _, ok := ParseDateRange("последние 30 дней", testNow)
		require.True(t, ok)
		assert.Equal(t, "2025-07-16T00:00:00Z", start)
	})

	t.Run("no range", func(t *testing.T) {
		_, _, ok := ParseDateRange("какая цена сбербанка", testNow)
		assert.False(t, ok)
	})
}

func TestInferSymbol(t *testing.T) {
	sym, ok := InferSymbol("стакан по GAZP@FORTS пожалуйста")
	require.True(t, ok)
	assert.Equal(t, "GAZP@FORTS", sym)

	sym, ok = InferSymbol("цена SBER сейчас")
	require.True(t, ok)
	assert.Equal(t, "SBER@MISX", sym)

	// Order IDs and bare numbers are not tickers.
	_, ok = InferSymbol("отмени ORD123")
	assert.False(t, ok)
	_, ok = InferSymbol("купи 100 лотов")
	assert.False(t, ok)
	_, ok = InferSymbol("какая цена сбербанка")
	assert.False(t, ok)
}

func TestInferOrderID(t *testing.T) {
	ord, ok := InferOrderID("отмени заявку ORD123")
	require.True(t, ok)
	assert.Equal(t, "ORD123", ord)

	ord, ok = InferOrderID("статус ord-abc-1")
	require.True(t, ok)
	assert.Equal(t, "ORD-ABC-1", ord)

	_, ok = InferOrderID("покажи портфель")
	assert.False(t, ok)
}

func TestInferAccountID(t *testing.T) {
	acc, ok := InferAccountID("по счету ACC-001-A")
	require.True(t, ok)
	assert.Equal(t, "ACC-001-A", acc)

	acc, ok = InferAccountID("портфель USR-123-B")
	require.True(t, ok)
	assert.Equal(t, "USR-123-B", acc)

	// Bare numbers are quantities or years, never accounts.
	_, ok = InferAccountID("счет 1899011")
	assert.False(t, ok)

	_, ok = InferAccountID("Купи 500 акций Газпрома")
	assert.False(t, ok)

	_, ok = InferAccountID("покажи портфель")
	assert.False(t, ok)
}
