package shared

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFormatAmountKeepsStorageScale(t *testing.T) {
	cases := map[string]string{
		"100":           "100.0000",
		"100.0001":      "100.0001",
		"1234567.891":   "1,234,567.8910",
		"-2500.5":       "-2,500.5000",
		"-0.0001":       "-0.0001",
		"0":             "0.0000",
		"9999999999.99": "9,999,999,999.9900",
	}
	for in, want := range cases {
		require.Equal(t, want, FormatAmount(decimal.RequireFromString(in)), in)
	}
	require.NotEqual(t, FormatAmount(decimal.RequireFromString("100")), FormatAmount(decimal.RequireFromString("100.0001")))
}

func TestErrorCodeOf(t *testing.T) {
	err := Forbidden("branch %d", 2).WithDetail("invoice_id", int64(7))
	require.ErrorIs(t, err, ErrForbidden)
	require.Equal(t, CodeForbidden, CodeOf(err))
	require.Empty(t, CodeOf(nil))
}
