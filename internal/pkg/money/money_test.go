package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_AddSub(t *testing.T) {
	a := New(1500, "usd")
	b := New(250, "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, New(1750, "USD"), sum)

	diff, err := b.Sub(a)
	require.NoError(t, err)
	assert.Equal(t, int64(-1250), diff.Amount)
	assert.True(t, diff.IsNegative())
}

func TestMoney_CurrencyMismatch(t *testing.T) {
	usd := New(100, "USD")
	eur := New(100, "EUR")

	_, err := usd.Add(eur)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = usd.Sub(eur)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = usd.Cmp(eur)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestMoney_Cmp(t *testing.T) {
	c, err := New(1, "USD").Cmp(New(2, "USD"))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = New(2, "USD").Cmp(New(2, "USD"))
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	c, err = New(3, "USD").Cmp(New(2, "USD"))
	require.NoError(t, err)
	assert.Equal(t, 1, c)
}

func TestMoney_MulRatio(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		num    int64
		den    int64
		want   int64
	}{
		{"half", 3000, 1, 2, 1500},
		{"round half up", 5, 1, 2, 3},
		{"round down", 10, 1, 3, 3},
		{"round up", 20, 1, 3, 7},
		{"negative rounds away from zero", -5, 1, 2, -3},
		{"zero fraction", 1999, 0, 10, 0},
		{"large nanosecond ratio", 1_000_000_000, 15 * 24 * 3600 * 1e9, 30 * 24 * 3600 * 1e9, 500_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(tt.amount, "USD").MulRatio(tt.num, tt.den)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Amount)
		})
	}

	_, err := New(1, "USD").MulRatio(1, 0)
	assert.ErrorIs(t, err, ErrZeroDenominator)
}

func TestMoney_MulPercent(t *testing.T) {
	// 1999 * 10% = 199.9 -> 200
	got := New(1999, "USD").MulPercent(decimal.NewFromInt(10))
	assert.Equal(t, int64(200), got.Amount)

	// 1000 * 12.5% = 125
	got = New(1000, "USD").MulPercent(decimal.RequireFromString("12.5"))
	assert.Equal(t, int64(125), got.Amount)

	// 1 * 50% = 0.5 -> 1
	got = New(1, "USD").MulPercent(decimal.NewFromInt(50))
	assert.Equal(t, int64(1), got.Amount)
}

func TestMoney_Min0(t *testing.T) {
	assert.Equal(t, Zero("USD"), New(-10, "USD").Min0())
	assert.Equal(t, New(10, "USD"), New(10, "USD").Min0())
}

func TestPrecision(t *testing.T) {
	p := NewPrecision(map[string]int{"usd": 2, "JPY": 0, "BHD": 3})

	assert.Equal(t, 2, p.Digits("USD"))
	assert.Equal(t, 0, p.Digits("jpy"))
	assert.Equal(t, 2, p.Digits("XYZ"))

	assert.Equal(t, New(1999, "USD"), p.FromDecimal(decimal.RequireFromString("19.99"), "usd"))
	assert.Equal(t, New(1000, "JPY"), p.FromDecimal(decimal.RequireFromString("999.5"), "JPY"))
	assert.Equal(t, New(1235, "BHD"), p.FromDecimal(decimal.RequireFromString("1.2345"), "BHD"))

	assert.Equal(t, "19.99 USD", p.Format(New(1999, "USD")))
	assert.Equal(t, "500 JPY", p.Format(New(500, "JPY")))
}
