package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrZeroDenominator  = errors.New("zero denominator")
)

// Money 以最小货币单位（如美分）表示的精确金额
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// New 创建金额，币种统一为大写
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(currency)}
}

// Zero 指定币种的零值
func Zero(currency string) Money {
	return New(0, currency)
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }

func (m Money) sameCurrency(o Money) error {
	if m.Currency != o.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	return nil
}

// Add 相加，币种不同则失败
func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount + o.Amount, Currency: m.Currency}, nil
}

// Sub 相减，币种不同则失败
func (m Money) Sub(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount - o.Amount, Currency: m.Currency}, nil
}

// Cmp 比较大小：-1 / 0 / 1
func (m Money) Cmp(o Money) (int, error) {
	if err := m.sameCurrency(o); err != nil {
		return 0, err
	}
	switch {
	case m.Amount < o.Amount:
		return -1, nil
	case m.Amount > o.Amount:
		return 1, nil
	}
	return 0, nil
}

func (m Money) Neg() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Min0 负数截断为零
func (m Money) Min0() Money {
	if m.Amount < 0 {
		return Zero(m.Currency)
	}
	return m
}

// MulRatio 乘以有理数 num/den，四舍五入（half-up，负数远离零）到最小单位
func (m Money) MulRatio(num, den int64) (Money, error) {
	if den == 0 {
		return Money{}, ErrZeroDenominator
	}
	product := decimal.NewFromInt(m.Amount).Mul(decimal.NewFromInt(num))
	return Money{Amount: roundHalfUp(product, decimal.NewFromInt(den)), Currency: m.Currency}, nil
}

// MulPercent 乘以百分比（如 10 表示 10%）
func (m Money) MulPercent(percent decimal.Decimal) Money {
	product := decimal.NewFromInt(m.Amount).Mul(percent)
	return Money{Amount: roundHalfUp(product, decimal.NewFromInt(100)), Currency: m.Currency}
}

// MulDecimal 乘以任意小数（用于汇率换算）
func (m Money) MulDecimal(factor decimal.Decimal) Money {
	return Money{Amount: roundHalfUp(decimal.NewFromInt(m.Amount).Mul(factor), decimal.NewFromInt(1)), Currency: m.Currency}
}

// roundHalfUp 精确计算 a/b 并四舍五入到整数
func roundHalfUp(a, b decimal.Decimal) int64 {
	neg := a.Sign()*b.Sign() < 0
	a, b = a.Abs(), b.Abs()

	q, r := a.QuoRem(b, 0)
	if r.Mul(decimal.NewFromInt(2)).GreaterThanOrEqual(b) {
		q = q.Add(decimal.NewFromInt(1))
	}
	out := q.IntPart()
	if neg {
		out = -out
	}
	return out
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}
