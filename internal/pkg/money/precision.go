package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

const defaultDigits = 2

// Precision 币种最小单位位数表（USD=2, JPY=0, BHD=3 ...）
type Precision map[string]int

// NewPrecision 从配置构造，键统一为大写
func NewPrecision(digits map[string]int) Precision {
	p := make(Precision, len(digits))
	for code, d := range digits {
		p[strings.ToUpper(code)] = d
	}
	return p
}

// Digits 返回币种的小数位数，未知币种按 2 位处理
func (p Precision) Digits(currency string) int {
	if d, ok := p[strings.ToUpper(currency)]; ok {
		return d
	}
	return defaultDigits
}

// FromDecimal 将主单位金额（如 19.99）转为最小单位，四舍五入
func (p Precision) FromDecimal(amount decimal.Decimal, currency string) Money {
	scaled := amount.Shift(int32(p.Digits(currency)))
	return Money{Amount: roundHalfUp(scaled, decimal.NewFromInt(1)), Currency: strings.ToUpper(currency)}
}

// Decimal 将最小单位转回主单位
func (p Precision) Decimal(m Money) decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Shift(-int32(p.Digits(m.Currency)))
}

// Format 以 "19.99 USD" 形式展示
func (p Precision) Format(m Money) string {
	return p.Decimal(m).StringFixed(int32(p.Digits(m.Currency))) + " " + m.Currency
}
