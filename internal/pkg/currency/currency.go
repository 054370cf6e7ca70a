package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/qs3c/pricing_server/config"
	"github.com/qs3c/pricing_server/internal/pkg/money"
)

var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Converter 汇率服务
type Converter interface {
	Convert(ctx context.Context, amount money.Money, to string) (money.Money, error)
	PrecisionOf(currency string) int
}

// StaticConverter 使用配置中的固定汇率
type StaticConverter struct {
	rates     map[string]decimal.Decimal // "USD:EUR" -> rate
	precision money.Precision
}

// NewStaticConverter 从配置构造。汇率键格式为 "FROM:TO"，大小写不敏感
func NewStaticConverter(cfg *config.CurrencyConfig) (*StaticConverter, error) {
	rates := make(map[string]decimal.Decimal, len(cfg.Rates))
	for pair, raw := range cfg.Rates {
		from, to, ok := strings.Cut(strings.ToUpper(pair), ":")
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("invalid currency pair %q", pair)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", pair, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive", pair)
		}
		rates[from+":"+to] = rate
	}

	return &StaticConverter{
		rates:     rates,
		precision: money.NewPrecision(cfg.Precision),
	}, nil
}

// Precision 币种精度表
func (c *StaticConverter) Precision() money.Precision {
	return c.precision
}

func (c *StaticConverter) PrecisionOf(currency string) int {
	return c.precision.Digits(currency)
}

func (c *StaticConverter) Convert(_ context.Context, amount money.Money, to string) (money.Money, error) {
	to = strings.ToUpper(to)
	if amount.Currency == to {
		return amount, nil
	}

	rate, err := c.rate(amount.Currency, to)
	if err != nil {
		return money.Money{}, err
	}

	major := c.precision.Decimal(amount).Mul(rate)
	return c.precision.FromDecimal(major, to), nil
}

func (c *StaticConverter) rate(from, to string) (decimal.Decimal, error) {
	if r, ok := c.rates[from+":"+to]; ok {
		return r, nil
	}
	// 只配置了反向汇率时取倒数
	if r, ok := c.rates[to+":"+from]; ok {
		return decimal.NewFromInt(1).DivRound(r, 12), nil
	}
	return decimal.Zero, fmt.Errorf("%s -> %s: %w", from, to, ErrRateUnavailable)
}
