package proration

import (
	"errors"
	"time"

	"github.com/qs3c/pricing_server/internal/pkg/money"
)

var ErrInvalidCycle = errors.New("cycle end must be after cycle start")

// Input 计算按比例差价所需的周期锚点和价格
type Input struct {
	CurrentPrice money.Money
	TargetPrice  money.Money
	CycleStart   time.Time
	CycleEnd     time.Time
	Now          time.Time
}

// Result 计算结果。NetDelta > 0 表示客户需补差价，< 0 表示应返还的抵扣额
type Result struct {
	RemainingNum int64
	RemainingDen int64
	UnusedCredit money.Money
	NewCharge    money.Money
	NetDelta     money.Money
	// Effective 为 false 表示周期已结束，按下个周期生效的普通换套餐处理
	Effective bool
}

// Remaining 返回剩余周期比例 (num, den)，已截断到 [0,1]
func Remaining(start, end, now time.Time) (int64, int64, error) {
	total := end.Sub(start)
	if total <= 0 {
		return 0, 0, ErrInvalidCycle
	}
	left := end.Sub(now)
	if left < 0 {
		left = 0
	}
	if left > total {
		left = total
	}
	return int64(left), int64(total), nil
}

// RemainingValue 计算价格在剩余周期内对应的金额
func RemainingValue(price money.Money, start, end, now time.Time) (money.Money, error) {
	num, den, err := Remaining(start, end, now)
	if err != nil {
		return money.Money{}, err
	}
	return price.MulRatio(num, den)
}

// Calculate 计算周期中途换套餐的差价
func Calculate(in Input) (Result, error) {
	if in.CurrentPrice.Currency != in.TargetPrice.Currency {
		return Result{}, money.ErrCurrencyMismatch
	}

	zero := money.Zero(in.CurrentPrice.Currency)
	if !in.Now.Before(in.CycleEnd) {
		return Result{
			RemainingDen: 1,
			UnusedCredit: zero,
			NewCharge:    zero,
			NetDelta:     zero,
		}, nil
	}

	num, den, err := Remaining(in.CycleStart, in.CycleEnd, in.Now)
	if err != nil {
		return Result{}, err
	}

	unused, err := in.CurrentPrice.MulRatio(num, den)
	if err != nil {
		return Result{}, err
	}
	charge, err := in.TargetPrice.MulRatio(num, den)
	if err != nil {
		return Result{}, err
	}
	net, err := charge.Sub(unused)
	if err != nil {
		return Result{}, err
	}

	return Result{
		RemainingNum: num,
		RemainingDen: den,
		UnusedCredit: unused,
		NewCharge:    charge,
		NetDelta:     net,
		Effective:    true,
	}, nil
}
