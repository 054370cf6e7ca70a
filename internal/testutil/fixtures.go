package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/qs3c/pricing_server/internal/model"
)

// TestPlan 创建测试套餐（默认上架、按月、无试用，不带价格）
func TestPlan(t *testing.T, db *gorm.DB, opts ...func(*model.Plan)) *model.Plan {
	t.Helper()

	n := time.Now().UnixNano()
	plan := &model.Plan{
		Slug:           fmt.Sprintf("plan-%d", n),
		Name:           fmt.Sprintf("Plan %d", n%10000),
		Status:         model.PlanStatusActive,
		BillingPeriods: model.StringArray{model.PeriodMonthly},
	}

	for _, opt := range opts {
		opt(plan)
	}

	if err := db.Create(plan).Error; err != nil {
		t.Fatalf("Failed to create test plan: %v", err)
	}

	return plan
}

// TestPricedPlan 创建带一条 USD 月付价格的套餐
func TestPricedPlan(t *testing.T, db *gorm.DB, amount int64, opts ...func(*model.Plan)) *model.Plan {
	t.Helper()

	plan := TestPlan(t, db, opts...)
	TestPrice(t, db, plan.ID, amount, "USD", model.PeriodMonthly)
	return plan
}

// TestPrice 为套餐添加价格
func TestPrice(t *testing.T, db *gorm.DB, planID, amount int64, currency, period string) *model.PlanPrice {
	t.Helper()

	price := &model.PlanPrice{
		PlanID:        planID,
		Currency:      currency,
		BillingPeriod: period,
		Amount:        amount,
		Version:       1,
	}
	if err := db.Create(price).Error; err != nil {
		t.Fatalf("Failed to create test price: %v", err)
	}

	return price
}

// WithSlug 设置套餐 slug 和名称
func WithSlug(slug string) func(*model.Plan) {
	return func(p *model.Plan) {
		p.Slug = slug
		p.Name = slug
	}
}

// WithPlanStatus 设置套餐状态
func WithPlanStatus(status string) func(*model.Plan) {
	return func(p *model.Plan) {
		p.Status = status
	}
}

// WithTrialDays 设置试用天数
func WithTrialDays(days int) func(*model.Plan) {
	return func(p *model.Plan) {
		p.TrialDays = days
	}
}

// WithPeriods 设置支持的计费周期
func WithPeriods(periods ...string) func(*model.Plan) {
	return func(p *model.Plan) {
		p.BillingPeriods = periods
	}
}

// WithSortOrder 设置排序
func WithSortOrder(order int) func(*model.Plan) {
	return func(p *model.Plan) {
		p.SortOrder = order
	}
}

// TestCoupon 创建测试优惠券（默认 10% 折扣、不限次数、已启用）
func TestCoupon(t *testing.T, db *gorm.DB, opts ...func(*model.Coupon)) *model.Coupon {
	t.Helper()

	coupon := &model.Coupon{
		Code:         fmt.Sprintf("TEST%d", time.Now().UnixNano()),
		DiscountType: model.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		Active:       true,
	}

	for _, opt := range opts {
		opt(coupon)
	}

	if err := db.Create(coupon).Error; err != nil {
		t.Fatalf("Failed to create test coupon: %v", err)
	}

	return coupon
}

// WithCode 设置券码
func WithCode(code string) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.Code = code
	}
}

// WithPercent 设置百分比折扣
func WithPercent(percent string) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.DiscountType = model.DiscountPercentage
		c.Value = decimal.RequireFromString(percent)
		c.Currency = ""
	}
}

// WithFixed 设置固定金额折扣，金额以主单位表示（如 "5.00"）
func WithFixed(amount, currency string) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.DiscountType = model.DiscountFixed
		c.Value = decimal.RequireFromString(amount)
		c.Currency = currency
	}
}

// WithUsageLimit 设置全局使用上限
func WithUsageLimit(limit int) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.UsageLimit = &limit
	}
}

// WithPerUserLimit 设置单用户使用上限
func WithPerUserLimit(limit int) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.PerUserLimit = &limit
	}
}

// WithUsedCount 设置已使用次数
func WithUsedCount(n int) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.UsedCount = n
	}
}

// WithWindow 设置有效期，nil 表示不限
func WithWindow(startsAt, expiresAt *time.Time) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.StartsAt = startsAt
		c.ExpiresAt = expiresAt
	}
}

// WithRestrictions 限定可用的 "planID:period"
func WithRestrictions(items ...string) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.Restrictions = items
	}
}

// WithInactive 停用优惠券
func WithInactive() func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.Active = false
	}
}

// TestSubscription 创建测试订阅（默认 active、USD 1999、当前周期从现在开始一个月）
func TestSubscription(t *testing.T, db *gorm.DB, userID, planID int64, opts ...func(*model.Subscription)) *model.Subscription {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Second)
	sub := &model.Subscription{
		UserID:        userID,
		PlanID:        planID,
		BillingPeriod: model.PeriodMonthly,
		Status:        model.StatusActive,
		StartsAt:      now,
		EndsAt:        model.AdvancePeriod(now, model.PeriodMonthly),
		PriceAmount:   1999,
		Currency:      "USD",
		CycleCharged:  1999,
		Version:       1,
	}

	for _, opt := range opts {
		opt(sub)
	}

	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("Failed to create test subscription: %v", err)
	}

	return sub
}

// WithStatus 设置订阅状态
func WithStatus(status string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.Status = status
	}
}

// WithCycle 设置当前计费周期
func WithCycle(startsAt, endsAt time.Time) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.StartsAt = startsAt.UTC()
		s.EndsAt = endsAt.UTC()
	}
}

// WithPrice 设置约定价格，当前周期按此金额已扣款
func WithPrice(amount int64, currency string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.PriceAmount = amount
		s.Currency = currency
		s.CycleCharged = amount
	}
}

// WithCycleCharged 设置当前周期已扣款金额
func WithCycleCharged(amount int64) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.CycleCharged = amount
	}
}

// WithPendingPlan 设置待生效套餐
func WithPendingPlan(planID int64) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.PendingPlanID = &planID
	}
}

// WithTrialEnds 设置为试用中，试用截止时间为 at
func WithTrialEnds(at time.Time) func(*model.Subscription) {
	return func(s *model.Subscription) {
		at = at.UTC()
		s.Status = model.StatusTrialing
		s.TrialEndsAt = &at
		s.EndsAt = at
		s.CycleCharged = 0
	}
}

// WithPastDue 设置为欠费状态
func WithPastDue(attempts int, nextRetryAt time.Time) func(*model.Subscription) {
	return func(s *model.Subscription) {
		next := nextRetryAt.UTC()
		s.Status = model.StatusPastDue
		s.RenewalAttempts = attempts
		s.NextRetryAt = &next
	}
}

// WithPaused 设置为暂停状态
func WithPaused(pausedAt time.Time, resumeAt *time.Time) func(*model.Subscription) {
	return func(s *model.Subscription) {
		p := pausedAt.UTC()
		s.Status = model.StatusPaused
		s.PausedAt = &p
		if resumeAt != nil {
			r := resumeAt.UTC()
			s.ResumeAt = &r
		}
	}
}
