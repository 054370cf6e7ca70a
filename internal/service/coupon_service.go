package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/qs3c/pricing_server/internal/model"
	"github.com/qs3c/pricing_server/internal/model/dto"
	"github.com/qs3c/pricing_server/internal/pkg/currency"
	"github.com/qs3c/pricing_server/internal/pkg/money"
	"github.com/qs3c/pricing_server/internal/repository"
)

// AppliedDiscount 已核销的折扣
type AppliedDiscount struct {
	Coupon    *model.Coupon
	Discount  money.Money
	Recurring bool
}

type CouponService struct {
	couponRepo      *repository.CouponRepository
	catalog         *CatalogService
	converter       currency.Converter
	precision       money.Precision
	defaultCurrency string
	now             func() time.Time
}

func NewCouponService(
	couponRepo *repository.CouponRepository,
	catalog *CatalogService,
	converter currency.Converter,
	precision money.Precision,
	defaultCurrency string,
) *CouponService {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &CouponService{
		couponRepo:      couponRepo,
		catalog:         catalog,
		converter:       converter,
		precision:       precision,
		defaultCurrency: strings.ToUpper(defaultCurrency),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Validate 只读校验：展示折扣金额，不核销
func (s *CouponService) Validate(ctx context.Context, userID int64, req *dto.ValidateCouponRequest) (*dto.CouponValidationResponse, error) {
	plan, err := s.catalog.GetPlan(req.PlanID)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.ValidateForSubscription(plan, req.BillingPeriod); err != nil {
		return nil, err
	}

	cur := req.Currency
	if cur == "" {
		cur = s.defaultCurrency
	}
	price, err := s.catalog.GetPrice(plan.ID, cur, req.BillingPeriod)
	if err != nil {
		return nil, err
	}

	coupon, err := s.couponRepo.GetByCode(req.Code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	used, err := s.couponRepo.GetUserUsage(coupon.ID, userID)
	if err != nil {
		return nil, err
	}

	discount, err := s.evaluate(ctx, coupon, used, plan.ID, req.BillingPeriod, price)
	if err != nil {
		return nil, err
	}
	final, err := price.Sub(discount)
	if err != nil {
		return nil, err
	}

	return &dto.CouponValidationResponse{
		Code:         coupon.Code,
		DiscountType: coupon.DiscountType,
		Price:        price,
		Discount:     discount,
		FinalAmount:  final,
		Display:      "-" + s.precision.Format(discount),
	}, nil
}

// Apply 在调用方事务内重新校验并核销：条件自增全局和用户计数，任一失败则整个事务回滚
func (s *CouponService) Apply(ctx context.Context, tx *gorm.DB, code string, userID, planID int64, period string, price money.Money) (*AppliedDiscount, error) {
	repo := s.couponRepo.WithTx(tx)

	coupon, err := repo.GetByCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	used, err := repo.GetUserUsage(coupon.ID, userID)
	if err != nil {
		return nil, err
	}

	discount, err := s.evaluate(ctx, coupon, used, planID, period, price)
	if err != nil {
		return nil, err
	}

	ok, err := repo.IncrementUsage(coupon.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCouponExhausted
	}
	ok, err = repo.IncrementUserUsage(coupon.ID, userID, coupon.PerUserLimit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserLimitReached
	}

	return &AppliedDiscount{
		Coupon:    coupon,
		Discount:  discount,
		Recurring: !coupon.FirstPaymentOnly,
	}, nil
}

// Release 撤销一次未完成扣款的核销
func (s *CouponService) Release(tx *gorm.DB, couponID, userID int64) error {
	repo := s.couponRepo.WithTx(tx)
	if err := repo.DecrementUsage(couponID); err != nil {
		return err
	}
	return repo.DecrementUserUsage(couponID, userID)
}

// RecordRedemption 写入核销记录，与订阅变更同一事务
func (s *CouponService) RecordRedemption(tx *gorm.DB, applied *AppliedDiscount, userID, subscriptionID int64, token string) error {
	return s.couponRepo.WithTx(tx).CreateRedemption(&model.CouponRedemption{
		CouponID:         applied.Coupon.ID,
		UserID:           userID,
		SubscriptionID:   &subscriptionID,
		ReservationToken: token,
		DiscountAmount:   applied.Discount.Amount,
		Currency:         applied.Discount.Currency,
	})
}

// evaluate 按顺序校验：存在且启用、有效期、全局上限、用户上限、适用套餐；通过后计算折扣
func (s *CouponService) evaluate(ctx context.Context, c *model.Coupon, userUsed int, planID int64, period string, price money.Money) (money.Money, error) {
	now := s.now()
	if !c.Active {
		return money.Money{}, ErrCouponNotFound
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return money.Money{}, ErrCouponExpired
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return money.Money{}, ErrCouponNotYetValid
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return money.Money{}, ErrCouponExhausted
	}
	if c.PerUserLimit != nil && userUsed >= *c.PerUserLimit {
		return money.Money{}, ErrUserLimitReached
	}
	if !appliesTo(c.Restrictions, planID, period) {
		return money.Money{}, ErrCouponNotApplicable
	}

	return s.discount(ctx, c, price)
}

func (s *CouponService) discount(ctx context.Context, c *model.Coupon, price money.Money) (money.Money, error) {
	var off money.Money
	switch c.DiscountType {
	case model.DiscountPercentage:
		off = price.MulPercent(c.Value)
	case model.DiscountFixed:
		cur := c.Currency
		if cur == "" {
			cur = price.Currency
		}
		off = s.precision.FromDecimal(c.Value, cur)
		if off.Currency != price.Currency {
			converted, err := s.converter.Convert(ctx, off, price.Currency)
			if err != nil {
				return money.Money{}, fmt.Errorf("%w: %v", ErrCurrencyUnavailable, err)
			}
			off = converted
		}
	default:
		return money.Money{}, ErrCouponNotFound
	}

	off = off.Min0()
	if off.Amount > price.Amount {
		off = price
	}
	return off, nil
}

// appliesTo 限制列表为空表示不限；条目为 "planID" 或 "planID:period"
func appliesTo(restrictions model.StringArray, planID int64, period string) bool {
	if len(restrictions) == 0 {
		return true
	}
	id := strconv.FormatInt(planID, 10)
	for _, r := range restrictions {
		if r == id || r == id+":"+period {
			return true
		}
	}
	return false
}

// CreateCoupon 创建优惠券
func (s *CouponService) CreateCoupon(req *dto.CreateCouponRequest) (*model.Coupon, error) {
	value, err := decimal.NewFromString(req.Value)
	if err != nil || !value.IsPositive() {
		return nil, ErrInvalidCouponInput
	}

	coupon := &model.Coupon{
		Code:             strings.ToUpper(strings.TrimSpace(req.Code)),
		DiscountType:     req.DiscountType,
		Value:            value,
		Restrictions:     req.Restrictions,
		UsageLimit:       req.UsageLimit,
		PerUserLimit:     req.PerUserLimit,
		StartsAt:         req.StartsAt,
		ExpiresAt:        req.ExpiresAt,
		FirstPaymentOnly: req.FirstPaymentOnly,
		Active:           true,
	}

	switch req.DiscountType {
	case model.DiscountPercentage:
		if value.GreaterThan(decimal.NewFromInt(100)) {
			return nil, ErrInvalidCouponInput
		}
	case model.DiscountFixed:
		if len(req.Currency) != 3 {
			return nil, ErrInvalidCouponInput
		}
		coupon.Currency = strings.ToUpper(req.Currency)
	default:
		return nil, ErrInvalidCouponInput
	}
	if coupon.Code == "" {
		return nil, ErrInvalidCouponInput
	}
	if req.StartsAt != nil && req.ExpiresAt != nil && !req.ExpiresAt.After(*req.StartsAt) {
		return nil, ErrInvalidCouponInput
	}
	for _, r := range req.Restrictions {
		if !validRestriction(r) {
			return nil, ErrInvalidCouponInput
		}
	}

	if _, err := s.couponRepo.GetByCode(coupon.Code); err == nil {
		return nil, ErrCouponCodeExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := s.couponRepo.Create(coupon); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"coupon_id": coupon.ID, "code": coupon.Code}).Info("coupon created")
	return coupon, nil
}

// DeactivateCoupon 停用优惠券，已核销记录保留
func (s *CouponService) DeactivateCoupon(id int64) error {
	if _, err := s.couponRepo.GetByID(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCouponNotFound
		}
		return err
	}
	return s.couponRepo.SetActive(id, false)
}

// ListCoupons 管理端列表
func (s *CouponService) ListCoupons(page, pageSize int) ([]*model.Coupon, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.couponRepo.List(page, pageSize)
}

func validRestriction(r string) bool {
	id, period, hasPeriod := strings.Cut(r, ":")
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return false
	}
	return !hasPeriod || model.ValidPeriod(period)
}
