package repository

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/pricing_server/internal/model"
)

type CouponRepository struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *CouponRepository) WithTx(tx *gorm.DB) *CouponRepository {
	return &CouponRepository{db: tx}
}

func (r *CouponRepository) Create(coupon *model.Coupon) error {
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	return r.db.Create(coupon).Error
}

func (r *CouponRepository) GetByID(id int64) (*model.Coupon, error) {
	var coupon model.Coupon
	err := r.db.Where("id = ?", id).First(&coupon).Error
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// GetByCode 按券码查询，大小写不敏感
func (r *CouponRepository) GetByCode(code string) (*model.Coupon, error) {
	var coupon model.Coupon
	err := r.db.Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).First(&coupon).Error
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *CouponRepository) List(page, pageSize int) ([]*model.Coupon, int64, error) {
	var coupons []*model.Coupon
	var total int64

	query := r.db.Model(&model.Coupon{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(pageSize).Find(&coupons).Error
	return coupons, total, err
}

func (r *CouponRepository) SetActive(id int64, active bool) error {
	return r.db.Model(&model.Coupon{}).Where("id = ?", id).Update("active", active).Error
}

// IncrementUsage 条件自增：仅在未达到 usage_limit 时 +1，返回是否成功
func (r *CouponRepository) IncrementUsage(id int64) (bool, error) {
	result := r.db.Model(&model.Coupon{}).
		Where("id = ? AND (usage_limit IS NULL OR used_count < usage_limit)", id).
		Update("used_count", gorm.Expr("used_count + 1"))
	return result.RowsAffected == 1, result.Error
}

// DecrementUsage 撤销一次未完成的预留
func (r *CouponRepository) DecrementUsage(id int64) error {
	return r.db.Model(&model.Coupon{}).
		Where("id = ? AND used_count > 0", id).
		Update("used_count", gorm.Expr("used_count - 1")).Error
}

// GetUserUsage 用户对该券的已用次数
func (r *CouponRepository) GetUserUsage(couponID, userID int64) (int, error) {
	var usage model.CouponUsage
	err := r.db.Where("coupon_id = ? AND user_id = ?", couponID, userID).First(&usage).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return usage.Count, nil
}

// IncrementUserUsage 用户维度的条件自增，limit 为 nil 表示不限
func (r *CouponRepository) IncrementUserUsage(couponID, userID int64, limit *int) (bool, error) {
	seed := model.CouponUsage{CouponID: couponID, UserID: userID}
	if err := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return false, err
	}

	query := r.db.Model(&model.CouponUsage{}).Where("coupon_id = ? AND user_id = ?", couponID, userID)
	if limit != nil {
		query = query.Where("count < ?", *limit)
	}
	result := query.Update("count", gorm.Expr("count + 1"))
	return result.RowsAffected == 1, result.Error
}

func (r *CouponRepository) DecrementUserUsage(couponID, userID int64) error {
	return r.db.Model(&model.CouponUsage{}).
		Where("coupon_id = ? AND user_id = ? AND count > 0", couponID, userID).
		Update("count", gorm.Expr("count - 1")).Error
}

func (r *CouponRepository) CreateRedemption(redemption *model.CouponRedemption) error {
	return r.db.Create(redemption).Error
}

func (r *CouponRepository) ListRedemptions(couponID int64) ([]*model.CouponRedemption, error) {
	var redemptions []*model.CouponRedemption
	err := r.db.Where("coupon_id = ?", couponID).Order("id ASC").Find(&redemptions).Error
	return redemptions, err
}
