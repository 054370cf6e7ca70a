package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/pricing_server/internal/model"
)

type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *PlanRepository) WithTx(tx *gorm.DB) *PlanRepository {
	return &PlanRepository{db: tx}
}

func (r *PlanRepository) Create(plan *model.Plan) error {
	return r.db.Create(plan).Error
}

func (r *PlanRepository) GetByID(id int64) (*model.Plan, error) {
	var plan model.Plan
	err := r.db.Preload("Features", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC, id ASC")
	}).Preload("Limits").Where("id = ?", id).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *PlanRepository) GetBySlug(slug string) (*model.Plan, error) {
	var plan model.Plan
	err := r.db.Where("slug = ?", slug).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// List 管理端列表，status 为空时返回全部
func (r *PlanRepository) List(status string) ([]*model.Plan, error) {
	var plans []*model.Plan
	query := r.db.Preload("Features", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC, id ASC")
	}).Preload("Limits")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("sort_order ASC, name ASC").Find(&plans).Error
	return plans, err
}

// ListActiveWithPrices 只返回至少有一个现行价格的上架套餐
func (r *PlanRepository) ListActiveWithPrices() ([]*model.Plan, error) {
	var plans []*model.Plan
	err := r.db.Preload("Features", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC, id ASC")
	}).Preload("Limits").
		Where("status = ?", model.PlanStatusActive).
		Where("EXISTS (SELECT 1 FROM plan_prices pp WHERE pp.plan_id = plans.id AND pp.retired_at IS NULL)").
		Order("sort_order ASC, name ASC").
		Find(&plans).Error
	return plans, err
}

func (r *PlanRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.Plan{}).Where("id = ?", id).Updates(fields).Error
}

// ReplaceFeatures 整体替换套餐功能列表
func (r *PlanRepository) ReplaceFeatures(planID int64, features []model.PlanFeature) error {
	if err := r.db.Where("plan_id = ?", planID).Delete(&model.PlanFeature{}).Error; err != nil {
		return err
	}
	if len(features) == 0 {
		return nil
	}
	for i := range features {
		features[i].ID = 0
		features[i].PlanID = planID
	}
	return r.db.Create(&features).Error
}

// ReplaceLimits 整体替换套餐用量限制
func (r *PlanRepository) ReplaceLimits(planID int64, limits []model.PlanLimit) error {
	if err := r.db.Where("plan_id = ?", planID).Delete(&model.PlanLimit{}).Error; err != nil {
		return err
	}
	if len(limits) == 0 {
		return nil
	}
	for i := range limits {
		limits[i].ID = 0
		limits[i].PlanID = planID
	}
	return r.db.Create(&limits).Error
}

// CountSubscriptions 引用该套餐的订阅数（含待生效套餐）
func (r *PlanRepository) CountSubscriptions(planID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.Subscription{}).
		Where("plan_id = ? OR pending_plan_id = ?", planID, planID).
		Count(&count).Error
	return count, err
}

func (r *PlanRepository) CreatePrice(price *model.PlanPrice) error {
	return r.db.Create(price).Error
}

func (r *PlanRepository) GetPriceByID(id int64) (*model.PlanPrice, error) {
	var price model.PlanPrice
	err := r.db.Where("id = ?", id).First(&price).Error
	if err != nil {
		return nil, err
	}
	return &price, nil
}

// GetCurrentPrice 查询 (币种, 周期) 下未退役的最新版本价格
func (r *PlanRepository) GetCurrentPrice(planID int64, currency, period string) (*model.PlanPrice, error) {
	var price model.PlanPrice
	err := r.db.Where("plan_id = ? AND currency = ? AND billing_period = ? AND retired_at IS NULL",
		planID, currency, period).
		Order("version DESC").
		First(&price).Error
	if err != nil {
		return nil, err
	}
	return &price, nil
}

// ListPrices includeRetired 为 false 时只返回现行价格
func (r *PlanRepository) ListPrices(planID int64, includeRetired bool) ([]*model.PlanPrice, error) {
	var prices []*model.PlanPrice
	query := r.db.Where("plan_id = ?", planID)
	if !includeRetired {
		query = query.Where("retired_at IS NULL")
	}
	err := query.Order("currency ASC, billing_period ASC, version DESC").Find(&prices).Error
	return prices, err
}

func (r *PlanRepository) CountCurrentPrices(planID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.PlanPrice{}).
		Where("plan_id = ? AND retired_at IS NULL", planID).
		Count(&count).Error
	return count, err
}

// RetirePrice 退役价格，已退役时返回 false
func (r *PlanRepository) RetirePrice(id int64, at time.Time) (bool, error) {
	result := r.db.Model(&model.PlanPrice{}).
		Where("id = ? AND retired_at IS NULL", id).
		Update("retired_at", at)
	return result.RowsAffected == 1, result.Error
}

// GetSetting 读取目录配置，不存在时创建
func (r *PlanRepository) GetSetting() (*model.CatalogSetting, error) {
	setting := model.CatalogSetting{ID: model.CatalogSettingID}
	err := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&setting).Error
	if err != nil {
		return nil, err
	}
	if err := r.db.Where("id = ?", model.CatalogSettingID).First(&setting).Error; err != nil {
		return nil, err
	}
	return &setting, nil
}

// SetDefaultPlan 设置默认套餐，nil 表示清除
func (r *PlanRepository) SetDefaultPlan(planID *int64) error {
	if _, err := r.GetSetting(); err != nil {
		return err
	}
	return r.db.Model(&model.CatalogSetting{}).
		Where("id = ?", model.CatalogSettingID).
		Update("default_plan_id", planID).Error
}
