package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/qs3c/pricing_server/internal/model"
	"github.com/qs3c/pricing_server/internal/model/dto"
	"github.com/qs3c/pricing_server/internal/pkg/metrics"
	"github.com/qs3c/pricing_server/internal/pkg/money"
	"github.com/qs3c/pricing_server/internal/repository"
)

const activePlansKey = "active"

// CatalogService 套餐目录。读多写少，读路径走过期 LRU 缓存，任何管理写操作都会清空缓存
type CatalogService struct {
	db        *gorm.DB
	planRepo  *repository.PlanRepository
	precision money.Precision
	metrics   *metrics.Metrics
	now       func() time.Time

	activeCache *expirable.LRU[string, []*model.Plan]
	planCache   *expirable.LRU[int64, *model.Plan]
	priceCache  *expirable.LRU[string, *model.PlanPrice]
}

func NewCatalogService(
	db *gorm.DB,
	planRepo *repository.PlanRepository,
	precision money.Precision,
	m *metrics.Metrics,
	cacheTTL time.Duration,
) *CatalogService {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &CatalogService{
		db:          db,
		planRepo:    planRepo,
		precision:   precision,
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
		activeCache: expirable.NewLRU[string, []*model.Plan](1, nil, cacheTTL),
		planCache:   expirable.NewLRU[int64, *model.Plan](256, nil, cacheTTL),
		priceCache:  expirable.NewLRU[string, *model.PlanPrice](1024, nil, cacheTTL),
	}
}

// Invalidate 清空全部缓存
func (s *CatalogService) Invalidate() {
	s.activeCache.Purge()
	s.planCache.Purge()
	s.priceCache.Purge()
}

// GetActivePlans 上架且至少有一个现行价格的套餐，按 sort_order、名称排序
func (s *CatalogService) GetActivePlans() ([]*model.Plan, error) {
	if plans, ok := s.activeCache.Get(activePlansKey); ok {
		s.metrics.CacheLookup(true)
		return plans, nil
	}
	s.metrics.CacheLookup(false)

	plans, err := s.planRepo.ListActiveWithPrices()
	if err != nil {
		return nil, err
	}
	s.activeCache.Add(activePlansKey, plans)
	return plans, nil
}

// GetPlan 获取套餐
func (s *CatalogService) GetPlan(id int64) (*model.Plan, error) {
	if plan, ok := s.planCache.Get(id); ok {
		s.metrics.CacheLookup(true)
		return plan, nil
	}
	s.metrics.CacheLookup(false)

	plan, err := s.planRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	s.planCache.Add(id, plan)
	return plan, nil
}

// CurrentPrice 套餐在 (币种, 周期) 下的现行价格
func (s *CatalogService) CurrentPrice(planID int64, currency, period string) (*model.PlanPrice, error) {
	currency = strings.ToUpper(currency)
	key := fmt.Sprintf("%d:%s:%s", planID, currency, period)
	if price, ok := s.priceCache.Get(key); ok {
		s.metrics.CacheLookup(true)
		return price, nil
	}
	s.metrics.CacheLookup(false)

	price, err := s.planRepo.GetCurrentPrice(planID, currency, period)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoPriceForCombination
		}
		return nil, err
	}
	s.priceCache.Add(key, price)
	return price, nil
}

// GetPrice 价格快照
func (s *CatalogService) GetPrice(planID int64, currency, period string) (money.Money, error) {
	price, err := s.CurrentPrice(planID, currency, period)
	if err != nil {
		return money.Money{}, err
	}
	return money.New(price.Amount, price.Currency), nil
}

// PricesForPeriod 套餐在某周期下所有币种的现行价格
func (s *CatalogService) PricesForPeriod(planID int64, period string) ([]*model.PlanPrice, error) {
	prices, err := s.planRepo.ListPrices(planID, false)
	if err != nil {
		return nil, err
	}
	out := make([]*model.PlanPrice, 0, len(prices))
	for _, p := range prices {
		if p.BillingPeriod == period {
			out = append(out, p)
		}
	}
	return out, nil
}

// ValidateForSubscription 校验套餐可用于新订阅或换套餐
func (s *CatalogService) ValidateForSubscription(plan *model.Plan, period string) error {
	if plan.Status != model.PlanStatusActive {
		return ErrPlanNotActive
	}
	if !plan.SupportsPeriod(period) {
		return ErrPeriodNotSupported
	}
	return nil
}

// GetDefaultPlan 默认套餐，未设置时返回 nil
func (s *CatalogService) GetDefaultPlan() (*model.Plan, error) {
	setting, err := s.planRepo.GetSetting()
	if err != nil {
		return nil, err
	}
	if setting.DefaultPlanID == nil {
		return nil, nil
	}
	return s.GetPlan(*setting.DefaultPlanID)
}

// ActivePlanItems 用户端套餐列表
func (s *CatalogService) ActivePlanItems() ([]*dto.PlanItem, error) {
	plans, err := s.GetActivePlans()
	if err != nil {
		return nil, err
	}
	defaultID, err := s.defaultPlanID()
	if err != nil {
		return nil, err
	}

	items := make([]*dto.PlanItem, 0, len(plans))
	for _, p := range plans {
		prices, err := s.planRepo.ListPrices(p.ID, false)
		if err != nil {
			return nil, err
		}
		items = append(items, s.toPlanItem(p, prices, defaultID))
	}
	return items, nil
}

// PlanItem 单个套餐详情，includeRetired 为 true 时包含已退役的价格版本
func (s *CatalogService) PlanItem(id int64, includeRetired bool) (*dto.PlanItem, error) {
	plan, err := s.GetPlan(id)
	if err != nil {
		return nil, err
	}
	prices, err := s.planRepo.ListPrices(id, includeRetired)
	if err != nil {
		return nil, err
	}
	defaultID, err := s.defaultPlanID()
	if err != nil {
		return nil, err
	}
	return s.toPlanItem(plan, prices, defaultID), nil
}

// ListPlans 管理端列表，包含所有状态
func (s *CatalogService) ListPlans(status string) ([]*dto.PlanItem, error) {
	plans, err := s.planRepo.List(status)
	if err != nil {
		return nil, err
	}
	defaultID, err := s.defaultPlanID()
	if err != nil {
		return nil, err
	}

	items := make([]*dto.PlanItem, 0, len(plans))
	for _, p := range plans {
		prices, err := s.planRepo.ListPrices(p.ID, true)
		if err != nil {
			return nil, err
		}
		items = append(items, s.toPlanItem(p, prices, defaultID))
	}
	return items, nil
}

// CreatePlan 创建草稿套餐
func (s *CatalogService) CreatePlan(req *dto.CreatePlanRequest) (*model.Plan, error) {
	slug := strings.TrimSpace(req.Slug)
	if slug == "" || req.TrialDays < 0 || !validPeriods(req.BillingPeriods) {
		return nil, ErrInvalidPlan
	}
	if _, err := s.planRepo.GetBySlug(slug); err == nil {
		return nil, ErrSlugExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	plan := &model.Plan{
		Slug:           slug,
		Name:           req.Name,
		Description:    req.Description,
		Status:         model.PlanStatusDraft,
		Recommended:    req.Recommended,
		TrialDays:      req.TrialDays,
		BillingPeriods: req.BillingPeriods,
		SortOrder:      req.SortOrder,
		Features:       toFeatures(req.Features),
		Limits:         toLimits(req.Limits),
	}
	if err := s.planRepo.Create(plan); err != nil {
		return nil, err
	}

	s.Invalidate()
	logrus.WithFields(logrus.Fields{"plan_id": plan.ID, "slug": plan.Slug}).Info("plan created")
	return plan, nil
}

// UpdatePlan 更新套餐元数据。上架且已被订阅的套餐 slug 不可修改
func (s *CatalogService) UpdatePlan(id int64, req *dto.UpdatePlanRequest) (*model.Plan, error) {
	plan, err := s.planRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}

	fields := map[string]interface{}{}
	if req.Slug != nil && strings.TrimSpace(*req.Slug) != plan.Slug {
		slug := strings.TrimSpace(*req.Slug)
		if slug == "" {
			return nil, ErrInvalidPlan
		}
		if plan.Status != model.PlanStatusDraft {
			count, err := s.planRepo.CountSubscriptions(id)
			if err != nil {
				return nil, err
			}
			if count > 0 {
				return nil, ErrSlugImmutable
			}
		}
		if _, err := s.planRepo.GetBySlug(slug); err == nil {
			return nil, ErrSlugExists
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		fields["slug"] = slug
	}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if req.Recommended != nil {
		fields["recommended"] = *req.Recommended
	}
	if req.TrialDays != nil {
		if *req.TrialDays < 0 {
			return nil, ErrInvalidPlan
		}
		fields["trial_days"] = *req.TrialDays
	}
	if req.SortOrder != nil {
		fields["sort_order"] = *req.SortOrder
	}
	if req.BillingPeriods != nil {
		if !validPeriods(req.BillingPeriods) {
			return nil, ErrInvalidPlan
		}
		fields["billing_periods"] = model.StringArray(req.BillingPeriods)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.planRepo.WithTx(tx)
		if len(fields) > 0 {
			if err := repo.UpdateFields(id, fields); err != nil {
				return err
			}
		}
		if req.Features != nil {
			if err := repo.ReplaceFeatures(id, toFeatures(req.Features)); err != nil {
				return err
			}
		}
		if req.Limits != nil {
			if err := repo.ReplaceLimits(id, toLimits(req.Limits)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Invalidate()
	return s.planRepo.GetByID(id)
}

// AddPrice 为 (币种, 周期) 新增价格。已有现行价格时必须通过 ReplacePrice 发布新版本
func (s *CatalogService) AddPrice(planID int64, req *dto.PriceRequest) (*model.PlanPrice, error) {
	plan, err := s.planRepo.GetByID(planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if !plan.SupportsPeriod(req.BillingPeriod) {
		return nil, ErrPeriodNotSupported
	}
	if req.Amount < 0 {
		return nil, ErrInvalidAmount
	}

	currency := strings.ToUpper(req.Currency)
	if _, err := s.planRepo.GetCurrentPrice(planID, currency, req.BillingPeriod); err == nil {
		return nil, ErrPriceExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	version, err := nextPriceVersion(s.planRepo, planID, currency, req.BillingPeriod)
	if err != nil {
		return nil, err
	}
	price := &model.PlanPrice{
		PlanID:          planID,
		Currency:        currency,
		BillingPeriod:   req.BillingPeriod,
		Amount:          req.Amount,
		CompareAtAmount: req.CompareAtAmount,
		Version:         version,
	}
	if err := s.planRepo.CreatePrice(price); err != nil {
		return nil, err
	}

	s.Invalidate()
	return price, nil
}

// ReplacePrice 退役现行价格并发布新版本，已订阅的客户保留下单时的价格快照
func (s *CatalogService) ReplacePrice(planID int64, req *dto.PriceRequest) (*model.PlanPrice, error) {
	if req.Amount < 0 {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToUpper(req.Currency)

	var created *model.PlanPrice
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.planRepo.WithTx(tx)
		current, err := repo.GetCurrentPrice(planID, currency, req.BillingPeriod)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPriceNotFound
			}
			return err
		}
		ok, err := repo.RetirePrice(current.ID, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrentModification
		}

		created = &model.PlanPrice{
			PlanID:          planID,
			Currency:        currency,
			BillingPeriod:   req.BillingPeriod,
			Amount:          req.Amount,
			CompareAtAmount: req.CompareAtAmount,
			Version:         current.Version + 1,
		}
		return repo.CreatePrice(created)
	})
	if err != nil {
		return nil, err
	}

	s.Invalidate()
	logrus.WithFields(logrus.Fields{
		"plan_id":  planID,
		"currency": currency,
		"period":   req.BillingPeriod,
		"version":  created.Version,
	}).Info("plan price versioned")
	return created, nil
}

// RetirePrice 退役价格。上架套餐必须至少保留一个现行价格
func (s *CatalogService) RetirePrice(planID, priceID int64) error {
	plan, err := s.planRepo.GetByID(planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPlanNotFound
		}
		return err
	}
	price, err := s.planRepo.GetPriceByID(priceID)
	if err != nil || price.PlanID != planID || price.RetiredAt != nil {
		return ErrPriceNotFound
	}
	if plan.Status == model.PlanStatusActive {
		count, err := s.planRepo.CountCurrentPrices(planID)
		if err != nil {
			return err
		}
		if count <= 1 {
			return ErrPlanHasNoPrice
		}
	}
	if _, err := s.planRepo.RetirePrice(priceID, s.now()); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// ActivatePlan 上架套餐，至少需要一个现行价格
func (s *CatalogService) ActivatePlan(id int64) error {
	if _, err := s.planRepo.GetByID(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPlanNotFound
		}
		return err
	}
	count, err := s.planRepo.CountCurrentPrices(id)
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrPlanHasNoPrice
	}
	if err := s.planRepo.UpdateFields(id, map[string]interface{}{"status": model.PlanStatusActive}); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// DeprecatePlan 下架套餐，现有订阅不受影响。若为默认套餐则同时清除默认
func (s *CatalogService) DeprecatePlan(id int64) error {
	if _, err := s.planRepo.GetByID(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPlanNotFound
		}
		return err
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		repo := s.planRepo.WithTx(tx)
		if err := repo.UpdateFields(id, map[string]interface{}{"status": model.PlanStatusDeprecated}); err != nil {
			return err
		}
		setting, err := repo.GetSetting()
		if err != nil {
			return err
		}
		if setting.DefaultPlanID != nil && *setting.DefaultPlanID == id {
			return repo.SetDefaultPlan(nil)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// SetDefaultPlan 设置默认套餐，必须是上架套餐；nil 清除默认
func (s *CatalogService) SetDefaultPlan(planID *int64) error {
	if planID != nil {
		plan, err := s.planRepo.GetByID(*planID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return err
		}
		if plan.Status != model.PlanStatusActive {
			return ErrPlanNotActive
		}
	}
	if err := s.planRepo.SetDefaultPlan(planID); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

func (s *CatalogService) defaultPlanID() (int64, error) {
	setting, err := s.planRepo.GetSetting()
	if err != nil {
		return 0, err
	}
	if setting.DefaultPlanID == nil {
		return 0, nil
	}
	return *setting.DefaultPlanID, nil
}

func nextPriceVersion(repo *repository.PlanRepository, planID int64, currency, period string) (int, error) {
	all, err := repo.ListPrices(planID, true)
	if err != nil {
		return 0, err
	}
	version := 1
	for _, p := range all {
		if p.Currency == currency && p.BillingPeriod == period && p.Version >= version {
			version = p.Version + 1
		}
	}
	return version, nil
}

func (s *CatalogService) toPlanItem(p *model.Plan, prices []*model.PlanPrice, defaultID int64) *dto.PlanItem {
	item := &dto.PlanItem{
		ID:             p.ID,
		Slug:           p.Slug,
		Name:           p.Name,
		Description:    p.Description,
		Status:         p.Status,
		Recommended:    p.Recommended,
		Default:        p.ID == defaultID,
		TrialDays:      p.TrialDays,
		BillingPeriods: p.BillingPeriods,
		Features:       make([]dto.PlanFeatureItem, 0, len(p.Features)),
		Limits:         make([]dto.PlanLimitItem, 0, len(p.Limits)),
		Prices:         make([]dto.PriceItem, 0, len(prices)),
	}
	for _, f := range p.Features {
		item.Features = append(item.Features, dto.PlanFeatureItem{Key: f.Key, Value: f.Value, Highlighted: f.Highlighted})
	}
	for _, l := range p.Limits {
		item.Limits = append(item.Limits, dto.PlanLimitItem{Resource: l.Resource, Limit: l.Limit})
	}
	for _, pr := range prices {
		item.Prices = append(item.Prices, dto.PriceItem{
			ID:              pr.ID,
			Currency:        pr.Currency,
			BillingPeriod:   pr.BillingPeriod,
			Amount:          pr.Amount,
			CompareAtAmount: pr.CompareAtAmount,
			Version:         pr.Version,
			Display:         s.precision.Format(money.New(pr.Amount, pr.Currency)),
		})
	}
	return item
}

func validPeriods(periods []string) bool {
	if len(periods) == 0 {
		return false
	}
	seen := make(map[string]bool, len(periods))
	for _, p := range periods {
		if !model.ValidPeriod(p) || seen[p] {
			return false
		}
		seen[p] = true
	}
	return true
}

func toFeatures(items []dto.PlanFeatureItem) []model.PlanFeature {
	features := make([]model.PlanFeature, 0, len(items))
	for i, f := range items {
		features = append(features, model.PlanFeature{
			Key:         f.Key,
			Value:       f.Value,
			Highlighted: f.Highlighted,
			SortOrder:   i,
		})
	}
	return features
}

func toLimits(items []dto.PlanLimitItem) []model.PlanLimit {
	limits := make([]model.PlanLimit, 0, len(items))
	for _, l := range items {
		limits = append(limits, model.PlanLimit{Resource: l.Resource, Limit: l.Limit})
	}
	return limits
}
