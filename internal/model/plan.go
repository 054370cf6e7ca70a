package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// 套餐状态
const (
	PlanStatusDraft      = "draft"
	PlanStatusActive     = "active"
	PlanStatusDeprecated = "deprecated"
)

// 计费周期
const (
	PeriodWeekly    = "weekly"
	PeriodMonthly   = "monthly"
	PeriodQuarterly = "quarterly"
	PeriodYearly    = "yearly"
)

// AdvancePeriod 返回从 from 开始一个计费周期后的时间
func AdvancePeriod(from time.Time, period string) time.Time {
	switch period {
	case PeriodWeekly:
		return from.AddDate(0, 0, 7)
	case PeriodQuarterly:
		return from.AddDate(0, 3, 0)
	case PeriodYearly:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// ValidPeriod 是否为已知的计费周期
func ValidPeriod(period string) bool {
	switch period {
	case PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodYearly:
		return true
	}
	return false
}

// StringArray 用于 JSON 数组字段（套餐支持的计费周期，有序）
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return nil
}

func (s StringArray) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

type Plan struct {
	ID             int64         `gorm:"primaryKey" json:"id"`
	Slug           string        `gorm:"size:100;uniqueIndex;not null" json:"slug"`
	Name           string        `gorm:"size:200;not null" json:"name"`
	Description    string        `gorm:"type:text" json:"description,omitempty"`
	Status         string        `gorm:"size:20;default:draft;index" json:"status"` // draft, active, deprecated
	Recommended    bool          `gorm:"default:false" json:"recommended"`
	TrialDays      int           `gorm:"default:0" json:"trial_days"`
	BillingPeriods StringArray   `gorm:"type:text" json:"billing_periods"`
	SortOrder      int           `gorm:"default:0" json:"sort_order"`
	Features       []PlanFeature `gorm:"foreignKey:PlanID" json:"features,omitempty"`
	Limits         []PlanLimit   `gorm:"foreignKey:PlanID" json:"limits,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (Plan) TableName() string {
	return "plans"
}

// SupportsPeriod 套餐是否支持该计费周期
func (p *Plan) SupportsPeriod(period string) bool {
	return p.BillingPeriods.Contains(period)
}

// PlanPrice 套餐在 (币种, 计费周期) 下的价格。已被订阅引用的价格不可修改，只能追加新版本
type PlanPrice struct {
	ID              int64      `gorm:"primaryKey" json:"id"`
	PlanID          int64      `gorm:"not null;index:idx_plan_price_lookup" json:"plan_id"`
	Currency        string     `gorm:"size:3;not null;index:idx_plan_price_lookup" json:"currency"`
	BillingPeriod   string     `gorm:"size:20;not null;index:idx_plan_price_lookup" json:"billing_period"`
	Amount          int64      `gorm:"not null" json:"amount"`
	CompareAtAmount *int64     `json:"compare_at_amount,omitempty"`
	Version         int        `gorm:"not null;default:1" json:"version"`
	RetiredAt       *time.Time `gorm:"index" json:"retired_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (PlanPrice) TableName() string {
	return "plan_prices"
}

type PlanFeature struct {
	ID          int64  `gorm:"primaryKey" json:"-"`
	PlanID      int64  `gorm:"not null;index" json:"-"`
	Key         string `gorm:"size:100;not null" json:"key"`
	Value       string `gorm:"size:255" json:"value"`
	Highlighted bool   `gorm:"default:false" json:"highlighted"`
	SortOrder   int    `gorm:"default:0" json:"-"`
}

func (PlanFeature) TableName() string {
	return "plan_features"
}

type PlanLimit struct {
	ID       int64  `gorm:"primaryKey" json:"-"`
	PlanID   int64  `gorm:"not null;uniqueIndex:idx_plan_limit" json:"-"`
	Resource string `gorm:"size:100;not null;uniqueIndex:idx_plan_limit" json:"resource"`
	Limit    int64  `gorm:"column:limit_value;not null" json:"limit"`
}

func (PlanLimit) TableName() string {
	return "plan_limits"
}

// CatalogSetting 全局单行配置，默认套餐以引用形式保存，保证同时至多一个默认套餐
type CatalogSetting struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	DefaultPlanID *int64    `json:"default_plan_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (CatalogSetting) TableName() string {
	return "catalog_settings"
}

// CatalogSettingID 目录配置的固定行 ID
const CatalogSettingID = 1
