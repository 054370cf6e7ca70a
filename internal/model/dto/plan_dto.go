package dto

// PlanFeatureItem 套餐功能项
type PlanFeatureItem struct {
	Key         string `json:"key" binding:"required,max=100"`
	Value       string `json:"value"`
	Highlighted bool   `json:"highlighted"`
}

// PlanLimitItem 套餐用量限制
type PlanLimitItem struct {
	Resource string `json:"resource" binding:"required,max=100"`
	Limit    int64  `json:"limit"`
}

// PriceItem 价格展示
type PriceItem struct {
	ID              int64  `json:"id"`
	Currency        string `json:"currency"`
	BillingPeriod   string `json:"billing_period"`
	Amount          int64  `json:"amount"`
	CompareAtAmount *int64 `json:"compare_at_amount,omitempty"`
	Version         int    `json:"version"`
	Display         string `json:"display"`
}

// PlanItem 套餐展示
type PlanItem struct {
	ID             int64             `json:"id"`
	Slug           string            `json:"slug"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Status         string            `json:"status"`
	Recommended    bool              `json:"recommended"`
	Default        bool              `json:"default"`
	TrialDays      int               `json:"trial_days"`
	BillingPeriods []string          `json:"billing_periods"`
	Features       []PlanFeatureItem `json:"features"`
	Limits         []PlanLimitItem   `json:"limits"`
	Prices         []PriceItem       `json:"prices"`
}

// CreatePlanRequest 创建套餐请求（草稿）
type CreatePlanRequest struct {
	Slug           string            `json:"slug" binding:"required,max=100"`
	Name           string            `json:"name" binding:"required,max=200"`
	Description    string            `json:"description"`
	Recommended    bool              `json:"recommended"`
	TrialDays      int               `json:"trial_days" binding:"min=0"`
	BillingPeriods []string          `json:"billing_periods" binding:"required,min=1"`
	SortOrder      int               `json:"sort_order"`
	Features       []PlanFeatureItem `json:"features"`
	Limits         []PlanLimitItem   `json:"limits"`
}

// UpdatePlanRequest 更新套餐请求，nil 字段保持不变
type UpdatePlanRequest struct {
	Slug           *string           `json:"slug" binding:"omitempty,max=100"`
	Name           *string           `json:"name" binding:"omitempty,max=200"`
	Description    *string           `json:"description"`
	Recommended    *bool             `json:"recommended"`
	TrialDays      *int              `json:"trial_days" binding:"omitempty,min=0"`
	BillingPeriods []string          `json:"billing_periods"`
	SortOrder      *int              `json:"sort_order"`
	Features       []PlanFeatureItem `json:"features"`
	Limits         []PlanLimitItem   `json:"limits"`
}

// PriceRequest 新增或发布新版本价格
type PriceRequest struct {
	Currency        string `json:"currency" binding:"required,len=3"`
	BillingPeriod   string `json:"billing_period" binding:"required"`
	Amount          int64  `json:"amount" binding:"min=0"`
	CompareAtAmount *int64 `json:"compare_at_amount"`
}

// DefaultPlanRequest 设置默认套餐，plan_id 为空表示清除
type DefaultPlanRequest struct {
	PlanID *int64 `json:"plan_id"`
}

// PlanListRequest 管理端套餐列表
type PlanListRequest struct {
	Status string `form:"status"`
}
