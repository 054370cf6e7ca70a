package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/pricing_server/internal/model"
)

// LedgerRepository 只提供追加和查询，账本不可修改
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *LedgerRepository) WithTx(tx *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: tx}
}

func (r *LedgerRepository) Append(entry *model.LedgerEntry) error {
	return r.db.Create(entry).Error
}

func (r *LedgerRepository) ListBySubscription(subscriptionID int64) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.Where("subscription_id = ?", subscriptionID).Order("id ASC").Find(&entries).Error
	return entries, err
}

func (r *LedgerRepository) CountBySubscription(subscriptionID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.LedgerEntry{}).Where("subscription_id = ?", subscriptionID).Count(&count).Error
	return count, err
}

// Last 最近一条账本记录
func (r *LedgerRepository) Last(subscriptionID int64) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.db.Where("subscription_id = ?", subscriptionID).Order("id DESC").First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// SumBySubscription 账本金额合计
func (r *LedgerRepository) SumBySubscription(subscriptionID int64) (int64, error) {
	var sum int64
	err := r.db.Model(&model.LedgerEntry{}).
		Where("subscription_id = ?", subscriptionID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}
