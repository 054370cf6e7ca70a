package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/pricing_server/internal/model"
)

// ErrVersionConflict 乐观锁版本不匹配或订阅被其他操作锁定
var ErrVersionConflict = errors.New("subscription version conflict")

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *SubscriptionRepository) WithTx(tx *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: tx}
}

func (r *SubscriptionRepository) Create(sub *model.Subscription) error {
	if sub.Version == 0 {
		sub.Version = 1
	}
	return r.db.Create(sub).Error
}

func (r *SubscriptionRepository) GetByID(id int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("id = ?", id).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) ListByUser(userID int64) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&subs).Error
	return subs, err
}

// List 管理端分页列表，status 为空时不过滤
func (r *SubscriptionRepository) List(status string, page, pageSize int) ([]*model.Subscription, int64, error) {
	var subs []*model.Subscription
	var total int64

	query := r.db.Model(&model.Subscription{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&subs).Error
	return subs, total, err
}

// unlocked 未加锁或锁已过期
func unlocked(db *gorm.DB, now time.Time) *gorm.DB {
	return db.Where("(lock_token = '' OR locked_until IS NULL OR locked_until < ?)", now)
}

// UpdateWithVersion 乐观更新整行：要求版本一致且未被锁定，成功后 sub.Version 自增
func (r *SubscriptionRepository) UpdateWithVersion(sub *model.Subscription, now time.Time) error {
	expected := sub.Version
	sub.Version = expected + 1
	sub.LockToken = ""
	sub.LockedUntil = nil

	result := unlocked(r.db.Model(&model.Subscription{}), now).
		Where("id = ? AND version = ?", sub.ID, expected).
		Select("*").Omit("id", "created_at").
		Updates(sub)
	if result.Error != nil {
		sub.Version = expected
		return result.Error
	}
	if result.RowsAffected == 0 {
		sub.Version = expected
		return ErrVersionConflict
	}
	return nil
}

// CommitLocked 持锁方写回整行并释放锁
func (r *SubscriptionRepository) CommitLocked(sub *model.Subscription, token string) error {
	if token == "" {
		return ErrVersionConflict
	}
	var current model.Subscription
	if err := r.db.Select("version").Where("id = ? AND lock_token = ?", sub.ID, token).First(&current).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrVersionConflict
		}
		return err
	}

	sub.Version = current.Version + 1
	sub.LockToken = ""
	sub.LockedUntil = nil
	result := r.db.Model(&model.Subscription{}).
		Where("id = ? AND lock_token = ?", sub.ID, token).
		Select("*").Omit("id", "created_at").
		Updates(sub)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// AcquireLock 为扣款流程加锁，同时推进版本号使并发的乐观更新失败
func (r *SubscriptionRepository) AcquireLock(id int64, token string, until, now time.Time) (bool, error) {
	result := unlocked(r.db.Model(&model.Subscription{}), now).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"lock_token":   token,
			"locked_until": until,
			"version":      gorm.Expr("version + 1"),
		})
	return result.RowsAffected == 1, result.Error
}

// ReleaseLock 释放锁，不修改其他字段
func (r *SubscriptionRepository) ReleaseLock(id int64, token string) error {
	return r.db.Model(&model.Subscription{}).
		Where("id = ? AND lock_token = ?", id, token).
		Updates(map[string]interface{}{
			"lock_token":   "",
			"locked_until": nil,
		}).Error
}

// due 到期条件：试用结束、周期结束、重试时间到、计划恢复时间到。
// 存在结果未知的扣款时不再认领，等待对账
func due(db *gorm.DB, now time.Time) *gorm.DB {
	return db.Where(
		"(status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at <= ?) OR "+
			"(status = ? AND ends_at <= ?) OR "+
			"(status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?) OR "+
			"(status = ? AND resume_at IS NOT NULL AND resume_at <= ?)",
		model.StatusTrialing, now,
		model.StatusActive, now,
		model.StatusPastDue, now,
		model.StatusPaused, now,
	).Where(
		"NOT EXISTS (SELECT 1 FROM charge_reservations cr WHERE cr.subscription_id = subscriptions.id AND cr.status IN ?)",
		[]string{model.ReservationUnknown, model.ReservationCharged},
	)
}

// ListDue 当前到期且未被处理中的订阅
func (r *SubscriptionRepository) ListDue(now time.Time, limit int) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	query := unlocked(due(r.db.Model(&model.Subscription{}), now), now).Order("ends_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&subs).Error
	return subs, err
}

// ClaimDue 认领到期订阅：条件更新写入锁令牌，只有更新成功的一方获得该订阅
func (r *SubscriptionRepository) ClaimDue(id int64, token string, until, now time.Time) (bool, error) {
	result := unlocked(due(r.db.Model(&model.Subscription{}), now), now).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"lock_token":   token,
			"locked_until": until,
			"version":      gorm.Expr("version + 1"),
		})
	return result.RowsAffected == 1, result.Error
}

// ListLockExpired 锁已过期但未释放的订阅，对账使用
func (r *SubscriptionRepository) ListLockExpired(now time.Time, limit int) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.Where("lock_token <> '' AND locked_until < ?", now).
		Order("locked_until ASC").Limit(limit).Find(&subs).Error
	return subs, err
}

// Purge 物理删除订阅及其账本和扣款预留，仅管理员使用
func (r *SubscriptionRepository) Purge(id int64) error {
	if err := r.db.Where("subscription_id = ?", id).Delete(&model.LedgerEntry{}).Error; err != nil {
		return err
	}
	if err := r.db.Where("subscription_id = ?", id).Delete(&model.ChargeReservation{}).Error; err != nil {
		return err
	}
	result := r.db.Where("id = ?", id).Delete(&model.Subscription{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
