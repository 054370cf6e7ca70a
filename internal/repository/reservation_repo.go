package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/pricing_server/internal/model"
)

type ReservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// WithTx 返回绑定到事务的仓储
func (r *ReservationRepository) WithTx(tx *gorm.DB) *ReservationRepository {
	return &ReservationRepository{db: tx}
}

func (r *ReservationRepository) Create(res *model.ChargeReservation) error {
	return r.db.Create(res).Error
}

func (r *ReservationRepository) GetByToken(token string) (*model.ChargeReservation, error) {
	var res model.ChargeReservation
	err := r.db.Where("token = ?", token).First(&res).Error
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Transition 条件更新状态：仅当当前状态在 from 中时生效，返回是否更新成功
func (r *ReservationRepository) Transition(token string, from []string, to string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := r.db.Model(&model.ChargeReservation{}).
		Where("token = ? AND status IN ?", token, from).
		Updates(updates)
	return result.RowsAffected == 1, result.Error
}

// ListRefundable 订阅上已提交且仍有可退金额的扣款，最新的在前
func (r *ReservationRepository) ListRefundable(subscriptionID int64, operations []string) ([]*model.ChargeReservation, error) {
	var list []*model.ChargeReservation
	err := r.db.Where("subscription_id = ? AND operation IN ? AND status = ? AND payment_ref <> '' AND refunded < amount",
		subscriptionID, operations, model.ReservationCommitted).
		Order("id DESC").
		Find(&list).Error
	return list, err
}

// AddRefunded 累加扣款上已退回的金额，不允许超过原扣款
func (r *ReservationRepository) AddRefunded(token string, amount int64) (bool, error) {
	result := r.db.Model(&model.ChargeReservation{}).
		Where("token = ? AND refunded + ? <= amount", token, amount).
		Update("refunded", gorm.Expr("refunded + ?", amount))
	return result.RowsAffected == 1, result.Error
}

// ListStale 指定状态下创建时间早于 before 的预留
func (r *ReservationRepository) ListStale(statuses []string, before time.Time, limit int) ([]*model.ChargeReservation, error) {
	var list []*model.ChargeReservation
	query := r.db.Where("status IN ? AND created_at < ?", statuses, before).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&list).Error
	return list, err
}

func (r *ReservationRepository) CountByStatus(status string) (int64, error) {
	var count int64
	err := r.db.Model(&model.ChargeReservation{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// CountUnresolved 订阅上结果未知或扣款后未落库的预留数
func (r *ReservationRepository) CountUnresolved(subscriptionID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.ChargeReservation{}).
		Where("subscription_id = ? AND status IN ?", subscriptionID,
			[]string{model.ReservationUnknown, model.ReservationCharged}).
		Count(&count).Error
	return count, err
}
