package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/pricing_server/internal/model"
	"github.com/qs3c/pricing_server/internal/testutil"
)

func newReservation(token string, subID int64, status string, createdAt time.Time) *model.ChargeReservation {
	return &model.ChargeReservation{
		Token:          token,
		SubscriptionID: subID,
		UserID:         1,
		Operation:      "renew",
		Amount:         1000,
		Currency:       "USD",
		Status:         status,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestReservationRepository_Transition(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewReservationRepository(db)
	require.NoError(t, repo.Create(newReservation("tok-1", 1, model.ReservationReserved, time.Now().UTC())))

	ok, err := repo.Transition("tok-1", []string{model.ReservationReserved}, model.ReservationCharged,
		map[string]interface{}{"payment_ref": "ch_1"})
	require.NoError(t, err)
	assert.True(t, ok)

	// 状态已变化，同一条件不会再次生效
	ok, err = repo.Transition("tok-1", []string{model.ReservationReserved}, model.ReservationFailed, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByToken("tok-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCharged, got.Status)
	assert.Equal(t, "ch_1", got.PaymentRef)

	_, err = repo.GetByToken("missing")
	assert.Error(t, err)
}

func TestReservationRepository_ListStale(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewReservationRepository(db)
	now := time.Now().UTC()
	require.NoError(t, repo.Create(newReservation("old-unknown", 1, model.ReservationUnknown, now.Add(-2*time.Hour))))
	require.NoError(t, repo.Create(newReservation("old-reserved", 2, model.ReservationReserved, now.Add(-time.Hour))))
	require.NoError(t, repo.Create(newReservation("old-committed", 3, model.ReservationCommitted, now.Add(-time.Hour))))
	require.NoError(t, repo.Create(newReservation("fresh", 4, model.ReservationReserved, now)))

	statuses := []string{model.ReservationReserved, model.ReservationUnknown, model.ReservationCharged}
	list, err := repo.ListStale(statuses, now.Add(-15*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "old-unknown", list[0].Token)
	assert.Equal(t, "old-reserved", list[1].Token)

	list, err = repo.ListStale(statuses, now.Add(-15*time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestReservationRepository_Counts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewReservationRepository(db)
	now := time.Now().UTC()
	require.NoError(t, repo.Create(newReservation("a", 1, model.ReservationUnknown, now)))
	require.NoError(t, repo.Create(newReservation("b", 1, model.ReservationCharged, now)))
	require.NoError(t, repo.Create(newReservation("c", 1, model.ReservationCommitted, now)))
	require.NoError(t, repo.Create(newReservation("d", 2, model.ReservationUnknown, now)))

	n, err := repo.CountUnresolved(1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.CountByStatus(model.ReservationUnknown)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestReservationRepository_Refundable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewReservationRepository(db)
	now := time.Now().UTC()
	create := newReservation("create", 1, model.ReservationCommitted, now)
	create.Operation = "create"
	create.PaymentRef = "ch_create"
	upgrade := newReservation("upgrade", 1, model.ReservationCommitted, now)
	upgrade.Operation = "upgrade"
	upgrade.PaymentRef = "ch_upgrade"
	pending := newReservation("pending", 1, model.ReservationCharged, now)
	pending.PaymentRef = "ch_pending"
	other := newReservation("other", 2, model.ReservationCommitted, now)
	other.PaymentRef = "ch_other"
	for _, res := range []*model.ChargeReservation{create, upgrade, pending, other} {
		require.NoError(t, repo.Create(res))
	}

	ops := []string{"create", "renew", "upgrade"}
	list, err := repo.ListRefundable(1, ops)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "upgrade", list[0].Token)
	assert.Equal(t, "create", list[1].Token)

	ok, err := repo.AddRefunded("upgrade", 600)
	require.NoError(t, err)
	assert.True(t, ok)

	// 超出剩余可退金额时不更新
	ok, err = repo.AddRefunded("upgrade", 500)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.AddRefunded("upgrade", 400)
	require.NoError(t, err)
	assert.True(t, ok)

	list, err = repo.ListRefundable(1, ops)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "create", list[0].Token)

	got, err := repo.GetByToken("upgrade")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Refunded)
}
