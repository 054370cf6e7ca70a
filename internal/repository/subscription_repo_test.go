package repository

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/pricing_server/internal/model"
	"github.com/qs3c/pricing_server/internal/testutil"
)

func TestSubscriptionRepository_UpdateWithVersion(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	plan := testutil.TestPlan(t, db)
	created := testutil.TestSubscription(t, db, 1, plan.ID)
	now := time.Now().UTC()

	first, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	stale, err := repo.GetByID(created.ID)
	require.NoError(t, err)

	first.Status = model.StatusPaused
	require.NoError(t, repo.UpdateWithVersion(first, now))
	assert.Equal(t, int64(2), first.Version)

	stale.Status = model.StatusCancelled
	err = repo.UpdateWithVersion(stale, now)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, int64(1), stale.Version)

	found, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, found.Status)
}

func TestSubscriptionRepository_UpdateWritesZeroValues(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	plan := testutil.TestPlan(t, db)
	pending := testutil.TestPlan(t, db)
	created := testutil.TestSubscription(t, db, 1, plan.ID, testutil.WithPendingPlan(pending.ID))

	sub, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	sub.PendingPlanID = nil
	sub.CycleCharged = 0
	require.NoError(t, repo.UpdateWithVersion(sub, time.Now().UTC()))

	found, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.Nil(t, found.PendingPlanID)
	assert.Equal(t, int64(0), found.CycleCharged)
}

func TestSubscriptionRepository_LockBlocksOptimisticUpdate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	plan := testutil.TestPlan(t, db)
	created := testutil.TestSubscription(t, db, 1, plan.ID)
	now := time.Now().UTC()

	ok, err := repo.AcquireLock(created.ID, "tok-1", now.Add(time.Minute), now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.AcquireLock(created.ID, "tok-2", now.Add(time.Minute), now)
	require.NoError(t, err)
	assert.False(t, ok, "second lock must fail")

	locked, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	locked.Status = model.StatusPaused
	assert.ErrorIs(t, repo.UpdateWithVersion(locked, now), ErrVersionConflict)

	locked.Status = model.StatusPastDue
	require.NoError(t, repo.CommitLocked(locked, "tok-1"))

	found, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPastDue, found.Status)
	assert.Empty(t, found.LockToken)
	assert.Nil(t, found.LockedUntil)
	assert.Equal(t, int64(3), found.Version)

	assert.ErrorIs(t, repo.CommitLocked(found, "tok-1"), ErrVersionConflict)
}

func TestSubscriptionRepository_ExpiredLockCanBeTaken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	plan := testutil.TestPlan(t, db)
	created := testutil.TestSubscription(t, db, 1, plan.ID)
	now := time.Now().UTC()

	ok, err := repo.AcquireLock(created.ID, "old", now.Add(-time.Second), now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.AcquireLock(created.ID, "new", now.Add(time.Minute), now)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.ReleaseLock(created.ID, "old"))
	found, err := repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", found.LockToken, "releasing with a stale token leaves the lock")

	require.NoError(t, repo.ReleaseLock(created.ID, "new"))
	found, err = repo.GetByID(created.ID)
	require.NoError(t, err)
	assert.Empty(t, found.LockToken)
}

func TestSubscriptionRepository_ListDue(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	plan := testutil.TestPlan(t, db)
	now := time.Now().UTC().Truncate(time.Second)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	activeDue := testutil.TestSubscription(t, db, 1, plan.ID, testutil.WithCycle(past.AddDate(0, -1, 0), past))
	trialDue := testutil.TestSubscription(t, db, 2, plan.ID, testutil.WithTrialEnds(past))
	retryDue := testutil.TestSubscription(t, db, 3, plan.ID,
		testutil.WithCycle(past.AddDate(0, -1, 0), past), testutil.WithPastDue(1, past))
	resumeDue := testutil.TestSubscription(t, db, 4, plan.ID, testutil.WithPaused(past, &past))

	testutil.TestSubscription(t, db, 5, plan.ID, testutil.WithCycle(now, future))
	testutil.TestSubscription(t, db, 6, plan.ID, testutil.WithTrialEnds(future))
	testutil.TestSubscription(t, db, 7, plan.ID,
		testutil.WithCycle(past.AddDate(0, -1, 0), past), testutil.WithPastDue(1, future))
	testutil.TestSubscription(t, db, 8, plan.ID, testutil.WithPaused(past, nil))
	testutil.TestSubscription(t, db, 9, plan.ID,
		testutil.WithCycle(past.AddDate(0, -1, 0), past), testutil.WithStatus(model.StatusCancelled))
	testutil.TestSubscription(t, db, 10, plan.ID,
		testutil.WithCycle(past.AddDate(0, -1, 0), past), testutil.WithStatus(model.StatusExpired))

	due, err := repo.ListDue(now, 0)
	require.NoError(t, err)

	ids := make([]int64, 0, len(due))
	for _, s := range due {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []int64{activeDue.ID, trialDue.ID, retryDue.ID, resumeDue.ID}, ids)
}

func TestSubscriptionRepository_ClaimDueOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	plan := testutil.TestPlan(t, db)
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	sub := testutil.TestSubscription(t, db, 1, plan.ID, testutil.WithCycle(past.AddDate(0, -1, 0), past))

	var wg sync.WaitGroup
	var claimed int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ClaimDue(sub.ID, "claim", now.Add(time.Minute), now)
			if err == nil && ok {
				atomic.AddInt32(&claimed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), claimed)

	due, err := repo.ListDue(now, 0)
	require.NoError(t, err)
	assert.Empty(t, due, "claimed subscriptions are not listed")
}

func TestSubscriptionRepository_ClaimDueRejectsNotDue(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	plan := testutil.TestPlan(t, db)
	sub := testutil.TestSubscription(t, db, 1, plan.ID)
	now := time.Now().UTC()

	ok, err := repo.ClaimDue(sub.ID, "claim", now.Add(time.Minute), now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscriptionRepository_Purge(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	ledger := NewLedgerRepository(db)
	plan := testutil.TestPlan(t, db)
	sub := testutil.TestSubscription(t, db, 1, plan.ID)
	keep := testutil.TestSubscription(t, db, 2, plan.ID)

	require.NoError(t, ledger.Append(&model.LedgerEntry{SubscriptionID: sub.ID, EventType: model.LedgerCreated, Currency: "USD"}))
	require.NoError(t, ledger.Append(&model.LedgerEntry{SubscriptionID: keep.ID, EventType: model.LedgerCreated, Currency: "USD"}))

	require.NoError(t, repo.Purge(sub.ID))

	_, err := repo.GetByID(sub.ID)
	assert.Error(t, err)
	count, err := ledger.CountBySubscription(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	count, err = ledger.CountBySubscription(keep.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	assert.Error(t, repo.Purge(sub.ID))
}

func TestSubscriptionRepository_ListByUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	plan := testutil.TestPlan(t, db)
	testutil.TestSubscription(t, db, 1, plan.ID)
	testutil.TestSubscription(t, db, 1, plan.ID, testutil.WithStatus(model.StatusCancelled))
	testutil.TestSubscription(t, db, 2, plan.ID)

	subs, err := repo.ListByUser(1)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	all, total, err := repo.List(model.StatusActive, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)
}
