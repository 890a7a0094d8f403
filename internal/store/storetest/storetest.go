// Package storetest holds the behavioural contract every store.AssetStore
// implementation must satisfy. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/qrtrack/internal/models"
	"github.com/wolfeidau/qrtrack/internal/store"
)

// Factory returns a fresh, empty store. It is called once per subtest.
type Factory func(t *testing.T) store.AssetStore

var (
	userA    = models.Principal{ID: "u1", Name: "Una User", Role: models.RoleUser}
	userB    = models.Principal{ID: "u2", Name: "Ben User", Role: models.RoleUser}
	employee = models.Principal{ID: "e1", Name: "Eve Employee", Role: models.RoleEmployee}
)

// Run executes the full contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("create and get", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("create duplicate", func(t *testing.T) { testCreateDuplicate(t, newStore(t)) })
	t.Run("not found", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("create bulk", func(t *testing.T) { testCreateBulk(t, newStore(t)) })
	t.Run("create bulk is all or nothing", func(t *testing.T) { testCreateBulkAtomic(t, newStore(t)) })
	t.Run("list by status", func(t *testing.T) { testListByStatus(t, newStore(t)) })
	t.Run("list by custodian", func(t *testing.T) { testListByCustodian(t, newStore(t)) })
	t.Run("list all pages", func(t *testing.T) { testListAllPages(t, newStore(t)) })
	t.Run("apply transition", func(t *testing.T) { testApplyTransition(t, newStore(t)) })
	t.Run("apply transition conflict", func(t *testing.T) { testApplyTransitionConflict(t, newStore(t)) })
	t.Run("apply transition missing asset", func(t *testing.T) { testApplyTransitionMissing(t, newStore(t)) })
	t.Run("concurrent activation", func(t *testing.T) { testConcurrentActivation(t, newStore(t)) })
	t.Run("history", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("cancelled context writes nothing", func(t *testing.T) { testCancelledContext(t, newStore(t)) })
}

// Activate returns the decision the lifecycle engine makes for an activation.
func Activate(actor models.Principal) store.Decision {
	id := actor.ID
	return store.Decision{
		From:        models.StatusInactive,
		To:          models.StatusActive,
		CustodianID: &id,
		Note:        "asset activated by custodian",
	}
}

// Complete returns the decision the lifecycle engine makes for a completion.
func Complete(custodianID string) store.Decision {
	return store.Decision{
		From:        models.StatusActive,
		To:          models.StatusCompleted,
		CustodianID: &custodianID,
		Note:        "asset completed",
	}
}

func testCreateAndGet(t *testing.T, st store.AssetStore) {
	ctx := context.Background()

	created, err := st.CreateAsset(ctx, "QR_100")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)
	require.Equal(t, "QR_100", created.Code)
	require.Equal(t, models.StatusInactive, created.Status)
	require.Nil(t, created.CustodianID)
	require.False(t, created.CreatedAt.IsZero())

	byCode, err := st.GetByCode(ctx, "QR_100")
	require.NoError(t, err)
	require.Equal(t, created.ID, byCode.ID)
	require.Equal(t, models.StatusInactive, byCode.Status)
	require.Nil(t, byCode.CustodianID)

	byID, err := st.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "QR_100", byID.Code)
	require.WithinDuration(t, created.CreatedAt, byID.CreatedAt, time.Millisecond)
}

func testCreateDuplicate(t *testing.T, st store.AssetStore) {
	ctx := context.Background()

	_, err := st.CreateAsset(ctx, "QR_1")
	require.NoError(t, err)

	_, err = st.CreateAsset(ctx, "QR_1")
	require.ErrorIs(t, err, store.ErrDuplicateCode)
}

func testNotFound(t *testing.T, st store.AssetStore) {
	ctx := context.Background()

	_, err := st.GetByCode(ctx, "missing")
	require.ErrorIs(t, err, store.ErrAssetNotFound)

	_, err = st.GetByID(ctx, store.NewID())
	require.ErrorIs(t, err, store.ErrAssetNotFound)

	_, err = st.GetHistory(ctx, store.NewID())
	require.ErrorIs(t, err, store.ErrAssetNotFound)
}

func testCreateBulk(t *testing.T, st store.AssetStore) {
	ctx := context.Background()

	created, err := st.CreateBulk(ctx, []string{"A", "B", "A", "C"})
	require.NoError(t, err)
	require.Len(t, created, 3)

	codes := make([]string, 0, len(created))
	for _, a := range created {
		require.Equal(t, models.StatusInactive, a.Status)
		require.Nil(t, a.CustodianID)
		codes = append(codes, a.Code)
	}
	require.ElementsMatch(t, []string{"A", "B", "C"}, codes)

	inactive, err := st.ListByStatus(ctx, models.StatusInactive)
	require.NoError(t, err)
	require.Len(t, inactive, 3)
}

func testCreateBulkAtomic(t *testing.T, st store.AssetStore) {
	ctx := context.Background()

	_, err := st.CreateAsset(ctx, "B")
	require.NoError(t, err)

	_, err = st.CreateBulk(ctx, []string{"A", "B", "A", "C"})
	require.ErrorIs(t, err, store.ErrDuplicateCode)

	var dupErr *store.DuplicateCodesError
	require.ErrorAs(t, err, &dupErr)
	require.Equal(t, []string{"B"}, dupErr.Codes)

	for _, code := range []string{"A", "C"} {
		_, err := st.GetByCode(ctx, code)
		require.ErrorIs(t, err, store.ErrAssetNotFound, "code %s must not be created", code)
	}

	all, err := st.ListAll(ctx, 100, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func testListByStatus(t *testing.T, st store.AssetStore) {
	ctx := context.Background()

	first := mustCreate(t, st, "S1")
	second := mustCreate(t, st, "S2")
	activated := mustCreate(t, st, "S3")
	_, err := st.ApplyTransition(ctx, store.TransitionRequest{
		AssetID:  activated.ID,
		Decision: Activate(userA),
		Actor:    userA,
	})
	require.NoError(t, err)

	inactive, err := st.ListByStatus(ctx, models.StatusInactive)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{second.ID, first.ID}, ids(inactive))

	again, err := st.ListByStatus(ctx, models.StatusInactive)
	require.NoError(t, err)
	require.Equal(t, inactive, again, "repeated reads must be identical")

	active, err := st.ListByStatus(ctx, models.StatusActive)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{activated.ID}, ids(active))

	completed, err := st.ListByStatus(ctx, models.StatusCompleted)
	require.NoError(t, err)
	require.Empty(t, completed)
}

func testListByCustodian(t *testing.T, st store.AssetStore) {
	ctx := context.Background()

	a := mustCreate(t, st, "C1")
	b := mustCreate(t, st, "C2")
	other := mustCreate(t, st, "C3")

	for _, id := range []uuid.UUID{b.ID, a.ID} {
		_, err := st.ApplyTransition(ctx, store.TransitionRequest{AssetID: id, Decision: Activate(userA), Actor: userA})
		require.NoError(t, err)
	}
	_, err := st.ApplyTransition(ctx, store.TransitionRequest{AssetID: other.ID, Decision: Activate(userB), Actor: userB})
	require.NoError(t, err)

	mine, err := st.ListByCustodian(ctx, userA.ID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{a.ID, b.ID}, ids(mine), "most recently updated first")

	// Completing b moves it to the front while the custodian stays the same
	_, err = st.ApplyTransition(ctx, store.TransitionRequest{AssetID: b.ID, Decision: Complete(userA.ID), Actor: employee})
	require.NoError(t, err)

	mine, err = st.ListByCustodian(ctx, userA.ID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{b.ID, a.ID}, ids(mine))

	none, err := st.ListByCustodian(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, none)
}

func testListAllPages(t *testing.T, st store.AssetStore) {
	ctx := context.Background()

	var want []uuid.UUID
	for i := range 5 {
		a := mustCreate(t, st, fmt.Sprintf("P%d", i))
		want = append([]uuid.UUID{a.ID}, want...)
	}

	var got []uuid.UUID
	for offset := 0; ; offset += 2 {
		page, err := st.ListAll(ctx, 2, offset)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		require.LessOrEqual(t, len(page), 2)
		got = append(got, ids(page)...)
	}
	require.Equal(t, want, got)

	beyond, err := st.ListAll(ctx, 10, 100)
	require.NoError(t, err)
	require.Empty(t, beyond)
}

func testApplyTransition(t *testing.T, st store.AssetStore) {
	ctx := context.Background()
	asset := mustCreate(t, st, "T1")

	active, err := st.ApplyTransition(ctx, store.TransitionRequest{
		AssetID:  asset.ID,
		Decision: Activate(userA),
		Actor:    userA,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, active.Status)
	require.NotNil(t, active.CustodianID)
	require.Equal(t, userA.ID, *active.CustodianID)
	require.False(t, active.UpdatedAt.Before(asset.UpdatedAt))

	completed, err := st.ApplyTransition(ctx, store.TransitionRequest{
		AssetID:  asset.ID,
		Decision: Complete(*active.CustodianID),
		Actor:    employee,
		Notes:    "done",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, completed.Status)
	require.Equal(t, userA.ID, *completed.CustodianID, "custodian unchanged on complete")

	stored, err := st.GetByCode(ctx, "T1")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, stored.Status)
	require.Equal(t, userA.ID, *stored.CustodianID)
}

func testApplyTransitionConflict(t *testing.T, st store.AssetStore) {
	ctx := context.Background()
	asset := mustCreate(t, st, "X1")

	_, err := st.ApplyTransition(ctx, store.TransitionRequest{AssetID: asset.ID, Decision: Activate(userA), Actor: userA})
	require.NoError(t, err)

	before, err := st.GetByID(ctx, asset.ID)
	require.NoError(t, err)

	// A stale decision based on the inactive read
	_, err = st.ApplyTransition(ctx, store.TransitionRequest{AssetID: asset.ID, Decision: Activate(userB), Actor: userB})
	require.ErrorIs(t, err, store.ErrConflict)

	after, err := st.GetByID(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, before, after, "conflict must not write")

	history, err := st.GetHistory(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func testApplyTransitionMissing(t *testing.T, st store.AssetStore) {
	_, err := st.ApplyTransition(context.Background(), store.TransitionRequest{
		AssetID:  store.NewID(),
		Decision: Activate(userA),
		Actor:    userA,
	})
	require.ErrorIs(t, err, store.ErrAssetNotFound)
}

func testConcurrentActivation(t *testing.T, st store.AssetStore) {
	ctx := context.Background()
	asset := mustCreate(t, st, "RACE")

	const contenders = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	start := make(chan struct{})
	for i := range contenders {
		actor := models.Principal{ID: fmt.Sprintf("racer-%d", i), Name: "Racer", Role: models.RoleUser}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := st.ApplyTransition(ctx, store.TransitionRequest{AssetID: asset.ID, Decision: Activate(actor), Actor: actor})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case isConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, contenders-1, conflicts)

	history, err := st.GetHistory(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)

	stored, err := st.GetByID(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, stored.Status)
	require.Equal(t, history[0].ActorID, *stored.CustodianID)
}

func testHistory(t *testing.T, st store.AssetStore) {
	ctx := context.Background()
	asset := mustCreate(t, st, "H1")

	empty, err := st.GetHistory(ctx, asset.ID)
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = st.ApplyTransition(ctx, store.TransitionRequest{AssetID: asset.ID, Decision: Activate(userA), Actor: userA})
	require.NoError(t, err)
	_, err = st.ApplyTransition(ctx, store.TransitionRequest{AssetID: asset.ID, Decision: Complete(userA.ID), Actor: employee, Notes: "done"})
	require.NoError(t, err)

	history, err := st.GetHistory(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	latest := history[0]
	require.Equal(t, asset.ID, latest.AssetID)
	require.Equal(t, models.StatusActive, latest.FromStatus)
	require.Equal(t, models.StatusCompleted, latest.ToStatus)
	require.Equal(t, employee.ID, latest.ActorID)
	require.Equal(t, employee.Name, latest.ActorName)
	require.NotNil(t, latest.Notes)
	require.Equal(t, "done", *latest.Notes)

	first := history[1]
	require.Equal(t, models.StatusInactive, first.FromStatus)
	require.Equal(t, models.StatusActive, first.ToStatus)
	require.Equal(t, userA.ID, first.ActorID)
	require.Equal(t, userA.Name, first.ActorName)
	require.NotNil(t, first.Notes)
	require.Equal(t, "asset activated by custodian", *first.Notes)

	require.False(t, latest.ChangedAt.Before(first.ChangedAt))
}

func testCancelledContext(t *testing.T, st store.AssetStore) {
	asset := mustCreate(t, st, "CTX")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := st.ApplyTransition(ctx, store.TransitionRequest{AssetID: asset.ID, Decision: Activate(userA), Actor: userA})
	require.Error(t, err)

	_, err = st.CreateBulk(ctx, []string{"CTX-1", "CTX-2"})
	require.Error(t, err)

	stored, err := st.GetByID(context.Background(), asset.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusInactive, stored.Status)

	history, err := st.GetHistory(context.Background(), asset.ID)
	require.NoError(t, err)
	require.Empty(t, history)

	_, err = st.GetByCode(context.Background(), "CTX-1")
	require.ErrorIs(t, err, store.ErrAssetNotFound)
}

func mustCreate(t *testing.T, st store.AssetStore, code string) *models.Asset {
	t.Helper()
	asset, err := st.CreateAsset(context.Background(), code)
	require.NoError(t, err)
	return asset
}

func ids(assets []*models.Asset) []uuid.UUID {
	result := make([]uuid.UUID, 0, len(assets))
	for _, a := range assets {
		result = append(result, a.ID)
	}
	return result
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConflict)
}
