package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/qrtrack/internal/models"
	"github.com/wolfeidau/qrtrack/internal/store"
	"github.com/wolfeidau/qrtrack/internal/store/storetest"
)

func TestAssetStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.AssetStore {
		return NewAssetStore()
	})
}

func TestAssetStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := NewAssetStore()

	created, err := st.CreateAsset(ctx, "QR_1")
	require.NoError(t, err)

	created.Status = models.StatusCompleted
	created.Code = "mutated"

	stored, err := st.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "QR_1", stored.Code)
	require.Equal(t, models.StatusInactive, stored.Status)
}

func TestAssetStore_WithClock(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("AEDT", 11*3600))
	st := NewAssetStore(WithClock(func() time.Time { return fixed }))

	created, err := st.CreateAsset(ctx, "QR_1")
	require.NoError(t, err)
	require.True(t, created.CreatedAt.Equal(fixed))
	require.Equal(t, time.UTC, created.CreatedAt.Location())

	// Equal timestamps fall back to the id for a stable order
	second, err := st.CreateAsset(ctx, "QR_2")
	require.NoError(t, err)

	all, err := st.ListAll(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, second.ID, all[0].ID)
	require.Equal(t, created.ID, all[1].ID)
}

func TestAssetStore_KeepsKnownActorName(t *testing.T) {
	ctx := context.Background()
	st := NewAssetStore()

	first, err := st.CreateAsset(ctx, "QR_1")
	require.NoError(t, err)

	named := models.Principal{ID: "u1", Name: "Una User", Role: models.RoleUser}
	_, err = st.ApplyTransition(ctx, store.TransitionRequest{AssetID: first.ID, Decision: storetest.Activate(named), Actor: named})
	require.NoError(t, err)

	// A later token without a display name must not blank the directory entry
	anonymous := models.Principal{ID: "u1", Role: models.RoleEmployee}
	_, err = st.ApplyTransition(ctx, store.TransitionRequest{AssetID: first.ID, Decision: storetest.Complete("u1"), Actor: anonymous})
	require.NoError(t, err)

	history, err := st.GetHistory(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, e := range history {
		require.Equal(t, "Una User", e.ActorName)
	}
}
