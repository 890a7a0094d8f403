package memory

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/qrtrack/internal/models"
	"github.com/wolfeidau/qrtrack/internal/store"
)

var _ store.AssetStore = (*AssetStore)(nil)

// AssetStore implements store.AssetStore using in-memory storage.
// This implementation is for testing and development - data is lost on restart.
type AssetStore struct {
	mu sync.RWMutex

	assets     map[uuid.UUID]*models.Asset          // asset_id -> Asset
	byCode     map[string]uuid.UUID                 // code -> asset_id
	history    map[uuid.UUID][]*models.HistoryEntry // asset_id -> entries, oldest first
	principals map[string]string                    // principal_id -> display name

	now func() time.Time
}

// Option configures the memory store.
type Option func(*AssetStore)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *AssetStore) {
		s.now = now
	}
}

// NewAssetStore creates a new in-memory asset store.
func NewAssetStore(opts ...Option) *AssetStore {
	s := &AssetStore{
		assets:     make(map[uuid.UUID]*models.Asset),
		byCode:     make(map[string]uuid.UUID),
		history:    make(map[uuid.UUID][]*models.HistoryEntry),
		principals: make(map[string]string),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAsset creates a new inactive asset.
func (s *AssetStore) CreateAsset(ctx context.Context, code string) (*models.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byCode[code]; exists {
		return nil, store.ErrDuplicateCode
	}

	asset := s.insertLocked(code, s.timestamp())

	log.Debug().Str("asset_id", asset.ID.String()).Str("code", code).Msg("Created asset")

	return asset.Clone(), nil
}

// CreateBulk creates all codes or none of them.
func (s *AssetStore) CreateBulk(ctx context.Context, codes []string) ([]*models.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unique := store.UniqueCodes(codes)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check the whole batch before writing anything
	var existing []string
	for _, code := range unique {
		if _, exists := s.byCode[code]; exists {
			existing = append(existing, code)
		}
	}
	if len(existing) > 0 {
		return nil, &store.DuplicateCodesError{Codes: existing}
	}

	now := s.timestamp()
	created := make([]*models.Asset, 0, len(unique))
	for _, code := range unique {
		created = append(created, s.insertLocked(code, now).Clone())
	}

	log.Debug().Int("count", len(created)).Msg("Created assets in bulk")

	return created, nil
}

// GetByID retrieves an asset by ID.
func (s *AssetStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, exists := s.assets[id]
	if !exists {
		return nil, store.ErrAssetNotFound
	}

	return asset.Clone(), nil
}

// GetByCode retrieves an asset by its code.
func (s *AssetStore) GetByCode(ctx context.Context, code string) (*models.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byCode[code]
	if !exists {
		return nil, store.ErrAssetNotFound
	}

	return s.assets[id].Clone(), nil
}

// ListByStatus returns assets with the given status, newest first.
func (s *AssetStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.Asset, error) {
	return s.list(ctx, func(a *models.Asset) bool { return a.Status == status }, byCreatedDesc)
}

// ListByCustodian returns assets held by a principal, most recently updated first.
func (s *AssetStore) ListByCustodian(ctx context.Context, principalID string) ([]*models.Asset, error) {
	return s.list(ctx, func(a *models.Asset) bool {
		return a.CustodianID != nil && *a.CustodianID == principalID
	}, byUpdatedDesc)
}

// ListAll returns one page of assets, newest first.
func (s *AssetStore) ListAll(ctx context.Context, limit, offset int) ([]*models.Asset, error) {
	all, err := s.list(ctx, func(*models.Asset) bool { return true }, byCreatedDesc)
	if err != nil {
		return nil, err
	}

	if offset >= len(all) {
		return []*models.Asset{}, nil
	}
	end := min(offset+limit, len(all))

	return all[offset:end], nil
}

// ApplyTransition re-checks and applies a lifecycle decision.
func (s *AssetStore) ApplyTransition(ctx context.Context, req store.TransitionRequest) (*models.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	asset, exists := s.assets[req.AssetID]
	if !exists {
		return nil, store.ErrAssetNotFound
	}

	// Another writer got there first
	if asset.Status != req.Decision.From {
		log.Debug().
			Str("asset_id", req.AssetID.String()).
			Str("expected", req.Decision.From.String()).
			Str("actual", asset.Status.String()).
			Msg("Transition precondition no longer holds")
		return nil, store.ErrConflict
	}

	now := s.timestamp()

	updated := asset.Clone()
	updated.Status = req.Decision.To
	updated.CustodianID = cloneString(req.Decision.CustodianID)
	updated.UpdatedAt = now

	entry := &models.HistoryEntry{
		ID:         store.NewID(),
		AssetID:    asset.ID,
		FromStatus: asset.Status,
		ToStatus:   req.Decision.To,
		ActorID:    req.Actor.ID,
		ChangedAt:  now,
		Notes:      req.HistoryNotes(),
	}

	s.assets[asset.ID] = updated
	s.history[asset.ID] = append(s.history[asset.ID], entry)
	if req.Actor.Name != "" || s.principals[req.Actor.ID] == "" {
		s.principals[req.Actor.ID] = req.Actor.Name
	}

	log.Debug().
		Str("asset_id", asset.ID.String()).
		Str("from", entry.FromStatus.String()).
		Str("to", entry.ToStatus.String()).
		Str("actor_id", req.Actor.ID).
		Msg("Applied transition")

	return updated.Clone(), nil
}

// GetHistory returns the audit trail for an asset, most recent first.
func (s *AssetStore) GetHistory(ctx context.Context, assetID uuid.UUID) ([]*models.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.assets[assetID]; !exists {
		return nil, store.ErrAssetNotFound
	}

	entries := s.history[assetID]
	result := make([]*models.HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		clone := *entries[i]
		clone.Notes = cloneString(entries[i].Notes)
		clone.ActorName = s.principals[clone.ActorID]
		result = append(result, &clone)
	}

	return result, nil
}

// Ping always succeeds for the memory store.
func (s *AssetStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op for the memory store.
func (s *AssetStore) Close() error {
	return nil
}

func (s *AssetStore) insertLocked(code string, now time.Time) *models.Asset {
	asset := &models.Asset{
		ID:        store.NewID(),
		Code:      code,
		Status:    models.StatusInactive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.assets[asset.ID] = asset
	s.byCode[code] = asset.ID
	return asset
}

func (s *AssetStore) list(ctx context.Context, keep func(*models.Asset) bool, order func(a, b *models.Asset) int) ([]*models.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Asset, 0)
	for _, a := range s.assets {
		if keep(a) {
			result = append(result, a.Clone())
		}
	}
	slices.SortFunc(result, order)

	return result, nil
}

func (s *AssetStore) timestamp() time.Time {
	return s.now().UTC()
}

func byCreatedDesc(a, b *models.Asset) int {
	return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), bytes.Compare(b.ID[:], a.ID[:]))
}

func byUpdatedDesc(a, b *models.Asset) int {
	return cmp.Or(b.UpdatedAt.Compare(a.UpdatedAt), bytes.Compare(b.ID[:], a.ID[:]))
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
