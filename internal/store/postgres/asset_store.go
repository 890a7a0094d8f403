package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/qrtrack/internal/models"
	"github.com/wolfeidau/qrtrack/internal/store"
)

var _ store.AssetStore = (*AssetStore)(nil)

const assetColumns = `id, code, status, custodian_id, created_at, updated_at`

// AssetStore implements store.AssetStore using PostgreSQL as the backend.
// Transitions take a row lock on the asset so concurrent writers for the
// same asset are serialised and the loser sees the updated status.
type AssetStore struct {
	pool *pgxpool.Pool
	cfg  *AssetStoreConfig
}

// NewAssetStore creates a PostgreSQL-backed asset store on an existing pool.
// The store takes ownership of the pool and closes it on Close.
func NewAssetStore(ctx context.Context, pool *pgxpool.Pool, cfg *AssetStoreConfig) (*AssetStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg == nil {
		cfg = &AssetStoreConfig{}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Run migrations only if explicitly enabled
	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &AssetStore{pool: pool, cfg: cfg}, nil
}

// CreateAsset inserts a new inactive asset.
func (s *AssetStore) CreateAsset(ctx context.Context, code string) (*models.Asset, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO assets (id, code, status, created_at, updated_at)
		VALUES ($1, $2, 'inactive', $3, $3)
		RETURNING `+assetColumns,
		store.NewID(), code, now,
	)

	asset, err := scanAsset(row)
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to create asset: %w", err))
	}

	log.Debug().Str("asset_id", asset.ID.String()).Str("code", code).Msg("Created asset")

	return asset, nil
}

// CreateBulk inserts every distinct code in one statement. ON CONFLICT DO
// NOTHING means rows that lost a uniqueness race are simply absent from the
// RETURNING set, which tells us exactly which codes already existed.
func (s *AssetStore) CreateBulk(ctx context.Context, codes []string) ([]*models.Asset, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	unique := store.UniqueCodes(codes)
	if len(unique) == 0 {
		return []*models.Asset{}, nil
	}

	ids := make([]string, len(unique))
	for i := range unique {
		ids[i] = store.NewID().String()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	rows, err := tx.Query(ctx, `
		INSERT INTO assets (id, code, status, created_at, updated_at)
		SELECT t.id, t.code, 'inactive', $3, $3
		FROM unnest($1::uuid[], $2::text[]) WITH ORDINALITY AS t(id, code, ord)
		ORDER BY t.ord
		ON CONFLICT (code) DO NOTHING
		RETURNING `+assetColumns,
		ids, unique, time.Now().UTC(),
	)
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to insert assets: %w", err))
	}

	inserted, err := collectAssets(rows)
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to insert assets: %w", err))
	}

	if len(inserted) != len(unique) {
		byCode := make(map[string]struct{}, len(inserted))
		for _, a := range inserted {
			byCode[a.Code] = struct{}{}
		}
		var existing []string
		for _, code := range unique {
			if _, ok := byCode[code]; !ok {
				existing = append(existing, code)
			}
		}
		// Deferred rollback discards the rows that did go in
		return nil, &store.DuplicateCodesError{Codes: existing}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to commit bulk insert: %w", err))
	}

	// RETURNING order is unspecified, hand results back in request order
	position := make(map[string]int, len(unique))
	for i, code := range unique {
		position[code] = i
	}
	slices.SortFunc(inserted, func(a, b *models.Asset) int {
		return position[a.Code] - position[b.Code]
	})

	log.Debug().Int("count", len(inserted)).Msg("Created assets in bulk")

	return inserted, nil
}

// GetByID retrieves an asset by ID.
func (s *AssetStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	asset, err := scanAsset(s.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAssetNotFound
		}
		return nil, mapPostgresError(fmt.Errorf("failed to get asset: %w", err))
	}

	return asset, nil
}

// GetByCode retrieves an asset by its code.
func (s *AssetStore) GetByCode(ctx context.Context, code string) (*models.Asset, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	asset, err := scanAsset(s.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAssetNotFound
		}
		return nil, mapPostgresError(fmt.Errorf("failed to get asset by code: %w", err))
	}

	return asset, nil
}

// ListByStatus returns assets in the status, newest first.
func (s *AssetStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.Asset, error) {
	return s.query(ctx, `
		SELECT `+assetColumns+`
		FROM assets
		WHERE status = $1
		ORDER BY created_at DESC, id DESC
	`, status.String())
}

// ListByCustodian returns assets held by the principal, most recently updated first.
func (s *AssetStore) ListByCustodian(ctx context.Context, principalID string) ([]*models.Asset, error) {
	return s.query(ctx, `
		SELECT `+assetColumns+`
		FROM assets
		WHERE custodian_id = $1
		ORDER BY updated_at DESC, id DESC
	`, principalID)
}

// ListAll returns one page of assets, newest first.
func (s *AssetStore) ListAll(ctx context.Context, limit, offset int) ([]*models.Asset, error) {
	return s.query(ctx, `
		SELECT `+assetColumns+`
		FROM assets
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
}

// ApplyTransition locks the asset row, re-checks the decision's source status
// and writes the asset update, the history row and the actor's name in one
// transaction.
func (s *AssetStore) ApplyTransition(ctx context.Context, req store.TransitionRequest) (*models.Asset, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM assets WHERE id = $1 FOR UPDATE`, req.AssetID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAssetNotFound
		}
		return nil, mapPostgresError(fmt.Errorf("failed to lock asset: %w", err))
	}

	if current != req.Decision.From.String() {
		log.Debug().
			Str("asset_id", req.AssetID.String()).
			Str("expected", req.Decision.From.String()).
			Str("actual", current).
			Msg("Transition precondition no longer holds")
		return nil, store.ErrConflict
	}

	now := time.Now().UTC()

	updated, err := scanAsset(tx.QueryRow(ctx, `
		UPDATE assets
		SET status = $2, custodian_id = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+assetColumns,
		req.AssetID, req.Decision.To.String(), req.Decision.CustodianID, now,
	))
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to update asset: %w", err))
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO asset_history (id, asset_id, from_status, to_status, actor_id, changed_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, store.NewID(), req.AssetID, req.Decision.From.String(), req.Decision.To.String(), req.Actor.ID, now, req.HistoryNotes())
	batch.Queue(`
		INSERT INTO principals (id, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE
		SET display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE principals.display_name END,
		    updated_at = EXCLUDED.updated_at
	`, req.Actor.ID, req.Actor.Name, now)

	results := tx.SendBatch(ctx, batch)
	for i := range batch.Len() {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return nil, mapPostgresError(fmt.Errorf("failed to record transition (statement %d): %w", i, err))
		}
	}
	if err := results.Close(); err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to record transition: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to commit transition: %w", err))
	}

	log.Debug().
		Str("asset_id", req.AssetID.String()).
		Str("from", req.Decision.From.String()).
		Str("to", req.Decision.To.String()).
		Str("actor_id", req.Actor.ID).
		Msg("Applied transition")

	return updated, nil
}

// GetHistory returns the audit trail for an asset, most recent first.
func (s *AssetStore) GetHistory(ctx context.Context, assetID uuid.UUID) ([]*models.HistoryEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// Existence check and history read share one snapshot
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only transaction

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM assets WHERE id = $1)`, assetID).Scan(&exists); err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to check asset: %w", err))
	}
	if !exists {
		return nil, store.ErrAssetNotFound
	}

	rows, err := tx.Query(ctx, `
		SELECT h.id, h.asset_id, h.from_status, h.to_status, h.actor_id,
		       COALESCE(p.display_name, ''), h.changed_at, h.notes
		FROM asset_history h
		LEFT JOIN principals p ON p.id = h.actor_id
		WHERE h.asset_id = $1
		ORDER BY h.changed_at DESC, h.id DESC
	`, assetID)
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to query history: %w", err))
	}
	defer rows.Close()

	entries := make([]*models.HistoryEntry, 0)
	for rows.Next() {
		var (
			e        models.HistoryEntry
			from, to string
		)
		if err := rows.Scan(&e.ID, &e.AssetID, &from, &to, &e.ActorID, &e.ActorName, &e.ChangedAt, &e.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if e.FromStatus, err = models.ParseStatus(from); err != nil {
			return nil, fmt.Errorf("%w: history %s: %w", store.ErrCorruptRecord, e.ID, err)
		}
		if e.ToStatus, err = models.ParseStatus(to); err != nil {
			return nil, fmt.Errorf("%w: history %s: %w", store.ErrCorruptRecord, e.ID, err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to read history: %w", err))
	}

	return entries, nil
}

// Ping verifies the database is reachable.
func (s *AssetStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *AssetStore) Close() error {
	s.pool.Close()
	return nil
}

// Stats exposes pool statistics for health reporting.
func (s *AssetStore) Stats() *pgxpool.Stat {
	return s.pool.Stat()
}

func (s *AssetStore) query(ctx context.Context, sql string, args ...any) ([]*models.Asset, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to query assets: %w", err))
	}

	assets, err := collectAssets(rows)
	if err != nil {
		return nil, mapPostgresError(fmt.Errorf("failed to read assets: %w", err))
	}
	return assets, nil
}

func (s *AssetStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := s.cfg.queryTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func collectAssets(rows pgx.Rows) ([]*models.Asset, error) {
	defer rows.Close()

	assets := make([]*models.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}

func scanAsset(row pgx.Row) (*models.Asset, error) {
	var (
		a      models.Asset
		status string
	)
	if err := row.Scan(&a.ID, &a.Code, &status, &a.CustodianID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}

	parsed, err := models.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: asset %s: %w", store.ErrCorruptRecord, a.ID, err)
	}
	a.Status = parsed
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()

	return &a, nil
}
