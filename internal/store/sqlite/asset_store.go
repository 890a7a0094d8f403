// Package sqlite provides a single-node SQLite asset store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/qrtrack/internal/models"
	"github.com/wolfeidau/qrtrack/internal/store"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var _ store.AssetStore = (*AssetStore)(nil)

const assetColumns = `id, code, status, custodian_id, created_at, updated_at`

// AssetStore implements store.AssetStore on SQLite. Write transactions are
// opened with BEGIN IMMEDIATE so the status re-check and the write happen
// under the database write lock.
type AssetStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// embedded migrations.
func Open(ctx context.Context, path string) (*AssetStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	memory := path == ":memory:"
	if !memory {
		path = filepath.Clean(path)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if memory {
		// Each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Info().Str("path", path).Msg("Opened SQLite asset store")

	return &AssetStore{db: db}, nil
}

// CreateAsset inserts a new inactive asset.
func (s *AssetStore) CreateAsset(ctx context.Context, code string) (*models.Asset, error) {
	now := time.Now().UTC()
	asset := &models.Asset{
		ID:        store.NewID(),
		Code:      code,
		Status:    models.StatusInactive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, code, status, created_at, updated_at)
		VALUES (?, ?, 'inactive', ?, ?)
	`, asset.ID.String(), code, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to create asset: %w", err))
	}

	log.Debug().Str("asset_id", asset.ID.String()).Str("code", code).Msg("Created asset")

	return asset, nil
}

// CreateBulk inserts every distinct code or none of them.
func (s *AssetStore) CreateBulk(ctx context.Context, codes []string) ([]*models.Asset, error) {
	unique := store.UniqueCodes(codes)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // rollback is safe to call after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assets (id, code, status, created_at, updated_at)
		VALUES (?, ?, 'inactive', ?, ?)
		ON CONFLICT (code) DO NOTHING
	`)
	if err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to prepare insert: %w", err))
	}
	defer stmt.Close()

	now := time.Now().UTC()
	created := make([]*models.Asset, 0, len(unique))
	var existing []string

	for _, code := range unique {
		asset := &models.Asset{
			ID:        store.NewID(),
			Code:      code,
			Status:    models.StatusInactive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		res, err := stmt.ExecContext(ctx, asset.ID.String(), code, now.UnixNano(), now.UnixNano())
		if err != nil {
			return nil, mapSQLiteError(fmt.Errorf("failed to insert asset %q: %w", code, err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			existing = append(existing, code)
			continue
		}
		created = append(created, asset)
	}

	if len(existing) > 0 {
		return nil, &store.DuplicateCodesError{Codes: existing}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to commit bulk insert: %w", err))
	}

	log.Debug().Int("count", len(created)).Msg("Created assets in bulk")

	return created, nil
}

// GetByID retrieves an asset by ID.
func (s *AssetStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	return s.get(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id.String())
}

// GetByCode retrieves an asset by its code.
func (s *AssetStore) GetByCode(ctx context.Context, code string) (*models.Asset, error) {
	return s.get(ctx, `SELECT `+assetColumns+` FROM assets WHERE code = ?`, code)
}

// ListByStatus returns assets in the status, newest first.
func (s *AssetStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.Asset, error) {
	return s.query(ctx, `
		SELECT `+assetColumns+` FROM assets
		WHERE status = ?
		ORDER BY created_at DESC, id DESC
	`, status.String())
}

// ListByCustodian returns assets held by the principal, most recently updated first.
func (s *AssetStore) ListByCustodian(ctx context.Context, principalID string) ([]*models.Asset, error) {
	return s.query(ctx, `
		SELECT `+assetColumns+` FROM assets
		WHERE custodian_id = ?
		ORDER BY updated_at DESC, id DESC
	`, principalID)
}

// ListAll returns one page of assets, newest first.
func (s *AssetStore) ListAll(ctx context.Context, limit, offset int) ([]*models.Asset, error) {
	return s.query(ctx, `
		SELECT `+assetColumns+` FROM assets
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
}

// ApplyTransition re-checks the decision's source status and writes the
// asset, its history row and the actor's name in one transaction.
func (s *AssetStore) ApplyTransition(ctx context.Context, req store.TransitionRequest) (*models.Asset, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // rollback is safe to call after commit

	current, err := scanAsset(tx.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, req.AssetID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrAssetNotFound
		}
		return nil, mapSQLiteError(fmt.Errorf("failed to read asset: %w", err))
	}

	if current.Status != req.Decision.From {
		log.Debug().
			Str("asset_id", req.AssetID.String()).
			Str("expected", req.Decision.From.String()).
			Str("actual", current.Status.String()).
			Msg("Transition precondition no longer holds")
		return nil, store.ErrConflict
	}

	now := time.Now().UTC()
	// Keep updated_at strictly increasing even if the wall clock steps back
	if !now.After(current.UpdatedAt) {
		now = current.UpdatedAt.Add(time.Nanosecond)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE assets SET status = ?, custodian_id = ?, updated_at = ? WHERE id = ?
	`, req.Decision.To.String(), req.Decision.CustodianID, now.UnixNano(), req.AssetID.String()); err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to update asset: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO asset_history (id, asset_id, from_status, to_status, actor_id, changed_at, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, store.NewID().String(), req.AssetID.String(), req.Decision.From.String(), req.Decision.To.String(),
		req.Actor.ID, now.UnixNano(), req.HistoryNotes()); err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to insert history: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO principals (id, display_name, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE principals.display_name END,
			updated_at = excluded.updated_at
	`, req.Actor.ID, req.Actor.Name, now.UnixNano(), now.UnixNano()); err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to upsert principal: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to commit transition: %w", err))
	}

	current.Status = req.Decision.To
	current.CustodianID = req.Decision.CustodianID
	current.UpdatedAt = now

	log.Debug().
		Str("asset_id", req.AssetID.String()).
		Str("from", req.Decision.From.String()).
		Str("to", req.Decision.To.String()).
		Str("actor_id", req.Actor.ID).
		Msg("Applied transition")

	return current.Clone(), nil
}

// GetHistory returns the audit trail for an asset, most recent first.
func (s *AssetStore) GetHistory(ctx context.Context, assetID uuid.UUID) ([]*models.HistoryEntry, error) {
	// Assets are never deleted so the existence check needs no shared snapshot
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM assets WHERE id = ?)`, assetID.String()).Scan(&exists); err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to check asset: %w", err))
	}
	if !exists {
		return nil, store.ErrAssetNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.asset_id, h.from_status, h.to_status, h.actor_id,
		       COALESCE(p.display_name, ''), h.changed_at, h.notes
		FROM asset_history h
		LEFT JOIN principals p ON p.id = h.actor_id
		WHERE h.asset_id = ?
		ORDER BY h.changed_at DESC, h.id DESC
	`, assetID.String())
	if err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to query history: %w", err))
	}
	defer rows.Close()

	entries := make([]*models.HistoryEntry, 0)
	for rows.Next() {
		var (
			e         models.HistoryEntry
			id, asset string
			from, to  string
			changedAt int64
		)
		if err := rows.Scan(&id, &asset, &from, &to, &e.ActorID, &e.ActorName, &changedAt, &e.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("%w: history id %q: %w", store.ErrCorruptRecord, id, err)
		}
		if e.AssetID, err = uuid.Parse(asset); err != nil {
			return nil, fmt.Errorf("%w: history %s asset id: %w", store.ErrCorruptRecord, id, err)
		}
		if e.FromStatus, err = models.ParseStatus(from); err != nil {
			return nil, fmt.Errorf("%w: history %s: %w", store.ErrCorruptRecord, id, err)
		}
		if e.ToStatus, err = models.ParseStatus(to); err != nil {
			return nil, fmt.Errorf("%w: history %s: %w", store.ErrCorruptRecord, id, err)
		}
		e.ChangedAt = fromNanos(changedAt)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to read history: %w", err))
	}

	return entries, nil
}

// Ping verifies the database handle is usable.
func (s *AssetStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the SQLite handle.
func (s *AssetStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *AssetStore) get(ctx context.Context, query string, arg any) (*models.Asset, error) {
	asset, err := scanAsset(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrAssetNotFound
		}
		return nil, mapSQLiteError(fmt.Errorf("failed to get asset: %w", err))
	}
	return asset, nil
}

func (s *AssetStore) query(ctx context.Context, query string, args ...any) ([]*models.Asset, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLiteError(fmt.Errorf("failed to query assets: %w", err))
	}
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
		return nil, mapSQLiteError(fmt.Errorf("failed to read assets: %w", err))
	}
	return assets, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (*models.Asset, error) {
	var (
		a                    models.Asset
		id, status           string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&id, &a.Code, &status, &a.CustodianID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: asset id %q: %w", store.ErrCorruptRecord, id, err)
	}
	if a.Status, err = models.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("%w: asset %s: %w", store.ErrCorruptRecord, id, err)
	}
	a.CreatedAt = fromNanos(createdAt)
	a.UpdatedAt = fromNanos(updatedAt)

	return &a, nil
}

func fromNanos(v int64) time.Time {
	return time.Unix(0, v).UTC()
}

func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return fmt.Errorf("%w: %w", store.ErrDuplicateCode, err)
	case sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY:
		return fmt.Errorf("%w: %w", store.ErrAssetNotFound, err)
	case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
		return fmt.Errorf("database busy: %w", err)
	default:
		return err
	}
}
