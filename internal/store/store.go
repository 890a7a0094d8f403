package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/wolfeidau/qrtrack/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrDuplicateCode = errors.New("asset code already exists")
	ErrConflict      = errors.New("asset was modified concurrently")
	ErrCorruptRecord = errors.New("corrupt asset record")
)

// DuplicateCodesError is returned by CreateBulk when one or more codes in the
// batch already exist. Nothing from the batch is written.
type DuplicateCodesError struct {
	Codes []string
}

func (e *DuplicateCodesError) Error() string {
	return fmt.Sprintf("asset codes already exist: %s", strings.Join(e.Codes, ", "))
}

// Is lets errors.Is(err, ErrDuplicateCode) match a partial batch rejection.
func (e *DuplicateCodesError) Is(target error) bool {
	return target == ErrDuplicateCode
}

// Decision is the outcome of a lifecycle engine evaluation that a store
// applies. From is re-checked against the stored row inside the write
// transaction.
type Decision struct {
	From        models.Status
	To          models.Status
	CustodianID *string
	Note        string // used when the caller supplies no notes
}

// TransitionRequest carries everything ApplyTransition writes.
type TransitionRequest struct {
	AssetID  uuid.UUID
	Decision Decision
	Actor    models.Principal
	Notes    string
}

// HistoryNotes returns the notes recorded on the history row.
func (r TransitionRequest) HistoryNotes() *string {
	notes := strings.TrimSpace(r.Notes)
	if notes == "" {
		notes = r.Decision.Note
	}
	if notes == "" {
		return nil
	}
	return &notes
}

// AssetStore persists assets and their audit trail.
// Implementations must make ApplyTransition and CreateBulk atomic.
type AssetStore interface {
	// CreateAsset inserts a new inactive asset.
	// Returns ErrDuplicateCode if the code is already present.
	CreateAsset(ctx context.Context, code string) (*models.Asset, error)

	// CreateBulk inserts every code (after collapsing duplicates) or none.
	// Returns *DuplicateCodesError naming the codes that already exist.
	CreateBulk(ctx context.Context, codes []string) ([]*models.Asset, error)

	GetByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	GetByCode(ctx context.Context, code string) (*models.Asset, error)

	// ListByStatus returns assets in the status, newest first.
	ListByStatus(ctx context.Context, status models.Status) ([]*models.Asset, error)

	// ListByCustodian returns assets held by the principal, most recently updated first.
	ListByCustodian(ctx context.Context, principalID string) ([]*models.Asset, error)

	// ListAll returns one page of assets, newest first, read from a single snapshot.
	ListAll(ctx context.Context, limit, offset int) ([]*models.Asset, error)

	// ApplyTransition atomically re-checks the current status, writes the new
	// asset state and appends one history entry.
	// Returns ErrAssetNotFound or ErrConflict without writing anything.
	ApplyTransition(ctx context.Context, req TransitionRequest) (*models.Asset, error)

	// GetHistory returns the audit trail, most recent first, with actor names joined.
	GetHistory(ctx context.Context, assetID uuid.UUID) ([]*models.HistoryEntry, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}

// UniqueCodes collapses duplicate codes, keeping the first occurrence order.
func UniqueCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	unique := make([]string, 0, len(codes))
	for _, code := range codes {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		unique = append(unique, code)
	}
	return unique
}

// NewID returns a time-ordered identifier for assets and history entries.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// Page size limits for ListAll.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// NormalizePage applies the default and maximum page size and clamps a
// negative offset to zero.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
