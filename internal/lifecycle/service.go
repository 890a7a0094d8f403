package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/qrtrack/internal/identity"
	"github.com/wolfeidau/qrtrack/internal/models"
	"github.com/wolfeidau/qrtrack/internal/store"
	"github.com/wolfeidau/qrtrack/internal/telemetry"
)

const (
	// MaxNotesLength bounds the free text recorded on a completion.
	MaxNotesLength = 1000

	// MaxBulkCodes bounds a single bulk create request.
	MaxBulkCodes = 1000

	internalErrorMessage = "internal error"
)

// Roles allowed to page through every asset.
var listAllRoles = []models.Role{models.RoleEmployee, models.RoleAdmin}

// AssetDetails is an asset together with its audit trail.
type AssetDetails struct {
	Asset   *models.Asset          `json:"asset"`
	History []*models.HistoryEntry `json:"history"`
}

// Service authorizes requests, runs the engine and persists its decisions.
// Every method returns an Outcome; store faults are logged here and reported
// as system_fault with a generic message.
type Service struct {
	store   store.AssetStore
	metrics *telemetry.Metrics
}

// NewService creates a service over st.
func NewService(st store.AssetStore) *Service {
	return &Service{store: st, metrics: telemetry.GetMetrics()}
}

// Activate makes the actor custodian of the inactive asset with code.
func (s *Service) Activate(ctx context.Context, actor models.Principal, code string) (out Outcome[*models.Asset]) {
	defer s.observe(ctx, "activate", time.Now(), &out)

	if f := authorize(actor); f != nil {
		return failWith[*models.Asset](f)
	}
	if err := models.ValidateCode(code); err != nil {
		return Fail[*models.Asset](ReasonInvalidArgument, err.Error())
	}

	current, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return failWith[*models.Asset](s.classify(ctx, "activate", err, "code", code))
	}

	return s.transition(ctx, TransitionActivate, actor, current, "")
}

// Complete moves an active asset to completed. Only employees and admins may complete.
func (s *Service) Complete(ctx context.Context, actor models.Principal, assetID uuid.UUID, notes string) (out Outcome[*models.Asset]) {
	defer s.observe(ctx, "complete", time.Now(), &out)

	if f := authorize(actor, completeRoles...); f != nil {
		return failWith[*models.Asset](f)
	}
	if assetID == uuid.Nil {
		return Fail[*models.Asset](ReasonInvalidArgument, "asset id is required")
	}
	if utf8.RuneCountInString(notes) > MaxNotesLength {
		return Fail[*models.Asset](ReasonInvalidArgument, fmt.Sprintf("notes must be at most %d characters", MaxNotesLength))
	}

	current, err := s.store.GetByID(ctx, assetID)
	if err != nil {
		return failWith[*models.Asset](s.classify(ctx, "complete", err, "asset_id", assetID.String()))
	}

	return s.transition(ctx, TransitionComplete, actor, current, notes)
}

// Create registers a new inactive asset. Admin only.
func (s *Service) Create(ctx context.Context, actor models.Principal, code string) (out Outcome[*models.Asset]) {
	defer s.observe(ctx, "create", time.Now(), &out)

	if f := s.authorizeCreate(actor); f != nil {
		return failWith[*models.Asset](f)
	}
	if err := models.ValidateCode(code); err != nil {
		return Fail[*models.Asset](ReasonInvalidArgument, err.Error())
	}

	asset, err := s.store.CreateAsset(ctx, code)
	if err != nil {
		return failWith[*models.Asset](s.classify(ctx, "create", err, "code", code))
	}

	s.metrics.AssetsCreatedTotal.Add(ctx, 1)
	log.Ctx(ctx).Info().Str("asset_id", asset.ID.String()).Str("code", code).Str("actor_id", actor.ID).Msg("Asset created")

	return Success(asset)
}

// CreateBulk registers every distinct code or none. Admin only.
func (s *Service) CreateBulk(ctx context.Context, actor models.Principal, codes []string) (out Outcome[[]*models.Asset]) {
	defer s.observe(ctx, "create_bulk", time.Now(), &out)

	if f := s.authorizeCreate(actor); f != nil {
		return failWith[[]*models.Asset](f)
	}

	unique := store.UniqueCodes(codes)
	if len(unique) == 0 {
		return Fail[[]*models.Asset](ReasonInvalidArgument, "at least one code is required")
	}
	if len(unique) > MaxBulkCodes {
		return Fail[[]*models.Asset](ReasonInvalidArgument, fmt.Sprintf("at most %d codes per request", MaxBulkCodes))
	}
	for _, code := range unique {
		if err := models.ValidateCode(code); err != nil {
			return Fail[[]*models.Asset](ReasonInvalidArgument, fmt.Sprintf("code %q: %s", code, err))
		}
	}

	created, err := s.store.CreateBulk(ctx, unique)
	if err != nil {
		return failWith[[]*models.Asset](s.classify(ctx, "create_bulk", err, "count", fmt.Sprint(len(unique))))
	}

	s.metrics.AssetsCreatedTotal.Add(ctx, int64(len(created)))
	s.metrics.BulkCreateBatchSize.Record(ctx, int64(len(created)))
	log.Ctx(ctx).Info().Int("count", len(created)).Str("actor_id", actor.ID).Msg("Assets created in bulk")

	return Success(created)
}

// GetByCode looks an asset up by its code.
func (s *Service) GetByCode(ctx context.Context, actor models.Principal, code string) (out Outcome[*models.Asset]) {
	defer s.observe(ctx, "get_by_code", time.Now(), &out)

	if f := authorize(actor); f != nil {
		return failWith[*models.Asset](f)
	}
	if err := models.ValidateCode(code); err != nil {
		return Fail[*models.Asset](ReasonInvalidArgument, err.Error())
	}

	asset, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return failWith[*models.Asset](s.classify(ctx, "get_by_code", err, "code", code))
	}
	return Success(asset)
}

// Details returns an asset and its history.
func (s *Service) Details(ctx context.Context, actor models.Principal, assetID uuid.UUID) (out Outcome[*AssetDetails]) {
	defer s.observe(ctx, "details", time.Now(), &out)

	if f := authorize(actor); f != nil {
		return failWith[*AssetDetails](f)
	}

	asset, err := s.store.GetByID(ctx, assetID)
	if err != nil {
		return failWith[*AssetDetails](s.classify(ctx, "details", err, "asset_id", assetID.String()))
	}

	history, err := s.store.GetHistory(ctx, assetID)
	if err != nil {
		return failWith[*AssetDetails](s.classify(ctx, "details", err, "asset_id", assetID.String()))
	}

	return Success(&AssetDetails{Asset: asset, History: history})
}

// History returns an asset's audit trail, most recent first.
func (s *Service) History(ctx context.Context, actor models.Principal, assetID uuid.UUID) (out Outcome[[]*models.HistoryEntry]) {
	defer s.observe(ctx, "history", time.Now(), &out)

	if f := authorize(actor); f != nil {
		return failWith[[]*models.HistoryEntry](f)
	}

	history, err := s.store.GetHistory(ctx, assetID)
	if err != nil {
		return failWith[[]*models.HistoryEntry](s.classify(ctx, "history", err, "asset_id", assetID.String()))
	}
	return Success(history)
}

// ListByStatus lists assets in a status, newest first.
func (s *Service) ListByStatus(ctx context.Context, actor models.Principal, status models.Status) (out Outcome[[]*models.Asset]) {
	defer s.observe(ctx, "list_by_status", time.Now(), &out)

	if f := authorize(actor); f != nil {
		return failWith[[]*models.Asset](f)
	}
	if !status.Valid() {
		return Fail[[]*models.Asset](ReasonInvalidArgument, "unknown status")
	}

	assets, err := s.store.ListByStatus(ctx, status)
	if err != nil {
		return failWith[[]*models.Asset](s.classify(ctx, "list_by_status", err, "status", status.String()))
	}
	return Success(assets)
}

// ListInactive lists the assets available for activation.
func (s *Service) ListInactive(ctx context.Context, actor models.Principal) Outcome[[]*models.Asset] {
	return s.ListByStatus(ctx, actor, models.StatusInactive)
}

// ListMine lists the assets the actor is custodian of, most recently updated first.
func (s *Service) ListMine(ctx context.Context, actor models.Principal) (out Outcome[[]*models.Asset]) {
	defer s.observe(ctx, "list_mine", time.Now(), &out)

	if f := authorize(actor); f != nil {
		return failWith[[]*models.Asset](f)
	}

	assets, err := s.store.ListByCustodian(ctx, actor.ID)
	if err != nil {
		return failWith[[]*models.Asset](s.classify(ctx, "list_mine", err, "actor_id", actor.ID))
	}
	return Success(assets)
}

// Page is one page of ListAll.
type Page struct {
	Assets []*models.Asset `json:"assets"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	Count  int             `json:"count"`
}

// ListAll returns a page of every asset, newest first. Employees and admins only.
func (s *Service) ListAll(ctx context.Context, actor models.Principal, limit, offset int) (out Outcome[*Page]) {
	defer s.observe(ctx, "list_all", time.Now(), &out)

	if f := authorize(actor, listAllRoles...); f != nil {
		return failWith[*Page](f)
	}

	limit, offset = store.NormalizePage(limit, offset)

	assets, err := s.store.ListAll(ctx, limit, offset)
	if err != nil {
		return failWith[*Page](s.classify(ctx, "list_all", err))
	}
	return Success(&Page{Assets: assets, Limit: limit, Offset: offset, Count: len(assets)})
}

func (s *Service) transition(ctx context.Context, t Transition, actor models.Principal, current *models.Asset, notes string) Outcome[*models.Asset] {
	op := string(t)

	decision, err := Decide(DecideInput{Transition: t, Current: current, Actor: actor})
	if err != nil {
		return failWith[*models.Asset](s.classify(ctx, op, err, "asset_id", current.ID.String()))
	}

	updated, err := s.store.ApplyTransition(ctx, store.TransitionRequest{
		AssetID:  current.ID,
		Decision: decision,
		Actor:    actor,
		Notes:    strings.TrimSpace(notes),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.metrics.TransitionConflicts.Add(ctx, 1)
		}
		return failWith[*models.Asset](s.classify(ctx, op, err, "asset_id", current.ID.String()))
	}

	s.metrics.RecordTransition(ctx, decision.From.String(), decision.To.String())
	log.Ctx(ctx).Info().
		Str("asset_id", updated.ID.String()).
		Str("from", decision.From.String()).
		Str("to", decision.To.String()).
		Str("actor_id", actor.ID).
		Msg("Asset transitioned")

	return Success(updated)
}

func (s *Service) authorizeCreate(actor models.Principal) *Failure {
	return authorize(actor, createRoles...)
}

// authorize checks the actor is authenticated and, when roles are given, holds one of them.
func authorize(actor models.Principal, roles ...models.Role) *Failure {
	if actor.IsZero() {
		return &Failure{Reason: ReasonUnauthenticated, Message: "authentication required"}
	}
	if !identity.Authorize(actor.Role, roles...) {
		return &Failure{Reason: ReasonForbidden, Message: "insufficient role for this operation"}
	}
	return nil
}

// classify turns an engine or store error into a Failure. Unexpected errors
// are logged with the given key/value fields and hidden from the caller.
func (s *Service) classify(ctx context.Context, op string, err error, fields ...string) *Failure {
	var (
		transitionErr *TransitionError
		dupErr        *store.DuplicateCodesError
	)

	switch {
	case errors.As(err, &transitionErr):
		return &Failure{Reason: ReasonInvalidTransition, Message: transitionErr.Error()}
	case errors.Is(err, ErrForbidden):
		return &Failure{Reason: ReasonForbidden, Message: "insufficient role for this operation"}
	case errors.Is(err, store.ErrAssetNotFound):
		return &Failure{Reason: ReasonNotFound, Message: "asset not found"}
	case errors.Is(err, store.ErrConflict):
		if op == string(TransitionActivate) {
			return &Failure{Reason: ReasonConflict, Message: "asset is no longer available"}
		}
		return &Failure{Reason: ReasonConflict, Message: "asset was changed by another request, reload and retry"}
	case errors.As(err, &dupErr):
		return &Failure{Reason: ReasonDuplicateCode, Message: dupErr.Error(), Codes: dupErr.Codes}
	case errors.Is(err, store.ErrDuplicateCode):
		return &Failure{Reason: ReasonDuplicateCode, Message: "asset code already exists"}
	}

	event := log.Ctx(ctx).Error()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		event = log.Ctx(ctx).Warn()
	}
	event = event.Err(err).Str("operation", op)
	for i := 0; i+1 < len(fields); i += 2 {
		event = event.Str(fields[i], fields[i+1])
	}
	event.Msg("Lifecycle operation failed")

	return &Failure{Reason: ReasonSystemFault, Message: internalErrorMessage}
}

type reasoner interface {
	Reason() Reason
}

func (s *Service) observe(ctx context.Context, op string, started time.Time, out reasoner) {
	s.metrics.RecordOperation(ctx, op, string(out.Reason()), float64(time.Since(started).Microseconds())/1000)
}
