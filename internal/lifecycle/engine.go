// Package lifecycle holds the asset state machine and the service that
// applies its decisions to a store.
//
//	inactive --activate--> active --complete--> completed
//
// Completed is terminal. Creation puts a new asset in inactive.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/wolfeidau/qrtrack/internal/identity"
	"github.com/wolfeidau/qrtrack/internal/models"
	"github.com/wolfeidau/qrtrack/internal/store"
)

// Transition names a requested lifecycle change.
type Transition string

const (
	TransitionCreate   Transition = "create"
	TransitionActivate Transition = "activate"
	TransitionComplete Transition = "complete"
)

// Default history notes written when the caller gives none.
const (
	NoteActivated = "asset activated by custodian"
	NoteCompleted = "asset completed"
)

// Roles allowed to request each transition. Activation is open to every
// authenticated role.
var (
	createRoles   = []models.Role{models.RoleAdmin}
	completeRoles = []models.Role{models.RoleEmployee, models.RoleAdmin}
)

// ErrForbidden is returned when the actor's role may not request the transition.
var ErrForbidden = errors.New("role not permitted for transition")

// TransitionError rejects a transition that is illegal from the asset's
// current status. It is a business outcome, not a fault.
type TransitionError struct {
	Transition Transition
	From       models.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s an asset that is %s", e.Transition, e.From)
}

// DecideInput is everything the engine looks at.
type DecideInput struct {
	Transition Transition
	Current    *models.Asset // nil for create
	Actor      models.Principal
}

// Decide validates the transition and computes the resulting status and
// custodian. It does no I/O; the store re-checks Decision.From under lock.
func Decide(in DecideInput) (store.Decision, error) {
	switch in.Transition {
	case TransitionCreate:
		if !identity.Authorize(in.Actor.Role, createRoles...) {
			return store.Decision{}, ErrForbidden
		}
		if in.Current != nil {
			return store.Decision{}, &TransitionError{Transition: in.Transition, From: in.Current.Status}
		}
		return store.Decision{From: models.StatusUnknown, To: models.StatusInactive}, nil

	case TransitionActivate:
		if in.Actor.IsZero() || !identity.Authorize(in.Actor.Role) {
			return store.Decision{}, ErrForbidden
		}
		if in.Current == nil {
			return store.Decision{}, store.ErrAssetNotFound
		}
		if in.Current.Status != models.StatusInactive {
			return store.Decision{}, &TransitionError{Transition: in.Transition, From: in.Current.Status}
		}
		custodian := in.Actor.ID
		return store.Decision{
			From:        models.StatusInactive,
			To:          models.StatusActive,
			CustodianID: &custodian,
			Note:        NoteActivated,
		}, nil

	case TransitionComplete:
		if !identity.Authorize(in.Actor.Role, completeRoles...) {
			return store.Decision{}, ErrForbidden
		}
		if in.Current == nil {
			return store.Decision{}, store.ErrAssetNotFound
		}
		if in.Current.Status != models.StatusActive {
			return store.Decision{}, &TransitionError{Transition: in.Transition, From: in.Current.Status}
		}
		if in.Current.CustodianID == nil {
			return store.Decision{}, fmt.Errorf("%w: active asset %s has no custodian", store.ErrCorruptRecord, in.Current.ID)
		}
		custodian := *in.Current.CustodianID
		return store.Decision{
			From:        models.StatusActive,
			To:          models.StatusCompleted,
			CustodianID: &custodian,
			Note:        NoteCompleted,
		}, nil

	default:
		return store.Decision{}, fmt.Errorf("unknown transition %q", in.Transition)
	}
}
