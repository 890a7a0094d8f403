package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/qrtrack/internal/models"
	"github.com/wolfeidau/qrtrack/internal/store"
)

func assetIn(status models.Status, custodian string) *models.Asset {
	a := &models.Asset{ID: store.NewID(), Code: "QR_1", Status: status}
	if custodian != "" {
		a.CustodianID = &custodian
	}
	return a
}

func TestDecide(t *testing.T) {
	var (
		user     = models.Principal{ID: "u1", Role: models.RoleUser}
		employee = models.Principal{ID: "e1", Role: models.RoleEmployee}
		admin    = models.Principal{ID: "a1", Role: models.RoleAdmin}
	)

	tests := []struct {
		name          string
		in            DecideInput
		wantTo        models.Status
		wantCustodian string
		wantNote      string
		wantErr       error
		wantInvalid   bool
	}{
		{
			name:          "activate inactive",
			in:            DecideInput{Transition: TransitionActivate, Current: assetIn(models.StatusInactive, ""), Actor: user},
			wantTo:        models.StatusActive,
			wantCustodian: "u1",
			wantNote:      NoteActivated,
		},
		{
			name:        "activate active",
			in:          DecideInput{Transition: TransitionActivate, Current: assetIn(models.StatusActive, "u2"), Actor: user},
			wantInvalid: true,
		},
		{
			name:        "activate completed",
			in:          DecideInput{Transition: TransitionActivate, Current: assetIn(models.StatusCompleted, "u2"), Actor: admin},
			wantInvalid: true,
		},
		{
			name:    "activate anonymous",
			in:      DecideInput{Transition: TransitionActivate, Current: assetIn(models.StatusInactive, "")},
			wantErr: ErrForbidden,
		},
		{
			name:          "complete keeps custodian",
			in:            DecideInput{Transition: TransitionComplete, Current: assetIn(models.StatusActive, "u1"), Actor: employee},
			wantTo:        models.StatusCompleted,
			wantCustodian: "u1",
			wantNote:      NoteCompleted,
		},
		{
			name:          "admin completes",
			in:            DecideInput{Transition: TransitionComplete, Current: assetIn(models.StatusActive, "u1"), Actor: admin},
			wantTo:        models.StatusCompleted,
			wantCustodian: "u1",
			wantNote:      NoteCompleted,
		},
		{
			name:    "user cannot complete",
			in:      DecideInput{Transition: TransitionComplete, Current: assetIn(models.StatusActive, "u1"), Actor: user},
			wantErr: ErrForbidden,
		},
		{
			name:        "complete inactive",
			in:          DecideInput{Transition: TransitionComplete, Current: assetIn(models.StatusInactive, ""), Actor: employee},
			wantInvalid: true,
		},
		{
			name:        "complete completed",
			in:          DecideInput{Transition: TransitionComplete, Current: assetIn(models.StatusCompleted, "u1"), Actor: employee},
			wantInvalid: true,
		},
		{
			name:    "active without custodian is corrupt",
			in:      DecideInput{Transition: TransitionComplete, Current: assetIn(models.StatusActive, ""), Actor: employee},
			wantErr: store.ErrCorruptRecord,
		},
		{
			name:   "admin creates",
			in:     DecideInput{Transition: TransitionCreate, Actor: admin},
			wantTo: models.StatusInactive,
		},
		{
			name:    "employee cannot create",
			in:      DecideInput{Transition: TransitionCreate, Actor: employee},
			wantErr: ErrForbidden,
		},
		{
			name:    "missing asset",
			in:      DecideInput{Transition: TransitionActivate, Actor: user},
			wantErr: store.ErrAssetNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.in.Current.Clone()

			decision, err := Decide(tt.in)

			// The engine never mutates its input
			require.Equal(t, before, tt.in.Current.Clone())

			switch {
			case tt.wantInvalid:
				var te *TransitionError
				require.ErrorAs(t, err, &te)
				require.Equal(t, tt.in.Transition, te.Transition)
				require.Equal(t, tt.in.Current.Status, te.From)
				return
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.wantTo, decision.To)
			require.Equal(t, tt.wantNote, decision.Note)
			if tt.in.Current != nil {
				require.Equal(t, tt.in.Current.Status, decision.From)
			}
			if tt.wantCustodian == "" {
				require.Nil(t, decision.CustodianID)
			} else {
				require.NotNil(t, decision.CustodianID)
				require.Equal(t, tt.wantCustodian, *decision.CustodianID)
			}
		})
	}
}

func TestDecideInvariantCustodianIffNotInactive(t *testing.T) {
	actors := []models.Principal{
		{ID: "u1", Role: models.RoleUser},
		{ID: "e1", Role: models.RoleEmployee},
		{ID: "a1", Role: models.RoleAdmin},
	}
	statuses := []models.Status{models.StatusInactive, models.StatusActive, models.StatusCompleted}
	transitions := []Transition{TransitionActivate, TransitionComplete}

	for _, actor := range actors {
		for _, status := range statuses {
			for _, tr := range transitions {
				custodian := ""
				if status != models.StatusInactive {
					custodian = "holder"
				}
				decision, err := Decide(DecideInput{Transition: tr, Current: assetIn(status, custodian), Actor: actor})
				if err != nil {
					continue
				}
				require.Equal(t, decision.To == models.StatusInactive, decision.CustodianID == nil,
					"%s by %s from %s", tr, actor.Role, status)
			}
		}
	}
}

func TestDecideUnknownTransition(t *testing.T) {
	_, err := Decide(DecideInput{Transition: "archive", Actor: models.Principal{ID: "a1", Role: models.RoleAdmin}})
	require.Error(t, err)
}

func TestTransitionErrorMessage(t *testing.T) {
	err := &TransitionError{Transition: TransitionActivate, From: models.StatusCompleted}
	require.Equal(t, "cannot activate an asset that is completed", err.Error())
}
