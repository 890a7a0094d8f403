package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxCodeLength matches the width of the assets.code column.
const MaxCodeLength = 255

var (
	ErrEmptyCode    = errors.New("asset code is required")
	ErrCodeTooLong  = errors.New("asset code is too long")
	ErrCodeNotPrint = errors.New("asset code must be printable")
)

// Status is the lifecycle stage of an asset.
// The zero value is not a valid status.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusInactive
	StatusActive
	StatusCompleted
)

// ParseStatus converts the persisted or wire form of a status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "inactive":
		return StatusInactive, nil
	case "active":
		return StatusActive, nil
	case "completed":
		return StatusCompleted, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown asset status %q", s)
	}
}

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the three lifecycle stages.
func (s Status) Valid() bool {
	return s >= StatusInactive && s <= StatusCompleted
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid asset status %d", s)
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Asset is a trackable item identified by a unique code.
type Asset struct {
	ID          uuid.UUID `json:"id"`
	Code        string    `json:"code"`
	Status      Status    `json:"status"`
	CustodianID *string   `json:"custodianId,omitempty"` // nil while inactive
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the asset.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	clone := *a
	if a.CustodianID != nil {
		id := *a.CustodianID
		clone.CustodianID = &id
	}
	return &clone
}

// HistoryEntry records one committed lifecycle transition.
type HistoryEntry struct {
	ID         uuid.UUID `json:"id"`
	AssetID    uuid.UUID `json:"assetId"`
	FromStatus Status    `json:"fromStatus"`
	ToStatus   Status    `json:"toStatus"`
	ActorID    string    `json:"actorId"`
	ActorName  string    `json:"actorName,omitempty"` // joined from the principal directory on read
	ChangedAt  time.Time `json:"changedAt"`
	Notes      *string   `json:"notes,omitempty"`
}

// ValidateCode checks that a code is usable as an asset natural key.
func ValidateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrEmptyCode
	}
	if len(code) > MaxCodeLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrCodeTooLong, len(code), MaxCodeLength)
	}
	if !utf8.ValidString(code) {
		return ErrCodeNotPrint
	}
	for _, r := range code {
		if !unicode.IsPrint(r) {
			return ErrCodeNotPrint
		}
	}
	return nil
}
