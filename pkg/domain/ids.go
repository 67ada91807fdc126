package domain

import (
	"github.com/google/uuid"

	dErrors "tapcard/pkg/domain-errors"
)

// UserID identifies a registered account holder.
// Invariant: IDs must be valid, non-empty, non-nil UUIDs.
//
// Usage: construct via ParseUserID at trust boundaries; direct casting
// bypasses validation.
type UserID uuid.UUID

// CardID identifies a business card document.
type CardID uuid.UUID

// AnonymousID is the opaque visitor token carried by unauthenticated clients.
// It is treated as a secret-ish bearer value: it is never logged verbatim and
// only its hash participates in storage paths.
type AnonymousID string

// ParseUserID constructs a UserID from external input.
//
// Errors: returns CodeInvalidInput when the value is empty, malformed, or the
// nil UUID; no other errors are expected.
func ParseUserID(s string) (UserID, error) {
	parsed, err := parseUUID(s, "user id")
	if err != nil {
		return UserID(uuid.Nil), err
	}
	return UserID(parsed), nil
}

// ParseCardID constructs a CardID from external input.
func ParseCardID(s string) (CardID, error) {
	parsed, err := parseUUID(s, "card id")
	if err != nil {
		return CardID(uuid.Nil), err
	}
	return CardID(parsed), nil
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be the nil UUID")
	}
	return parsed, nil
}

// NewUserID returns a freshly generated user ID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewCardID returns a freshly generated card ID.
func NewCardID() CardID { return CardID(uuid.New()) }

func (i UserID) String() string { return uuid.UUID(i).String() }
func (i UserID) IsNil() bool    { return uuid.UUID(i) == uuid.Nil }

func (i CardID) String() string { return uuid.UUID(i).String() }
func (i CardID) IsNil() bool    { return uuid.UUID(i) == uuid.Nil }

// IDs serialize as canonical UUID strings in JSON documents.

func (i UserID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *UserID) UnmarshalText(b []byte) error {
	parsed, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*i = UserID(parsed)
	return nil
}

func (i CardID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *CardID) UnmarshalText(b []byte) error {
	parsed, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*i = CardID(parsed)
	return nil
}

func (a AnonymousID) IsEmpty() bool  { return a == "" }
func (a AnonymousID) String() string { return string(a) }
