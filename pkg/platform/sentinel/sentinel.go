package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and the object-storage
// client return these (optionally wrapped) so services can translate them
// into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: document or object does not exist
// - ErrConflict: a uniqueness constraint was violated (e.g. one card per user)
// - ErrObjectExists: an upload targeted an occupied key without overwrite
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors
// directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrObjectExists = errors.New("object already exists")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
