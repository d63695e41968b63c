package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, relays, and the codec
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the cache
// - ErrUnreachable: no relay endpoint accepted the operation
// - ErrNoSigner: no resident private key and no external signer available
// - ErrUndecryptable: payload could not be decoded by any supported scheme
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrUnreachable   = errors.New("unreachable")
	ErrNoSigner      = errors.New("no signer")
	ErrUndecryptable = errors.New("undecryptable")
	ErrInvalidState  = errors.New("invalid state")
	ErrUnavailable   = errors.New("unavailable")
)
