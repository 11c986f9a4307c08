package model

import "errors"

// Sentinel errors surfaced by the persistence layer. Callers branch
// with errors.Is and translate to user-facing messages; the raw error
// never reaches a client payload.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("constraint violation")
	ErrInsufficientFunds = errors.New("insufficient funds")
)
