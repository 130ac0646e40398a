package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrTxNotFound    = errors.New("transaction not found")
	ErrNotInReceipt  = errors.New("event not found in receipt")
	ErrUpstream      = errors.New("upstream unavailable")
	ErrLockHeld      = errors.New("lock already held")
	ErrContextDone   = errors.New("context cancelled")
)

// TxNotFoundError reports that a transaction receipt never materialized
// within the polling budget. The same hash may be resubmitted safely; the
// top-level operations are idempotent.
type TxNotFoundError struct {
	TxHash   string
	Attempts int
}

func (e *TxNotFoundError) Error() string {
	return fmt.Sprintf("transaction %s not found after %d attempts", e.TxHash, e.Attempts)
}

func (e *TxNotFoundError) Unwrap() error { return ErrTxNotFound }

// NotInReceiptError reports that a receipt exists but does not contain the
// event kind the operation expected. This is a caller error, not retryable.
type NotInReceiptError struct {
	TxHash string
	Kind   EventKind
}

func (e *NotInReceiptError) Error() string {
	return fmt.Sprintf("transaction %s: no %s event in receipt", e.TxHash, e.Kind)
}

func (e *NotInReceiptError) Unwrap() error { return ErrNotInReceipt }
