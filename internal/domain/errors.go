package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a stage failure and decides retry behavior.
type Kind int

const (
	// KindTransient covers network hiccups, timeouts, and stale sessions.
	// Never ledgered; the item is retried on the next cycle.
	KindTransient Kind = iota
	// KindNotFound means the item has no media to act on. Ledgered as
	// completed-with-no-artifact so the item is not retried forever.
	KindNotFound
	// KindPoolExhausted means no slot freed up within the wait limit.
	// Not an item failure; the item is deferred.
	KindPoolExhausted
	// KindResourceExpired means TTL reclamation terminated the session
	// mid-flight. Treated as transient.
	KindResourceExpired
	// KindLedgerWrite means the completion record could not be persisted.
	// The stage counts as not completed and the pass aborts.
	KindLedgerWrite
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPoolExhausted:
		return "pool_exhausted"
	case KindResourceExpired:
		return "resource_expired"
	case KindLedgerWrite:
		return "ledger_write"
	default:
		return "transient"
	}
}

// StageError carries the failing stage and the failure classification.
type StageError struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with a stage and kind.
func NewStageError(stage Stage, kind Kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// KindOf extracts the classification from err, defaulting to transient for
// unclassified errors so they stay retryable.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// IsRetryable reports whether the failure leaves the item eligible for the
// next cycle. Only not-found failures are terminal.
func IsRetryable(err error) bool {
	return KindOf(err) != KindNotFound
}
