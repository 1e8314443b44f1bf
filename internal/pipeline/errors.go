package pipeline

import (
	"errors"
	"fmt"

	"github.com/mmynk/splitscribe/internal/allocation"
)

// Persistence operations reported in PersistenceError.Op.
const (
	OpIdempotencyLookup = "idempotency lookup failed"
	OpExpenseInsert     = "expense insert failed"
	OpSplitInsert       = "split insert failed"
	OpCommit            = "commit failed"
)

// ErrInvalidRequest marks requests that are missing required input.
var ErrInvalidRequest = errors.New("invalid request")

// PersistenceError reports a failed write of the expense or its splits.
type PersistenceError struct {
	Op        string
	ExpenseID string

	// Compensated reports that no expense row was left behind, either because
	// the transaction rolled back or because the orphan was deleted.
	Compensated bool

	Err error
}

func (e *PersistenceError) Error() string {
	if e.ExpenseID != "" {
		return fmt.Sprintf("%s (expense %s, compensated=%t): %v", e.Op, e.ExpenseID, e.Compensated, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// TransientUpstreamError reports a model call that failed or timed out.
// The request can be retried as is.
type TransientUpstreamError struct {
	Err error
}

func (e *TransientUpstreamError) Error() string {
	return fmt.Sprintf("allocation service unavailable: %v", e.Err)
}

func (e *TransientUpstreamError) Unwrap() error {
	return e.Err
}

// UnknownUserError is returned when the uploading user has no member row
// and provisioning is off.
type UnknownUserError struct {
	UserID string
}

func (e *UnknownUserError) Error() string {
	return fmt.Sprintf("user %s not found in members", e.UserID)
}

// IsRejection reports whether err carries a message meant for the end user.
func IsRejection(err error) bool {
	return allocation.IsRejection(err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var transient *TransientUpstreamError
	return errors.As(err, &transient)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// violationKind names a model contract violation for logs and metrics.
func violationKind(err error) string {
	var (
		malformed  *allocation.MalformedResultError
		fabricated *allocation.FabricatedIdentityError
		unit       *allocation.CurrencyUnitError
		reconcile  *allocation.ReconciliationError
	)
	switch {
	case errors.As(err, &malformed):
		return "malformed"
	case errors.As(err, &fabricated):
		return "fabricated_identity"
	case errors.As(err, &unit):
		return "currency_unit"
	case errors.As(err, &reconcile):
		return "reconciliation"
	default:
		return "unknown"
	}
}
