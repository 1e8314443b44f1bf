package allocation

import (
	"errors"
	"fmt"
)

// RejectionError is a user-facing rejection: the model (or the preflight classifier)
// refused the request because of input quality, e.g. a vague instruction or an
// unreadable bill. Message is shown to the user verbatim and no retry is implied.
type RejectionError struct {
	Message string
}

func (e *RejectionError) Error() string {
	return "allocation rejected: " + e.Message
}

// MalformedResultError means the model output does not have the shape of an allocation.
type MalformedResultError struct {
	// Path is the JSON path of the offending value, e.g. "expense.bill.line_items[2]".
	Path   string
	Reason string
}

func (e *MalformedResultError) Error() string {
	if e.Path == "" {
		return "malformed allocation result: " + e.Reason
	}
	return fmt.Sprintf("malformed allocation result at %s: %s", e.Path, e.Reason)
}

// FabricatedIdentityError means the model referenced a member outside the roster.
type FabricatedIdentityError struct {
	// Field is the JSON path that holds the id, e.g. "splits[1].member_id".
	Field string
	ID    string
}

func (e *FabricatedIdentityError) Error() string {
	return fmt.Sprintf("allocation references unknown member %q in %s", e.ID, e.Field)
}

// CurrencyUnitError means a monetary field is not a non-negative integer amount of cents.
type CurrencyUnitError struct {
	Path   string
	Reason string
}

func (e *CurrencyUnitError) Error() string {
	return fmt.Sprintf("invalid money value at %s: %s", e.Path, e.Reason)
}

// ReconciliationError is returned in strict mode when the shares don't add up to the expense amount.
type ReconciliationError struct {
	ShareSumCents  int64
	AmountCents    int64
	ToleranceCents int64
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("shares sum to %d cents but expense amount is %d cents (tolerance %d)",
		e.ShareSumCents, e.AmountCents, e.ToleranceCents)
}

// IsContractViolation reports whether err means the model broke its output contract.
// Such failures are worth one re-prompt; rejections and infrastructure errors are not.
func IsContractViolation(err error) bool {
	var (
		malformed  *MalformedResultError
		fabricated *FabricatedIdentityError
		currency   *CurrencyUnitError
		reconcile  *ReconciliationError
	)
	return errors.As(err, &malformed) ||
		errors.As(err, &fabricated) ||
		errors.As(err, &currency) ||
		errors.As(err, &reconcile)
}

// IsRejection reports whether err is a user-facing rejection.
func IsRejection(err error) bool {
	var rejection *RejectionError
	return errors.As(err, &rejection)
}
