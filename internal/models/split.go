package models

import "time"

// CurrencyUSD is the only currency an expense can be recorded in.
const CurrencyUSD = "USD"

// LineItem is a single line on a scanned bill.
type LineItem struct {
	// Description is the item text as printed on the bill (e.g., "Pizza", "Beer").
	Description string `json:"description"`

	// PriceCents is the pre-tax price of the line in cents.
	PriceCents int64 `json:"price_cents"`
}

// Bill is the itemized bill the model read from the image.
// SubtotalCents should approximate the sum of line item prices; the model may round.
// Tax and tip are additive on top of the subtotal.
type Bill struct {
	// MerchantName is optional; empty when the merchant could not be read.
	MerchantName string `json:"merchant_name,omitempty"`

	LineItems     []LineItem `json:"line_items"`
	SubtotalCents int64      `json:"subtotal_cents"`
	TaxCents      int64      `json:"tax_cents"`
	TipCents      int64      `json:"tip_cents"`
}

// TotalCents returns subtotal + tax + tip.
func (b Bill) TotalCents() int64 {
	return b.SubtotalCents + b.TaxCents + b.TipCents
}

// LineItemsCents returns the sum of all line item prices.
func (b Bill) LineItemsCents() int64 {
	var sum int64
	for _, item := range b.LineItems {
		sum += item.PriceCents
	}
	return sum
}

// Expense is the parent record of a scanned bill.
type Expense struct {
	// ID is generated at persistence time (UUID format). Empty until persisted.
	ID string `json:"id,omitempty"`

	// AmountCents is subtotal + tax + tip.
	AmountCents int64 `json:"amount_cents"`

	// Currency is always CurrencyUSD.
	Currency string `json:"currency"`

	// PayerID is the member who paid the bill.
	PayerID string `json:"payer_id"`

	// UploadedBy is the member who scanned the bill.
	UploadedBy string `json:"uploaded_by"`

	Bill Bill `json:"bill"`

	// Description holds the user's literal split instruction once normalized.
	Description string `json:"description"`

	// ExpenseTime is when the expense happened, as read from the bill.
	ExpenseTime time.Time `json:"expense_time"`

	// IdempotencyKey identifies a submission so that retries don't insert the expense twice.
	IdempotencyKey string `json:"-"`

	// CreatedAt is set by the store.
	CreatedAt time.Time `json:"-"`
}

// Split is one member's share of an expense.
// Persisted splits always have ShareCents > 0.
type Split struct {
	ID         string `json:"id,omitempty"`
	ExpenseID  string `json:"expense_id,omitempty"`
	MemberID   string `json:"member_id"`
	ShareCents int64  `json:"share_cents"`
}

// AllocationResult is the model's answer for one bill.
// Exactly one branch is populated: ErrorMessage, or Expense and Splits.
type AllocationResult struct {
	ErrorMessage string   `json:"error_message,omitempty"`
	Expense      *Expense `json:"expense,omitempty"`
	Splits       []Split  `json:"splits"`
}

// IsRejection reports whether the error branch is populated.
func (r AllocationResult) IsRejection() bool {
	return r.ErrorMessage != ""
}
