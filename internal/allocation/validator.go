package allocation

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/mmynk/splitscribe/internal/instruction"
	"github.com/mmynk/splitscribe/internal/models"
)

// ReconcileMode selects what happens when shares don't add up to the amount.
type ReconcileMode string

const (
	// ReconcileLenient logs a warning and accepts the allocation.
	ReconcileLenient ReconcileMode = "lenient"
	// ReconcileStrict rejects the allocation with a ReconciliationError.
	ReconcileStrict ReconcileMode = "strict"
)

// Warning kinds.
const (
	WarnShareSum      = "share_sum"
	WarnAmountTotal   = "amount_total"
	WarnSubtotalItems = "subtotal_items"
)

// centsPerDollar is the factor that gives away a dollars-for-cents mix-up.
const centsPerDollar = 100

// MaxCents caps any single money field and any sum of them. Sums of values
// under the cap can't overflow int64.
const MaxCents int64 = 1 << 53

// Warning is a ReconciliationWarning: a sum that doesn't match what it should,
// which is logged but does not block persistence.
type Warning struct {
	Kind     string
	Expected int64
	Actual   int64
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: expected %d, got %d", w.Kind, w.Expected, w.Actual)
}

// Allocation is a validated model answer, ready for normalization.
type Allocation struct {
	Expense  models.Expense
	Splits   []models.Split
	Warnings []Warning
}

// ShareSumCents returns the sum of all proposed shares, zero shares included.
func (a *Allocation) ShareSumCents() int64 {
	var sum int64
	for _, s := range a.Splits {
		sum += s.ShareCents
	}
	return sum
}

// Validator checks raw model output against the schema contract and business rules.
// It is safe for concurrent use.
type Validator struct {
	policy *Policy
	mode   ReconcileMode
	logger *slog.Logger
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithPolicy sets the reconciliation policy (default: DefaultReconcileRule, tolerance 0).
func WithPolicy(p *Policy) ValidatorOption {
	return func(v *Validator) { v.policy = p }
}

// WithReconcileMode sets lenient or strict reconciliation (default lenient).
func WithReconcileMode(m ReconcileMode) ValidatorOption {
	return func(v *Validator) { v.mode = m }
}

// WithLogger sets the logger used for reconciliation warnings.
func WithLogger(l *slog.Logger) ValidatorOption {
	return func(v *Validator) { v.logger = l }
}

// NewValidator creates a Validator.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		policy: MustPolicy(DefaultReconcileRule, 0),
		mode:   ReconcileLenient,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks raw against the roster that was offered to the model and the
// instruction the user typed. It returns a *RejectionError when the model chose
// the error branch (or answered a vague instruction anyway), or one of
// *MalformedResultError, *FabricatedIdentityError, *CurrencyUnitError and
// *ReconciliationError when the model broke its contract.
func (v *Validator) Validate(raw []byte, roster []models.Person, instructionText string) (*Allocation, error) {
	dec, err := decodeContract(stripCodeFence(raw))
	if err != nil {
		return nil, err
	}
	if dec.rejection != "" {
		return nil, &RejectionError{Message: dec.rejection}
	}

	// The model is told to refuse vague instructions; don't rely on it.
	if instruction.Classify(instructionText) == instruction.Vague {
		return nil, &RejectionError{Message: instruction.VagueMessage}
	}

	if err := checkIdentities(dec, roster); err != nil {
		return nil, err
	}
	if dec.unitErr != nil {
		return nil, dec.unitErr
	}

	alloc := &Allocation{Expense: dec.expense, Splits: dec.splits}
	if err := checkBounds(alloc); err != nil {
		return nil, err
	}
	if err := checkUnits(alloc); err != nil {
		return nil, err
	}
	if err := v.reconcile(alloc); err != nil {
		return nil, err
	}

	return alloc, nil
}

func checkIdentities(dec *decoded, roster []models.Person) error {
	members := make(map[string]bool, len(roster))
	for _, p := range roster {
		members[p.ID] = true
	}

	check := func(field, id string) error {
		if !members[id] {
			return &FabricatedIdentityError{Field: field, ID: id}
		}
		return nil
	}

	if err := check(FieldExpense+"."+FieldPayerID, dec.expense.PayerID); err != nil {
		return err
	}
	if err := check(FieldExpense+"."+FieldUploadedBy, dec.expense.UploadedBy); err != nil {
		return err
	}
	for i, s := range dec.splits {
		if err := check(fmt.Sprintf("%s[%d].%s", FieldSplits, i, FieldMemberID), s.MemberID); err != nil {
			return err
		}
	}
	return nil
}

// checkUnits looks for totals that are off by exactly the cents-per-dollar factor.
// checkBounds rejects money values, and sums of them, above MaxCents. The
// unit and reconcile checks rely on it to do plain int64 arithmetic.
func checkBounds(a *Allocation) error {
	bill := a.Expense.Bill
	billPath := FieldExpense + "." + FieldBill

	over := func(path string, cents int64) error {
		return &CurrencyUnitError{Path: path, Reason: fmt.Sprintf("%d cents exceeds the limit of %d", cents, MaxCents)}
	}
	bounded := func(path string, cents ...int64) error {
		var sum int64
		for _, c := range cents {
			if c > MaxCents {
				return over(path, c)
			}
			sum += c
			if sum > MaxCents {
				return over(path, sum)
			}
		}
		return nil
	}

	if err := bounded(FieldExpense+"."+FieldAmountCents, a.Expense.AmountCents); err != nil {
		return err
	}
	if err := bounded(billPath, bill.SubtotalCents, bill.TaxCents, bill.TipCents); err != nil {
		return err
	}
	prices := make([]int64, len(bill.LineItems))
	for i, item := range bill.LineItems {
		prices[i] = item.PriceCents
	}
	if err := bounded(billPath+"."+FieldLineItems, prices...); err != nil {
		return err
	}
	shares := make([]int64, len(a.Splits))
	for i, s := range a.Splits {
		shares[i] = s.ShareCents
	}
	return bounded(FieldSplits, shares...)
}

func checkUnits(a *Allocation) error {
	bill := a.Expense.Bill
	amountPath := FieldExpense + "." + FieldAmountCents

	if hundredfold(a.Expense.AmountCents, bill.TotalCents()) {
		return &CurrencyUnitError{Path: amountPath,
			Reason: fmt.Sprintf("%d vs bill total %d looks like a dollars/cents mix-up", a.Expense.AmountCents, bill.TotalCents())}
	}
	if len(bill.LineItems) > 0 && hundredfold(bill.SubtotalCents, bill.LineItemsCents()) {
		return &CurrencyUnitError{Path: FieldExpense + "." + FieldBill + "." + FieldSubtotalCents,
			Reason: fmt.Sprintf("%d vs line items %d looks like a dollars/cents mix-up", bill.SubtotalCents, bill.LineItemsCents())}
	}
	if len(a.Splits) > 0 && hundredfold(a.ShareSumCents(), a.Expense.AmountCents) {
		return &CurrencyUnitError{Path: FieldSplits,
			Reason: fmt.Sprintf("shares sum %d vs amount %d looks like a dollars/cents mix-up", a.ShareSumCents(), a.Expense.AmountCents)}
	}
	return nil
}

// hundredfold reports whether one value is the other expressed in dollars,
// allowing up to a dollar of rounding.
func hundredfold(a, b int64) bool {
	if a <= 0 || b <= 0 || a == b {
		return false
	}
	small, large := a, b
	if small > large {
		small, large = large, small
	}
	if large < centsPerDollar {
		return false
	}
	return abs(small*centsPerDollar-large) < centsPerDollar
}

func (v *Validator) reconcile(a *Allocation) error {
	tolerance := v.policy.ToleranceCents()
	bill := a.Expense.Bill

	if d := a.Expense.AmountCents - bill.TotalCents(); abs(d) > tolerance {
		a.Warnings = append(a.Warnings, Warning{Kind: WarnAmountTotal, Expected: bill.TotalCents(), Actual: a.Expense.AmountCents})
	}
	if len(bill.LineItems) > 0 {
		if d := bill.SubtotalCents - bill.LineItemsCents(); abs(d) > tolerance {
			a.Warnings = append(a.Warnings, Warning{Kind: WarnSubtotalItems, Expected: bill.LineItemsCents(), Actual: bill.SubtotalCents})
		}
	}

	shareSum := a.ShareSumCents()
	ok, err := v.policy.Accepts(shareSum, a.Expense.AmountCents, len(a.Splits))
	if err != nil {
		return err
	}
	if !ok {
		if v.mode == ReconcileStrict {
			return &ReconciliationError{ShareSumCents: shareSum, AmountCents: a.Expense.AmountCents, ToleranceCents: tolerance}
		}
		a.Warnings = append(a.Warnings, Warning{Kind: WarnShareSum, Expected: a.Expense.AmountCents, Actual: shareSum})
	}

	for _, w := range a.Warnings {
		v.logger.Warn("Allocation does not reconcile",
			"kind", w.Kind,
			"expected_cents", w.Expected,
			"actual_cents", w.Actual,
			"tolerance_cents", tolerance,
		)
	}
	return nil
}

// stripCodeFence removes a ```json fence some models wrap around JSON output.
func stripCodeFence(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(trimmed, []byte("```")) {
		return trimmed
	}
	trimmed = bytes.TrimPrefix(trimmed, []byte("```"))
	if nl := bytes.IndexByte(trimmed, '\n'); nl >= 0 {
		trimmed = trimmed[nl+1:]
	}
	trimmed = bytes.TrimSuffix(bytes.TrimSpace(trimmed), []byte("```"))
	return bytes.TrimSpace(trimmed)
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
