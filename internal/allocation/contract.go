// Package allocation enforces the contract between the generative model's
// free-form JSON answer and the expense and split records that get persisted.
//
// The model is told the schema and the rules, but nothing it returns is trusted:
// Validator checks shape, identities, money units and reconciliation, and
// Normalize turns a validated allocation into the records to write.
package allocation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmynk/splitscribe/internal/models"
)

// Wire field names of the allocation schema.
const (
	FieldErrorMessage  = "error_message"
	FieldExpense       = "expense"
	FieldSplits        = "splits"
	FieldDescription   = "description"
	FieldAmountCents   = "amount_cents"
	FieldCurrency      = "currency"
	FieldPayerID       = "payer_id"
	FieldUploadedBy    = "uploaded_by"
	FieldBill          = "bill"
	FieldExpenseTime   = "expense_time"
	FieldMerchantName  = "merchant_name"
	FieldLineItems     = "line_items"
	FieldSubtotalCents = "subtotal_cents"
	FieldTaxCents      = "tax_cents"
	FieldTipCents      = "tip_cents"
	FieldPriceCents    = "price_cents"
	FieldMemberID      = "member_id"
	FieldShareCents    = "share_cents"
)

// expenseTimeLayouts are accepted for expense_time; models often drop the zone.
var expenseTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// decoded is the outcome of reading raw model output against the schema contract.
type decoded struct {
	rejection string
	expense   models.Expense
	splits    []models.Split

	// unitErr is the first money value that parsed but isn't valid cents.
	// It's reported after identity checks so that error precedence follows the pipeline.
	unitErr *CurrencyUnitError
}

// object is a JSON object under a known path.
type object struct {
	path   string
	fields map[string]json.RawMessage
}

type contractReader struct {
	unitErr *CurrencyUnitError
}

// decodeContract checks raw against the schema contract and returns the typed result.
func decodeContract(raw []byte) (*decoded, error) {
	r := &contractReader{}

	top, err := r.object("", raw)
	if err != nil {
		return nil, err
	}

	hasError := top.has(FieldErrorMessage)
	hasExpense := top.has(FieldExpense)
	hasSplits := top.has(FieldSplits)

	if hasError {
		if hasExpense || hasSplits {
			return nil, &MalformedResultError{Reason: "error_message must not be combined with expense or splits"}
		}
		msg, err := r.str(top, FieldErrorMessage, true)
		if err != nil {
			return nil, err
		}
		return &decoded{rejection: msg}, nil
	}

	switch {
	case !hasExpense && !hasSplits:
		return nil, &MalformedResultError{Reason: "result must contain either error_message or expense and splits"}
	case !hasExpense:
		return nil, &MalformedResultError{Path: FieldExpense, Reason: "required field is missing"}
	case !hasSplits:
		return nil, &MalformedResultError{Path: FieldSplits, Reason: "required field is missing"}
	}

	expense, err := r.expense(top)
	if err != nil {
		return nil, err
	}
	splits, err := r.splits(top)
	if err != nil {
		return nil, err
	}

	return &decoded{expense: expense, splits: splits, unitErr: r.unitErr}, nil
}

func (r *contractReader) expense(top object) (models.Expense, error) {
	var e models.Expense

	obj, err := r.child(top, FieldExpense)
	if err != nil {
		return e, err
	}

	if e.AmountCents, err = r.cents(obj, FieldAmountCents); err != nil {
		return e, err
	}
	if e.Currency, err = r.str(obj, FieldCurrency, true); err != nil {
		return e, err
	}
	if e.Currency != models.CurrencyUSD {
		return e, &MalformedResultError{Path: obj.at(FieldCurrency), Reason: fmt.Sprintf("currency must be %q, got %q", models.CurrencyUSD, e.Currency)}
	}
	if e.PayerID, err = r.str(obj, FieldPayerID, true); err != nil {
		return e, err
	}
	if e.UploadedBy, err = r.str(obj, FieldUploadedBy, true); err != nil {
		return e, err
	}
	if e.Description, err = r.str(obj, FieldDescription, false); err != nil {
		return e, err
	}

	ts, err := r.str(obj, FieldExpenseTime, true)
	if err != nil {
		return e, err
	}
	if e.ExpenseTime, err = parseExpenseTime(ts); err != nil {
		return e, &MalformedResultError{Path: obj.at(FieldExpenseTime), Reason: err.Error()}
	}

	bill, err := r.child(obj, FieldBill)
	if err != nil {
		return e, err
	}
	if e.Bill.MerchantName, err = r.str(bill, FieldMerchantName, false); err != nil {
		return e, err
	}
	if e.Bill.SubtotalCents, err = r.cents(bill, FieldSubtotalCents); err != nil {
		return e, err
	}
	if e.Bill.TaxCents, err = r.cents(bill, FieldTaxCents); err != nil {
		return e, err
	}
	if e.Bill.TipCents, err = r.cents(bill, FieldTipCents); err != nil {
		return e, err
	}

	items, err := r.array(bill, FieldLineItems)
	if err != nil {
		return e, err
	}
	e.Bill.LineItems = make([]models.LineItem, 0, len(items))
	for i, raw := range items {
		item, err := r.object(fmt.Sprintf("%s[%d]", bill.at(FieldLineItems), i), raw)
		if err != nil {
			return e, err
		}
		var li models.LineItem
		if li.Description, err = r.str(item, FieldDescription, true); err != nil {
			return e, err
		}
		if li.PriceCents, err = r.cents(item, FieldPriceCents); err != nil {
			return e, err
		}
		e.Bill.LineItems = append(e.Bill.LineItems, li)
	}

	return e, nil
}

func (r *contractReader) splits(top object) ([]models.Split, error) {
	items, err := r.array(top, FieldSplits)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(items))
	splits := make([]models.Split, 0, len(items))
	for i, raw := range items {
		obj, err := r.object(fmt.Sprintf("%s[%d]", FieldSplits, i), raw)
		if err != nil {
			return nil, err
		}
		var s models.Split
		if s.MemberID, err = r.str(obj, FieldMemberID, true); err != nil {
			return nil, err
		}
		if seen[s.MemberID] {
			return nil, &MalformedResultError{Path: obj.at(FieldMemberID), Reason: fmt.Sprintf("member %q has more than one split", s.MemberID)}
		}
		seen[s.MemberID] = true
		if s.ShareCents, err = r.cents(obj, FieldShareCents); err != nil {
			return nil, err
		}
		splits = append(splits, s)
	}
	return splits, nil
}

func (r *contractReader) object(path string, raw json.RawMessage) (object, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return object{}, &MalformedResultError{Path: path, Reason: "expected a JSON object"}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return object{}, &MalformedResultError{Path: path, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return object{path: path, fields: fields}, nil
}

func (r *contractReader) child(parent object, key string) (object, error) {
	raw, ok := parent.get(key)
	if !ok {
		return object{}, &MalformedResultError{Path: parent.at(key), Reason: "required field is missing"}
	}
	return r.object(parent.at(key), raw)
}

func (r *contractReader) array(parent object, key string) ([]json.RawMessage, error) {
	raw, ok := parent.get(key)
	if !ok {
		return nil, &MalformedResultError{Path: parent.at(key), Reason: "required field is missing"}
	}
	if raw[0] != '[' {
		return nil, &MalformedResultError{Path: parent.at(key), Reason: "expected an array"}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &MalformedResultError{Path: parent.at(key), Reason: fmt.Sprintf("invalid array: %v", err)}
	}
	return items, nil
}

// str reads a string field. Optional fields that are absent read as "".
func (r *contractReader) str(parent object, key string, required bool) (string, error) {
	raw, ok := parent.get(key)
	if !ok {
		if required {
			return "", &MalformedResultError{Path: parent.at(key), Reason: "required field is missing"}
		}
		return "", nil
	}
	var s string
	if raw[0] != '"' || json.Unmarshal(raw, &s) != nil {
		return "", &MalformedResultError{Path: parent.at(key), Reason: "expected a string"}
	}
	if required && strings.TrimSpace(s) == "" {
		return "", &MalformedResultError{Path: parent.at(key), Reason: "must not be empty"}
	}
	return s, nil
}

// cents reads a required money field. A value that isn't a JSON number is malformed;
// a number that isn't a non-negative integer is recorded as the first unit error and
// read as zero so that decoding can finish.
func (r *contractReader) cents(parent object, key string) (int64, error) {
	path := parent.at(key)
	raw, ok := parent.get(key)
	if !ok {
		return 0, &MalformedResultError{Path: path, Reason: "required field is missing"}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, &MalformedResultError{Path: path, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, &MalformedResultError{Path: path, Reason: "expected an integer number of cents"}
	}

	text := num.String()
	if strings.ContainsAny(text, ".eE") {
		r.unit(path, fmt.Sprintf("%s is not an integer number of cents", text))
		return 0, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		r.unit(path, fmt.Sprintf("%s is out of range", text))
		return 0, nil
	}
	if n < 0 {
		r.unit(path, fmt.Sprintf("%d is negative", n))
		return 0, nil
	}
	return n, nil
}

func (r *contractReader) unit(path, reason string) {
	if r.unitErr == nil {
		r.unitErr = &CurrencyUnitError{Path: path, Reason: reason}
	}
}

// get returns a present, non-null field.
func (o object) get(key string) (json.RawMessage, bool) {
	raw, ok := o.fields[key]
	if !ok {
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	return raw, true
}

func (o object) has(key string) bool {
	_, ok := o.get(key)
	return ok
}

func (o object) at(key string) string {
	if o.path == "" {
		return key
	}
	return o.path + "." + key
}

func parseExpenseTime(s string) (time.Time, error) {
	for _, layout := range expenseTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a date-time", s)
}
