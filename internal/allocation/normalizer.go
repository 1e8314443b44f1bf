package allocation

import "github.com/mmynk/splitscribe/internal/models"

// Normalized holds the records to persist for one allocation.
// The expense has no ID yet and the splits have neither ID nor ExpenseID.
type Normalized struct {
	Expense models.Expense
	Splits  []models.Split
}

// Normalize maps a validated allocation to the records to persist.
// The expense description becomes the user's instruction, byte for byte, and
// splits with a zero share are dropped. Order of the remaining splits is kept.
// Normalize never aliases its input, so calling it twice yields equal values.
func Normalize(a *Allocation, instructionText string) Normalized {
	expense := a.Expense
	expense.ID = ""
	expense.Description = instructionText
	expense.Bill.LineItems = append(make([]models.LineItem, 0, len(a.Expense.Bill.LineItems)), a.Expense.Bill.LineItems...)

	splits := make([]models.Split, 0, len(a.Splits))
	for _, s := range a.Splits {
		if s.ShareCents <= 0 {
			continue
		}
		splits = append(splits, models.Split{MemberID: s.MemberID, ShareCents: s.ShareCents})
	}

	return Normalized{Expense: expense, Splits: splits}
}

// ShareSumCents returns the sum of the persisted shares.
func (n Normalized) ShareSumCents() int64 {
	var sum int64
	for _, s := range n.Splits {
		sum += s.ShareCents
	}
	return sum
}

// Result renders the records as an AllocationResult for API responses.
func (n Normalized) Result() models.AllocationResult {
	expense := n.Expense
	return models.AllocationResult{Expense: &expense, Splits: n.Splits}
}
