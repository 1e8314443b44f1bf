// Package calculator aggregates persisted expenses into balances between members.
package calculator

import (
	"cmp"
	"slices"

	"github.com/mmynk/splitscribe/internal/storage"
)

// MemberBalance represents the balance information for one member.
type MemberBalance struct {
	MemberID   string `json:"member_id"`
	PaidCents  int64  `json:"paid_cents"`  // Total of bills this member paid
	ShareCents int64  `json:"share_cents"` // Total of this member's own shares
	NetCents   int64  `json:"net_cents"`   // Positive = owed money, Negative = owes money
}

// DebtEdge represents a debt from one member to another.
type DebtEdge struct {
	From        string `json:"from"` // Member who owes
	To          string `json:"to"`   // Member who is owed
	AmountCents int64  `json:"amount_cents"`
}

// CalculateBalances computes balances across persisted expenses.
//
// Algorithm:
//   - For each split of another member: that member owes the payer their share
//   - A payer's own share is recorded but never owed to anyone
//   - Debt edges: simplified from net balances by greedy matching, largest first
//
// Any part of an amount not covered by splits stays with the payer.
// The result is sorted by member ID, so equal inputs give equal outputs.
func CalculateBalances(records []storage.ExpenseRecord) ([]MemberBalance, []DebtEdge) {
	balances := make(map[string]*MemberBalance)
	get := func(id string) *MemberBalance {
		b, ok := balances[id]
		if !ok {
			b = &MemberBalance{MemberID: id}
			balances[id] = b
		}
		return b
	}

	for _, r := range records {
		// Skip expenses without payer (can't calculate balances)
		if r.Expense.PayerID == "" {
			continue
		}
		payer := get(r.Expense.PayerID)
		payer.PaidCents += r.Expense.AmountCents

		for _, s := range r.Splits {
			member := get(s.MemberID)
			member.ShareCents += s.ShareCents
			if s.MemberID != r.Expense.PayerID {
				member.NetCents -= s.ShareCents
				payer.NetCents += s.ShareCents
			}
		}
	}

	memberBalances := make([]MemberBalance, 0, len(balances))
	for _, b := range balances {
		memberBalances = append(memberBalances, *b)
	}
	slices.SortFunc(memberBalances, func(a, b MemberBalance) int {
		return cmp.Compare(a.MemberID, b.MemberID)
	})

	return memberBalances, simplify(memberBalances)
}

type position struct {
	id     string
	amount int64
}

// simplify matches debtors with creditors to minimize transactions.
func simplify(balances []MemberBalance) []DebtEdge {
	var creditors, debtors []position
	for _, b := range balances {
		switch {
		case b.NetCents > 0:
			creditors = append(creditors, position{b.MemberID, b.NetCents})
		case b.NetCents < 0:
			debtors = append(debtors, position{b.MemberID, -b.NetCents})
		}
	}

	largestFirst := func(a, b position) int {
		if c := cmp.Compare(b.amount, a.amount); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	}
	slices.SortFunc(creditors, largestFirst)
	slices.SortFunc(debtors, largestFirst)

	var edges []DebtEdge
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := min(debtors[i].amount, creditors[j].amount)
		edges = append(edges, DebtEdge{
			From:        debtors[i].id,
			To:          creditors[j].id,
			AmountCents: amount,
		})

		debtors[i].amount -= amount
		creditors[j].amount -= amount
		if debtors[i].amount == 0 {
			i++
		}
		if creditors[j].amount == 0 {
			j++
		}
	}
	return edges
}
