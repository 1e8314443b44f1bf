// Package api holds the request and response messages of the splitscribe.v1 RPC services.
// Messages travel as JSON; see package apiconnect for handlers and clients.
package api

import (
	"github.com/mmynk/splitscribe/internal/calculator"
	"github.com/mmynk/splitscribe/internal/models"
)

// Expense is a persisted expense with its splits.
type Expense struct {
	Expense models.Expense `json:"expense"`
	Splits  []models.Split `json:"splits"`
}

type GetExpenseRequest struct {
	ExpenseID string `json:"expense_id"`
}

type GetExpenseResponse struct {
	Expense Expense `json:"expense"`
}

type ListExpensesRequest struct {
	// MemberID defaults to the authenticated user.
	MemberID string `json:"member_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type ListExpensesResponse struct {
	Expenses []Expense `json:"expenses"`
}

type GetBalancesRequest struct {
	// MemberID defaults to the authenticated user.
	MemberID string `json:"member_id,omitempty"`
}

type GetBalancesResponse struct {
	Balances []calculator.MemberBalance `json:"balances"`
	Debts    []calculator.DebtEdge      `json:"debts"`
}

type AddFriendRequest struct {
	// UserID defaults to the authenticated user.
	UserID     string `json:"user_id,omitempty"`
	FriendID   string `json:"friend_id"`
	FriendName string `json:"friend_name"`
}

type AddFriendResponse struct {
	Friend models.Person `json:"friend"`
}

type ListFriendsRequest struct {
	// UserID defaults to the authenticated user.
	UserID string `json:"user_id,omitempty"`
}

type ListFriendsResponse struct {
	Friends []models.Person `json:"friends"`
}
