// Package service implements the Connect RPC services over the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"connectrpc.com/connect"
	"github.com/mmynk/splitscribe/internal/calculator"
	"github.com/mmynk/splitscribe/internal/middleware"
	"github.com/mmynk/splitscribe/internal/models"
	"github.com/mmynk/splitscribe/internal/roster"
	"github.com/mmynk/splitscribe/internal/storage"
	"github.com/mmynk/splitscribe/pkg/api"
	"github.com/mmynk/splitscribe/pkg/api/apiconnect"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store is the part of storage.Store the ExpenseService reads and writes.
type Store interface {
	storage.MemberStore
	storage.ExpenseReader
}

var _ apiconnect.ExpenseServiceHandler = (*ExpenseService)(nil)

// ExpenseService implements the Connect ExpenseService.
type ExpenseService struct {
	store       Store
	provisioner *roster.Provisioner
	logger      *slog.Logger
}

// NewExpenseService creates a new ExpenseService with the given storage backend.
func NewExpenseService(store Store, provisioner *roster.Provisioner, logger *slog.Logger) *ExpenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpenseService{store: store, provisioner: provisioner, logger: logger}
}

// GetExpense retrieves an expense with its splits.
// An authenticated caller only sees expenses they take part in.
func (s *ExpenseService) GetExpense(ctx context.Context, req *connect.Request[api.GetExpenseRequest]) (*connect.Response[api.GetExpenseResponse], error) {
	if req.Msg.ExpenseID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("expense_id is required"))
	}

	record, err := s.store.GetExpense(ctx, req.Msg.ExpenseID)
	if err != nil {
		return nil, s.storeError("GetExpense", err)
	}

	if caller := middleware.GetUserID(ctx); caller != "" && !participates(record, caller) {
		return nil, connect.NewError(connect.CodePermissionDenied, fmt.Errorf("expense %s is not shared with %s", record.Expense.ID, caller))
	}

	return connect.NewResponse(&api.GetExpenseResponse{Expense: toAPI(*record)}), nil
}

// ListExpenses returns a member's expenses, newest first.
func (s *ExpenseService) ListExpenses(ctx context.Context, req *connect.Request[api.ListExpensesRequest]) (*connect.Response[api.ListExpensesResponse], error) {
	memberID, err := resolveUser(ctx, req.Msg.MemberID)
	if err != nil {
		return nil, err
	}

	limit := req.Msg.Limit
	switch {
	case limit < 0:
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("limit must not be negative"))
	case limit == 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	records, err := s.store.ListExpensesByMember(ctx, memberID, limit)
	if err != nil {
		return nil, s.storeError("ListExpenses", err)
	}

	expenses := make([]api.Expense, 0, len(records))
	for _, r := range records {
		expenses = append(expenses, toAPI(r))
	}

	s.logger.Debug("ListExpenses successful", "member_id", memberID, "count", len(expenses))
	return connect.NewResponse(&api.ListExpensesResponse{Expenses: expenses}), nil
}

// GetBalances computes net balances and simplified debts across a member's expenses.
func (s *ExpenseService) GetBalances(ctx context.Context, req *connect.Request[api.GetBalancesRequest]) (*connect.Response[api.GetBalancesResponse], error) {
	memberID, err := resolveUser(ctx, req.Msg.MemberID)
	if err != nil {
		return nil, err
	}

	records, err := s.store.ListExpensesByMember(ctx, memberID, 0)
	if err != nil {
		return nil, s.storeError("GetBalances", err)
	}

	balances, debts := calculator.CalculateBalances(records)
	if debts == nil {
		debts = []calculator.DebtEdge{}
	}

	s.logger.Debug("GetBalances successful",
		"member_id", memberID,
		"expenses", len(records),
		"debts", len(debts),
	)
	return connect.NewResponse(&api.GetBalancesResponse{Balances: balances, Debts: debts}), nil
}

// AddFriend adds a member to the caller's friend list, creating the member if needed.
func (s *ExpenseService) AddFriend(ctx context.Context, req *connect.Request[api.AddFriendRequest]) (*connect.Response[api.AddFriendResponse], error) {
	userID, err := resolveUser(ctx, req.Msg.UserID)
	if err != nil {
		return nil, err
	}
	if req.Msg.FriendID == "" || req.Msg.FriendName == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("friend_id and friend_name are required"))
	}
	if req.Msg.FriendID == userID {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("cannot add yourself as a friend"))
	}

	if _, err := s.provisioner.Ensure(ctx, userID); err != nil {
		return nil, s.storeError("AddFriend", err)
	}
	friend, _, err := s.store.EnsureMember(ctx, req.Msg.FriendID, req.Msg.FriendName)
	if err != nil {
		return nil, s.storeError("AddFriend", err)
	}
	if err := s.store.AddFriend(ctx, userID, friend.ID); err != nil {
		return nil, s.storeError("AddFriend", err)
	}

	s.logger.Info("Friend added", "user_id", userID, "friend_id", friend.ID)
	return connect.NewResponse(&api.AddFriendResponse{Friend: *friend}), nil
}

// ListFriends returns the caller's friends ordered by name.
func (s *ExpenseService) ListFriends(ctx context.Context, req *connect.Request[api.ListFriendsRequest]) (*connect.Response[api.ListFriendsResponse], error) {
	userID, err := resolveUser(ctx, req.Msg.UserID)
	if err != nil {
		return nil, err
	}

	friends, err := s.store.ListFriends(ctx, userID)
	if err != nil {
		return nil, s.storeError("ListFriends", err)
	}
	if friends == nil {
		friends = []models.Person{}
	}

	return connect.NewResponse(&api.ListFriendsResponse{Friends: friends}), nil
}

func (s *ExpenseService) storeError(procedure string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return connect.NewError(connect.CodeNotFound, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	s.logger.Error(procedure+" failed", "error", err)
	return connect.NewError(connect.CodeInternal, fmt.Errorf("failed to %s", procedure))
}

func resolveUser(ctx context.Context, claimed string) (string, error) {
	userID, err := middleware.ResolveUser(ctx, claimed)
	switch {
	case errors.Is(err, middleware.ErrUserRequired):
		return "", connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, middleware.ErrUserMismatch):
		return "", connect.NewError(connect.CodePermissionDenied, err)
	}
	return userID, err
}

func participates(r *storage.ExpenseRecord, memberID string) bool {
	if r.Expense.PayerID == memberID || r.Expense.UploadedBy == memberID {
		return true
	}
	for _, s := range r.Splits {
		if s.MemberID == memberID {
			return true
		}
	}
	return false
}

func toAPI(r storage.ExpenseRecord) api.Expense {
	splits := r.Splits
	if splits == nil {
		splits = []models.Split{}
	}
	return api.Expense{Expense: r.Expense, Splits: splits}
}
