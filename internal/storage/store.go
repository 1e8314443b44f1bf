// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/splitscribe/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrNoRowReturned is returned when an insert reports success but yields no row.
var ErrNoRowReturned = errors.New("insert returned no row")

// ExpenseRecord is an expense together with its persisted splits.
type ExpenseRecord struct {
	Expense models.Expense
	Splits  []models.Split
}

// MemberStore manages members and their friend lists.
type MemberStore interface {
	// GetMember retrieves a member by ID. Returns ErrNotFound if absent.
	GetMember(ctx context.Context, id string) (*models.Person, error)

	// EnsureMember inserts the member if no row with that ID exists and returns
	// the stored row. created reports whether this call inserted it.
	EnsureMember(ctx context.Context, id, name string) (member *models.Person, created bool, err error)

	// ListFriends returns the friends of userID ordered by name, then ID.
	ListFriends(ctx context.Context, userID string) ([]models.Person, error)

	// AddFriend records friendID as a friend of userID. Adding twice is a no-op.
	AddFriend(ctx context.Context, userID, friendID string) error
}

// ExpenseWriter writes the records produced by one pipeline run.
type ExpenseWriter interface {
	// InsertExpense persists the expense and fills in ID and CreatedAt from the created row.
	InsertExpense(ctx context.Context, expense *models.Expense) error

	// InsertSplits persists all splits in one batch. Each split needs its ExpenseID set;
	// IDs are assigned by the store.
	InsertSplits(ctx context.Context, splits []models.Split) error

	// DeleteExpense removes an expense and its splits.
	DeleteExpense(ctx context.Context, id string) error
}

// ExpenseReader reads persisted expenses.
type ExpenseReader interface {
	// GetExpense retrieves an expense with its splits. Returns ErrNotFound if absent.
	GetExpense(ctx context.Context, id string) (*ExpenseRecord, error)

	// FindExpenseByIdempotencyKey returns the expense stored under key. Returns ErrNotFound if absent.
	FindExpenseByIdempotencyKey(ctx context.Context, key string) (*ExpenseRecord, error)

	// ListExpensesByMember returns expenses the member paid, uploaded or has a split in,
	// newest first. limit <= 0 means no limit.
	ListExpensesByMember(ctx context.Context, memberID string, limit int) ([]ExpenseRecord, error)
}

// Transactor runs fn inside a single database transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ExpenseWriter) error) error
}

// Store defines the interface for all storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the service layer.
type Store interface {
	MemberStore
	ExpenseWriter
	ExpenseReader
	Transactor

	// Close releases any resources held by the store.
	Close() error
}
