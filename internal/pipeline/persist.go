package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mmynk/splitscribe/internal/allocation"
	"github.com/mmynk/splitscribe/internal/models"
	"github.com/mmynk/splitscribe/internal/storage"
)

// ExpenseRepository is what the Coordinator writes through.
// If it also implements storage.Transactor, both writes share one transaction.
type ExpenseRepository interface {
	storage.ExpenseWriter
	FindExpenseByIdempotencyKey(ctx context.Context, key string) (*storage.ExpenseRecord, error)
}

// Receipt describes the persisted expense.
type Receipt struct {
	Expense models.Expense
	Splits  []models.Split

	// Replayed is set when the expense already existed under the same idempotency key.
	Replayed bool
}

// Coordinator writes one expense and its splits as a unit.
type Coordinator struct {
	repo   ExpenseRepository
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(repo ExpenseRepository, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{repo: repo, logger: logger}
}

// Persist writes n. Either both the expense and all its splits become visible or,
// when a PersistenceError is returned with Compensated set, neither does.
func (c *Coordinator) Persist(ctx context.Context, n allocation.Normalized) (*Receipt, error) {
	key := n.Expense.IdempotencyKey
	if key != "" {
		receipt, err := c.replay(ctx, key)
		if err != nil || receipt != nil {
			return receipt, err
		}
	}

	expense := n.Expense
	splits := append([]models.Split(nil), n.Splits...)

	var err error
	if tx, ok := c.repo.(storage.Transactor); ok {
		err = tx.WithTx(ctx, func(w storage.ExpenseWriter) error {
			return write(ctx, w, &expense, splits)
		})
		var pe *PersistenceError
		switch {
		case errors.As(err, &pe):
			pe.Compensated = true
		case err != nil:
			err = &PersistenceError{Op: OpCommit, ExpenseID: expense.ID, Compensated: true, Err: err}
		}
	} else {
		err = write(ctx, c.repo, &expense, splits)
		var pe *PersistenceError
		if errors.As(err, &pe) && pe.Op == OpSplitInsert {
			c.compensate(ctx, pe)
		}
	}

	if err != nil {
		// A concurrent request with the same key may have won the insert.
		var pe *PersistenceError
		if key != "" && errors.As(err, &pe) && pe.Op == OpExpenseInsert {
			if receipt, lookupErr := c.replay(ctx, key); lookupErr == nil && receipt != nil {
				return receipt, nil
			}
		}
		return nil, err
	}

	c.logger.Info("Expense persisted",
		"expense_id", expense.ID,
		"amount_cents", expense.AmountCents,
		"split_count", len(splits),
	)
	return &Receipt{Expense: expense, Splits: splits}, nil
}

// replay returns the receipt for an expense already stored under key, or nil.
func (c *Coordinator) replay(ctx context.Context, key string) (*Receipt, error) {
	record, err := c.repo.FindExpenseByIdempotencyKey(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: OpIdempotencyLookup, Compensated: true, Err: err}
	}
	c.logger.Info("Expense already persisted", "expense_id", record.Expense.ID)
	return &Receipt{Expense: record.Expense, Splits: record.Splits, Replayed: true}, nil
}

func write(ctx context.Context, w storage.ExpenseWriter, expense *models.Expense, splits []models.Split) error {
	if err := w.InsertExpense(ctx, expense); err != nil {
		return &PersistenceError{Op: OpExpenseInsert, Compensated: true, Err: err}
	}
	if expense.ID == "" {
		return &PersistenceError{Op: OpExpenseInsert, Compensated: true, Err: storage.ErrNoRowReturned}
	}

	for i := range splits {
		splits[i].ExpenseID = expense.ID
	}
	if err := w.InsertSplits(ctx, splits); err != nil {
		return &PersistenceError{Op: OpSplitInsert, ExpenseID: expense.ID, Err: err}
	}
	return nil
}

// compensate deletes the expense left behind by a failed split insert.
func (c *Coordinator) compensate(ctx context.Context, pe *PersistenceError) {
	// The request context may be what failed the split insert.
	ctx = context.WithoutCancel(ctx)
	if err := c.repo.DeleteExpense(ctx, pe.ExpenseID); err != nil {
		c.logger.Error("Failed to delete orphaned expense",
			"expense_id", pe.ExpenseID,
			"error", err,
		)
		return
	}
	pe.Compensated = true
	c.logger.Warn("Deleted orphaned expense", "expense_id", pe.ExpenseID)
}
