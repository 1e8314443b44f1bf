package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitscribe/internal/models"
	"github.com/mmynk/splitscribe/internal/storage"
)

const expenseColumns = `id, amount_cents, currency, payer_id, uploaded_by, description, bill, expense_time, idempotency_key, created_at`

// InsertExpense persists a new expense and reads back the created row.
func (s *SQLiteStore) InsertExpense(ctx context.Context, expense *models.Expense) error {
	id := expense.ID
	if id == "" {
		id = uuid.New().String()
	}
	currency := expense.Currency
	if currency == "" {
		currency = models.CurrencyUSD
	}

	bill, err := json.Marshal(expense.Bill)
	if err != nil {
		return fmt.Errorf("failed to encode bill: %w", err)
	}

	var key any
	if expense.IdempotencyKey != "" {
		key = expense.IdempotencyKey
	}

	var createdAt int64
	err = s.q.QueryRowContext(ctx,
		`INSERT INTO expenses (`+expenseColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id, created_at`,
		id, expense.AmountCents, currency, expense.PayerID, expense.UploadedBy,
		expense.Description, string(bill), expense.ExpenseTime.Unix(), key, time.Now().Unix(),
	).Scan(&id, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNoRowReturned
	}
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}

	expense.ID = id
	expense.Currency = currency
	expense.CreatedAt = time.Unix(createdAt, 0).UTC()
	return nil
}

// InsertSplits persists all splits in one statement.
func (s *SQLiteStore) InsertSplits(ctx context.Context, splits []models.Split) error {
	if len(splits) == 0 {
		return nil
	}

	args := make([]any, 0, len(splits)*4)
	for i := range splits {
		if splits[i].ID == "" {
			splits[i].ID = uuid.New().String()
		}
		args = append(args, splits[i].ID, splits[i].ExpenseID, splits[i].MemberID, splits[i].ShareCents)
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO splits (id, expense_id, member_id, share_cents) VALUES `+valuesRows(len(splits), 4),
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert splits: %w", err)
	}
	return nil
}

// DeleteExpense removes an expense; its splits go with it.
func (s *SQLiteStore) DeleteExpense(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("expense %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// GetExpense retrieves an expense with its splits.
func (s *SQLiteStore) GetExpense(ctx context.Context, id string) (*storage.ExpenseRecord, error) {
	return s.findExpense(ctx, "id", id)
}

// FindExpenseByIdempotencyKey retrieves the expense stored under key.
func (s *SQLiteStore) FindExpenseByIdempotencyKey(ctx context.Context, key string) (*storage.ExpenseRecord, error) {
	return s.findExpense(ctx, "idempotency_key", key)
}

func (s *SQLiteStore) findExpense(ctx context.Context, column, value string) (*storage.ExpenseRecord, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE `+column+` = ?`,
		value,
	)
	expense, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("expense with %s %s: %w", column, value, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	splits, err := s.splitsFor(ctx, []string{expense.ID})
	if err != nil {
		return nil, err
	}

	return &storage.ExpenseRecord{Expense: *expense, Splits: splits[expense.ID]}, nil
}

// ListExpensesByMember returns the expenses memberID takes part in, newest first.
func (s *SQLiteStore) ListExpensesByMember(ctx context.Context, memberID string, limit int) ([]storage.ExpenseRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT `+expenseColumns+`
		 FROM expenses
		 WHERE payer_id = ? OR uploaded_by = ?
		    OR id IN (SELECT expense_id FROM splits WHERE member_id = ?)
		 ORDER BY expense_time DESC, created_at DESC, id
		 LIMIT ?`,
		memberID, memberID, memberID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	records := []storage.ExpenseRecord{}
	var ids []string
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		records = append(records, storage.ExpenseRecord{Expense: *expense})
		ids = append(ids, expense.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expenses: %w", err)
	}
	rows.Close()

	splits, err := s.splitsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Splits = splits[records[i].Expense.ID]
	}

	return records, nil
}

// splitsFor returns the splits of each expense, keyed by expense ID, in insertion order.
func (s *SQLiteStore) splitsFor(ctx context.Context, expenseIDs []string) (map[string][]models.Split, error) {
	result := make(map[string][]models.Split, len(expenseIDs))
	if len(expenseIDs) == 0 {
		return result, nil
	}

	args := make([]any, len(expenseIDs))
	for i, id := range expenseIDs {
		args[i] = id
		result[id] = []models.Split{}
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT id, expense_id, member_id, share_cents
		 FROM splits
		 WHERE expense_id IN (?`+repeatPlaceholder(len(expenseIDs)-1)+`)
		 ORDER BY rowid`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get splits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var split models.Split
		if err := rows.Scan(&split.ID, &split.ExpenseID, &split.MemberID, &split.ShareCents); err != nil {
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}
		result[split.ExpenseID] = append(result[split.ExpenseID], split)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating splits: %w", err)
	}

	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(row scanner) (*models.Expense, error) {
	var (
		expense     models.Expense
		bill        string
		expenseTime int64
		key         sql.NullString
		createdAt   int64
	)
	if err := row.Scan(&expense.ID, &expense.AmountCents, &expense.Currency, &expense.PayerID,
		&expense.UploadedBy, &expense.Description, &bill, &expenseTime, &key, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(bill), &expense.Bill); err != nil {
		return nil, fmt.Errorf("failed to decode bill of expense %s: %w", expense.ID, err)
	}
	expense.ExpenseTime = time.Unix(expenseTime, 0).UTC()
	expense.IdempotencyKey = key.String
	expense.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &expense, nil
}
