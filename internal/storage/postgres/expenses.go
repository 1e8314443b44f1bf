package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mmynk/splitscribe/internal/models"
	"github.com/mmynk/splitscribe/internal/storage"
)

const expenseColumns = `id, amount_cents, currency, payer_id, uploaded_by, description, bill, expense_time, idempotency_key, created_at`

// InsertExpense persists a new expense and reads back the created row.
func (s *PostgresStore) InsertExpense(ctx context.Context, expense *models.Expense) error {
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

	key := sql.NullString{String: expense.IdempotencyKey, Valid: expense.IdempotencyKey != ""}

	var createdAt time.Time
	err = s.q.QueryRowContext(ctx, `
		INSERT INTO expenses (id, amount_cents, currency, payer_id, uploaded_by, description, bill, expense_time, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, id, expense.AmountCents, currency, expense.PayerID, expense.UploadedBy,
		expense.Description, bill, expense.ExpenseTime.UTC(), key,
	).Scan(&id, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNoRowReturned
	}
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}

	expense.ID = id
	expense.Currency = currency
	expense.CreatedAt = createdAt.UTC()
	return nil
}

// InsertSplits persists all splits in one statement.
func (s *PostgresStore) InsertSplits(ctx context.Context, splits []models.Split) error {
	if len(splits) == 0 {
		return nil
	}

	const cols = 5
	rows := make([]string, len(splits))
	args := make([]any, 0, len(splits)*cols)
	for i := range splits {
		if splits[i].ID == "" {
			splits[i].ID = uuid.New().String()
		}
		rows[i] = "(" + placeholders(i*cols+1, cols) + ")"
		args = append(args, splits[i].ID, splits[i].ExpenseID, splits[i].MemberID, splits[i].ShareCents, i)
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO splits (id, expense_id, member_id, share_cents, position) VALUES `+strings.Join(rows, ", "),
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert splits: %w", err)
	}
	return nil
}

// DeleteExpense removes an expense; its splits go with it.
func (s *PostgresStore) DeleteExpense(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("expense %s: %w", id, storage.ErrNotFound)
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1`, id)
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
func (s *PostgresStore) GetExpense(ctx context.Context, id string) (*storage.ExpenseRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("expense %s: %w", id, storage.ErrNotFound)
	}
	return s.findExpense(ctx, "id", id)
}

// FindExpenseByIdempotencyKey retrieves the expense stored under key.
func (s *PostgresStore) FindExpenseByIdempotencyKey(ctx context.Context, key string) (*storage.ExpenseRecord, error) {
	return s.findExpense(ctx, "idempotency_key", key)
}

func (s *PostgresStore) findExpense(ctx context.Context, column, value string) (*storage.ExpenseRecord, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE `+column+` = $1`,
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
func (s *PostgresStore) ListExpensesByMember(ctx context.Context, memberID string, limit int) ([]storage.ExpenseRecord, error) {
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+expenseColumns+`
		FROM expenses
		WHERE payer_id = $1 OR uploaded_by = $1
		   OR id IN (SELECT expense_id FROM splits WHERE member_id = $1)
		ORDER BY expense_time DESC, created_at DESC, id
		LIMIT $2
	`, memberID, lim)
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

	splits, err := s.splitsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Splits = splits[records[i].Expense.ID]
	}
	return records, nil
}

func (s *PostgresStore) splitsFor(ctx context.Context, expenseIDs []string) (map[string][]models.Split, error) {
	result := make(map[string][]models.Split, len(expenseIDs))
	if len(expenseIDs) == 0 {
		return result, nil
	}
	for _, id := range expenseIDs {
		result[id] = []models.Split{}
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, expense_id, member_id, share_cents
		FROM splits
		WHERE expense_id = ANY($1::uuid[])
		ORDER BY expense_id, position
	`, pq.Array(expenseIDs))
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
		expense models.Expense
		bill    []byte
		key     sql.NullString
	)
	if err := row.Scan(&expense.ID, &expense.AmountCents, &expense.Currency, &expense.PayerID,
		&expense.UploadedBy, &expense.Description, &bill, &expense.ExpenseTime, &key, &expense.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(bill, &expense.Bill); err != nil {
		return nil, fmt.Errorf("failed to decode bill of expense %s: %w", expense.ID, err)
	}
	expense.ExpenseTime = expense.ExpenseTime.UTC()
	expense.IdempotencyKey = key.String
	expense.CreatedAt = expense.CreatedAt.UTC()
	return &expense, nil
}
