//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mmynk/splitscribe/internal/models"
	"github.com/mmynk/splitscribe/internal/storage"
)

// setupTestStore starts a PostgreSQL testcontainer and opens a migrated store.
func setupTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	url := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())
	store, err := New(ctx, url)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	// Migrations are idempotent.
	if err := Migrate(url, "up"); err != nil {
		t.Fatalf("Second migrate up failed: %v", err)
	}

	return store
}

func TestPostgresStore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, p := range []models.Person{{ID: "u1", Name: "Me"}, {ID: "u2", Name: "Alice"}} {
		if _, _, err := store.EnsureMember(ctx, p.ID, p.Name); err != nil {
			t.Fatalf("EnsureMember failed: %v", err)
		}
	}

	t.Run("EnsureMember is idempotent", func(t *testing.T) {
		member, created, err := store.EnsureMember(ctx, "u1", "Renamed")
		if err != nil {
			t.Fatalf("EnsureMember failed: %v", err)
		}
		if created || member.Name != "Me" {
			t.Errorf("Expected existing member to be kept, got created=%v name=%s", created, member.Name)
		}
	})

	t.Run("Friends", func(t *testing.T) {
		if err := store.AddFriend(ctx, "u1", "u2"); err != nil {
			t.Fatalf("AddFriend failed: %v", err)
		}
		if err := store.AddFriend(ctx, "u1", "u2"); err != nil {
			t.Fatalf("Second AddFriend failed: %v", err)
		}
		friends, err := store.ListFriends(ctx, "u1")
		if err != nil {
			t.Fatalf("ListFriends failed: %v", err)
		}
		if len(friends) != 1 || friends[0].ID != "u2" {
			t.Errorf("Unexpected friends: %v", friends)
		}
	})

	t.Run("Transaction commits expense and splits", func(t *testing.T) {
		expense := &models.Expense{
			AmountCents: 2500,
			PayerID:     "u1",
			UploadedBy:  "u1",
			Description: "me and Alice",
			ExpenseTime: time.Date(2026, 10, 1, 19, 30, 0, 0, time.UTC),
			Bill: models.Bill{
				LineItems:     []models.LineItem{{Description: "Pizza", PriceCents: 2000}},
				SubtotalCents: 2000, TaxCents: 200, TipCents: 300,
			},
			IdempotencyKey: "pg-key",
		}
		err := store.WithTx(ctx, func(w storage.ExpenseWriter) error {
			if err := w.InsertExpense(ctx, expense); err != nil {
				return err
			}
			return w.InsertSplits(ctx, []models.Split{
				{ExpenseID: expense.ID, MemberID: "u2", ShareCents: 1250},
				{ExpenseID: expense.ID, MemberID: "u1", ShareCents: 1250},
			})
		})
		if err != nil {
			t.Fatalf("WithTx failed: %v", err)
		}

		record, err := store.FindExpenseByIdempotencyKey(ctx, "pg-key")
		if err != nil {
			t.Fatalf("FindExpenseByIdempotencyKey failed: %v", err)
		}
		if record.Expense.ID != expense.ID || record.Expense.Currency != models.CurrencyUSD {
			t.Errorf("Unexpected expense: %+v", record.Expense)
		}
		if len(record.Splits) != 2 || record.Splits[0].MemberID != "u2" {
			t.Errorf("Unexpected splits: %v", record.Splits)
		}

		listed, err := store.ListExpensesByMember(ctx, "u2", 10)
		if err != nil {
			t.Fatalf("ListExpensesByMember failed: %v", err)
		}
		if len(listed) != 1 {
			t.Errorf("Expected 1 expense, got %d", len(listed))
		}
	})

	t.Run("Transaction rolls back on bad split", func(t *testing.T) {
		expense := &models.Expense{
			AmountCents: 100, PayerID: "u1", UploadedBy: "u1",
			ExpenseTime: time.Now(), IdempotencyKey: "pg-rollback",
		}
		err := store.WithTx(ctx, func(w storage.ExpenseWriter) error {
			if err := w.InsertExpense(ctx, expense); err != nil {
				return err
			}
			return w.InsertSplits(ctx, []models.Split{{ExpenseID: expense.ID, MemberID: "u1", ShareCents: -1}})
		})
		if err == nil {
			t.Fatal("Expected WithTx to fail")
		}
		if _, err := store.FindExpenseByIdempotencyKey(ctx, "pg-rollback"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected rollback, got %v", err)
		}
	})

	t.Run("Malformed id is not found", func(t *testing.T) {
		if _, err := store.GetExpense(ctx, "not-a-uuid"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if err := store.DeleteExpense(ctx, "not-a-uuid"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound from delete, got %v", err)
		}
	})
}
