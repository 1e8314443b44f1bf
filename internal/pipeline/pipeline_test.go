package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mmynk/splitscribe/internal/allocation"
	"github.com/mmynk/splitscribe/internal/instruction"
	"github.com/mmynk/splitscribe/internal/llm"
	"github.com/mmynk/splitscribe/internal/metrics"
	"github.com/mmynk/splitscribe/internal/models"
	"github.com/mmynk/splitscribe/internal/roster"
	"github.com/mmynk/splitscribe/internal/storage/sqlite"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, whose stats worker starts in init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

var billImage = []byte{0xff, 0xd8, 0xff, 0xe0, 'b', 'i', 'l', 'l'}

type fakeAllocator struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []llm.Request
}

func (f *fakeAllocator) Allocate(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	i := len(f.requests) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func (f *fakeAllocator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type harness struct {
	store     *sqlite.SQLiteStore
	allocator *fakeAllocator
	metrics   *metrics.Metrics
	service   *Service
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// newHarness sets up u1 "Alice" with friend u2 "Bob" on a fresh SQLite store.
func newHarness(t *testing.T, cfg Config, responses ...string) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, _, err = store.EnsureMember(ctx, "u1", "Alice")
	require.NoError(t, err)
	_, _, err = store.EnsureMember(ctx, "u2", "Bob")
	require.NoError(t, err)
	require.NoError(t, store.AddFriend(ctx, "u1", "u2"))

	logger := quietLogger()
	fake := &fakeAllocator{responses: responses}
	m := metrics.New()
	svc := NewService(cfg,
		store,
		fake,
		allocation.NewValidator(allocation.WithLogger(logger)),
		NewCoordinator(store, logger),
		WithProvisioner(roster.NewProvisioner(store, "", logger)),
		WithMetrics(m),
		WithLogger(logger),
	)
	return &harness{store: store, allocator: fake, metrics: m, service: svc}
}

func (h *harness) expenseCount(t *testing.T, memberIDs ...string) int {
	t.Helper()
	seen := map[string]bool{}
	for _, id := range memberIDs {
		records, err := h.store.ListExpensesByMember(context.Background(), id, 0)
		require.NoError(t, err)
		for _, r := range records {
			seen[r.Expense.ID] = true
		}
	}
	return len(seen)
}

func answer(t *testing.T, splits map[string]int64, order ...string) string {
	t.Helper()
	items := make([]any, 0, len(order))
	for _, id := range order {
		items = append(items, map[string]any{"member_id": id, "share_cents": splits[id]})
	}
	doc := map[string]any{
		"expense": map[string]any{
			"description":  "Dinner",
			"amount_cents": 2500,
			"currency":     "USD",
			"payer_id":     "u1",
			"uploaded_by":  "u1",
			"expense_time": "2026-10-01T19:30:00Z",
			"bill": map[string]any{
				"merchant_name": "Luigi's",
				"line_items": []any{
					map[string]any{"description": "Pizza", "price_cents": 1200},
					map[string]any{"description": "Salad", "price_cents": 800},
				},
				"subtotal_cents": 2000,
				"tax_cents":      200,
				"tip_cents":      300,
			},
		},
		"splits": items,
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(raw)
}

func TestProcess_EvenSplit(t *testing.T) {
	h := newHarness(t, DefaultConfig(), answer(t, map[string]int64{"u1": 1250, "u2": 1250}, "u1", "u2"))
	const text = "split evenly between Alice and Bob"

	out, err := h.service.Process(context.Background(), Input{UserID: "u1", Instruction: text, Image: billImage, MIMEType: "image/jpeg"})
	require.NoError(t, err)

	assert.False(t, out.Replayed)
	assert.Equal(t, 1, out.Attempts)
	require.NotEmpty(t, out.ExpenseID())
	assert.Equal(t, text, out.Result.Expense.Description)
	require.Len(t, out.Result.Splits, 2)

	record, err := h.store.GetExpense(context.Background(), out.ExpenseID())
	require.NoError(t, err)
	assert.Equal(t, text, record.Expense.Description)
	assert.Equal(t, int64(2500), record.Expense.AmountCents)
	var sum int64
	for _, s := range record.Splits {
		assert.InDelta(t, 1250, s.ShareCents, 1)
		sum += s.ShareCents
	}
	assert.Equal(t, int64(2500), sum)

	req := h.allocator.requests[0]
	assert.Equal(t, "u1", req.PayerID)
	assert.ElementsMatch(t, []models.Person{{ID: "u1", Name: "Alice"}, {ID: "u2", Name: "Bob"}}, req.Roster)
	assert.Empty(t, req.Feedback)
}

func TestProcess_Treat(t *testing.T) {
	h := newHarness(t, DefaultConfig(), answer(t, map[string]int64{"u1": 2500, "u2": 0}, "u1", "u2"))

	out, err := h.service.Process(context.Background(), Input{UserID: "u1", Instruction: "I'm treating, it's on me", Image: billImage})
	require.NoError(t, err)

	record, err := h.store.GetExpense(context.Background(), out.ExpenseID())
	require.NoError(t, err)
	require.Len(t, record.Splits, 1)
	assert.Equal(t, "u1", record.Splits[0].MemberID)
	assert.Equal(t, record.Expense.AmountCents, record.Splits[0].ShareCents)
}

func TestProcess_VagueInstruction(t *testing.T) {
	t.Run("preflight skips the model", func(t *testing.T) {
		h := newHarness(t, DefaultConfig(), answer(t, map[string]int64{"u1": 1250, "u2": 1250}, "u1", "u2"))

		_, err := h.service.Process(context.Background(), Input{UserID: "u1", Instruction: "split it between us", Image: billImage})

		var rejection *allocation.RejectionError
		require.ErrorAs(t, err, &rejection)
		assert.Equal(t, instruction.VagueMessage, rejection.Message)
		assert.True(t, IsRejection(err))
		assert.Zero(t, h.allocator.calls())
		assert.Zero(t, h.expenseCount(t, "u1", "u2"))
	})

	t.Run("model answer is not trusted", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.PreflightClassify = false
		h := newHarness(t, cfg, answer(t, map[string]int64{"u1": 1250, "u2": 1250}, "u1", "u2"))

		_, err := h.service.Process(context.Background(), Input{UserID: "u1", Instruction: "split it between us", Image: billImage})

		var rejection *allocation.RejectionError
		require.ErrorAs(t, err, &rejection)
		assert.Equal(t, instruction.VagueMessage, rejection.Message)
		assert.Equal(t, 1, h.allocator.calls())
		assert.Zero(t, h.expenseCount(t, "u1", "u2"))
	})
}

func TestProcess_UnreadableBill(t *testing.T) {
	h := newHarness(t, DefaultConfig(), `{"error_message": "`+instruction.UnreadableMessage+`"}`)

	_, err := h.service.Process(context.Background(), Input{UserID: "u1", Instruction: "Alice and Bob", Image: billImage})

	var rejection *allocation.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, instruction.UnreadableMessage, rejection.Message)
	assert.Equal(t, 1, h.allocator.calls())
}

func TestProcess_FabricatedIdentity(t *testing.T) {
	fabricated := answer(t, map[string]int64{"u1": 1250, "unknown-user": 1250}, "u1", "unknown-user")

	t.Run("rejected after retry", func(t *testing.T) {
		h := newHarness(t, DefaultConfig(), fabricated)

		_, err := h.service.Process(context.Background(), Input{UserID: "u1", Instruction: "Alice and Bob", Image: billImage})

		var fabErr *allocation.FabricatedIdentityError
		require.ErrorAs(t, err, &fabErr)
		assert.Equal(t, "unknown-user", fabErr.ID)
		assert.Equal(t, 2, h.allocator.calls())
		assert.Contains(t, h.allocator.requests[1].Feedback, "unknown-user")
		assert.Zero(t, h.expenseCount(t, "u1", "u2"))
	})

	t.Run("single attempt", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxAttempts = 1
		h := newHarness(t, cfg, fabricated)

		_, err := h.service.Process(context.Background(), Input{UserID: "u1", Instruction: "Alice and Bob", Image: billImage})

		var fabErr *allocation.FabricatedIdentityError
		require.ErrorAs(t, err, &fabErr)
		assert.Equal(t, 1, h.allocator.calls())
	})

	t.Run("recovers on re-prompt", func(t *testing.T) {
		h := newHarness(t, DefaultConfig(), fabricated, answer(t, map[string]int64{"u1": 1250, "u2": 1250}, "u1", "u2"))

		out, err := h.service.Process(context.Background(), Input{UserID: "u1", Instruction: "Alice and Bob", Image: billImage})
		require.NoError(t, err)
		assert.Equal(t, 2, out.Attempts)
		assert.Equal(t, 1, h.expenseCount(t, "u1"))
	})
}

func TestProcess_TransientUpstream(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.allocator.err = context.DeadlineExceeded

	_, err := h.service.Process(context.Background(), Input{UserID: "u1", Instruction: "Alice and Bob", Image: billImage})

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, h.allocator.calls())
}

func TestProcess_Replay(t *testing.T) {
	h := newHarness(t, DefaultConfig(), answer(t, map[string]int64{"u1": 1250, "u2": 1250}, "u1", "u2"))
	in := Input{UserID: "u1", Instruction: "split evenly between Alice and Bob", Image: billImage}

	first, err := h.service.Process(context.Background(), in)
	require.NoError(t, err)
	second, err := h.service.Process(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.ExpenseID(), second.ExpenseID())
	assert.Len(t, second.Result.Splits, 2)
	assert.Equal(t, 1, h.expenseCount(t, "u1"))

	// A different instruction on the same image is a new expense.
	in.Instruction = "Alice and Bob"
	third, err := h.service.Process(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, third.Replayed)
	assert.Equal(t, 2, h.expenseCount(t, "u1"))
}

func TestProcess_Provisioning(t *testing.T) {
	newcomer := func(t *testing.T) string {
		raw := answer(t, map[string]int64{"u9": 2500}, "u9")
		raw = string(bytes.ReplaceAll([]byte(raw), []byte(`"u1"`), []byte(`"u9"`)))
		return raw
	}

	t.Run("auto provision", func(t *testing.T) {
		h := newHarness(t, DefaultConfig(), newcomer(t))

		out, err := h.service.Process(context.Background(), Input{UserID: "u9", Instruction: "it's on me", Image: billImage})
		require.NoError(t, err)
		assert.Equal(t, "u9", out.Result.Expense.PayerID)

		member, err := h.store.GetMember(context.Background(), "u9")
		require.NoError(t, err)
		assert.Equal(t, models.DefaultMemberName, member.Name)
	})

	t.Run("unknown user without provisioning", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AutoProvision = false
		h := newHarness(t, cfg, newcomer(t))

		_, err := h.service.Process(context.Background(), Input{UserID: "u9", Instruction: "it's on me", Image: billImage})

		var unknown *UnknownUserError
		require.ErrorAs(t, err, &unknown)
		assert.Zero(t, h.allocator.calls())
	})
}

func TestProcess_InvalidInput(t *testing.T) {
	h := newHarness(t, DefaultConfig(), "{}")

	_, err := h.service.Process(context.Background(), Input{Instruction: "Alice", Image: billImage})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.service.Process(context.Background(), Input{UserID: "u1", Instruction: "Alice"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Zero(t, h.allocator.calls())
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, metrics.OutcomeSuccess, outcomeOf(&Output{}, nil))
	assert.Equal(t, metrics.OutcomeReplayed, outcomeOf(&Output{Replayed: true}, nil))
	assert.Equal(t, metrics.OutcomeRejected, outcomeOf(nil, &allocation.RejectionError{Message: "x"}))
	assert.Equal(t, metrics.OutcomeContractViolation, outcomeOf(nil, &allocation.MalformedResultError{Reason: "x"}))
	assert.Equal(t, metrics.OutcomeTransient, outcomeOf(nil, &TransientUpstreamError{Err: errors.New("x")}))
	assert.Equal(t, metrics.OutcomePersistenceError, outcomeOf(nil, &PersistenceError{Op: OpSplitInsert, Err: errors.New("x")}))
	assert.Equal(t, metrics.OutcomeError, outcomeOf(nil, errors.New("x")))
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("u1", "Alice and Bob", billImage)
	assert.Equal(t, a, IdempotencyKey("u1", "Alice and Bob", billImage))
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, IdempotencyKey("u2", "Alice and Bob", billImage))
	assert.NotEqual(t, a, IdempotencyKey("u1", "Alice and Bob ", billImage))
	assert.NotEqual(t, a, IdempotencyKey("u1", "Alice and Bob", billImage[1:]))
	assert.NotEqual(t, IdempotencyKey("ab", "c", nil), IdempotencyKey("a", "bc", nil))
}
