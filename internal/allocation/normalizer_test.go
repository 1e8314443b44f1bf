package allocation

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitscribe/internal/models"
)

func validated(t *testing.T, doc map[string]any, instructionText string) *Allocation {
	t.Helper()
	alloc, err := quietValidator().Validate(encode(t, doc), testRoster, instructionText)
	require.NoError(t, err)
	return alloc
}

func TestNormalize_OverwritesDescription(t *testing.T) {
	const text = "split evenly between Alice and Bob, thanks!"
	alloc := validated(t, evenSplit(), text)
	require.Equal(t, "Dinner at Luigi's", alloc.Expense.Description)

	n := Normalize(alloc, text)

	assert.Equal(t, text, n.Expense.Description)
	assert.Empty(t, n.Expense.ID)
}

func TestNormalize_DropsZeroShares(t *testing.T) {
	doc := evenSplit()
	splitAt(doc, 0)["share_cents"] = 2500
	splitAt(doc, 1)["share_cents"] = 0
	alloc := validated(t, doc, "I'm treating, it's on me")

	n := Normalize(alloc, "I'm treating, it's on me")

	require.Len(t, n.Splits, 1)
	assert.Equal(t, models.Split{MemberID: "u1", ShareCents: 2500}, n.Splits[0])
	assert.Equal(t, n.Expense.AmountCents, n.ShareSumCents())
}

func TestNormalize_KeepsModelOrder(t *testing.T) {
	alloc := &Allocation{
		Expense: models.Expense{AmountCents: 600},
		Splits: []models.Split{
			{MemberID: "c", ShareCents: 100},
			{MemberID: "a", ShareCents: 0},
			{MemberID: "b", ShareCents: 200},
			{MemberID: "d", ShareCents: 300},
		},
	}

	n := Normalize(alloc, "c, b and d pay")

	got := make([]string, 0, len(n.Splits))
	for _, s := range n.Splits {
		got = append(got, s.MemberID)
	}
	assert.Equal(t, []string{"c", "b", "d"}, got)
}

func TestNormalize_Idempotent(t *testing.T) {
	alloc := validated(t, evenSplit(), "split evenly between Alice and Bob")

	first := Normalize(alloc, "split evenly between Alice and Bob")
	second := Normalize(alloc, "split evenly between Alice and Bob")

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Normalize not idempotent (-first +second):\n%s", diff)
	}

	firstJSON, err := json.Marshal(first.Result())
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second.Result())
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))
}

func TestNormalize_DoesNotAliasInput(t *testing.T) {
	alloc := validated(t, evenSplit(), "split evenly between Alice and Bob")

	n := Normalize(alloc, "split evenly between Alice and Bob")
	n.Expense.Bill.LineItems[0].PriceCents = 1
	n.Splits[0].ShareCents = 1

	assert.Equal(t, int64(1200), alloc.Expense.Bill.LineItems[0].PriceCents)
	assert.Equal(t, int64(1250), alloc.Splits[0].ShareCents)
}

func TestNormalize_NoSplitsLeft(t *testing.T) {
	alloc := &Allocation{
		Expense: models.Expense{AmountCents: 0},
		Splits:  []models.Split{{MemberID: "u1", ShareCents: 0}},
	}

	n := Normalize(alloc, "Alice pays nothing")

	assert.NotNil(t, n.Splits)
	assert.Empty(t, n.Splits)
}

func TestNormalize_ShareSumNeverExceedsAmount(t *testing.T) {
	shares := [][]int{
		{1250, 1250},
		{2500, 0},
		{0, 0},
		{1000, 1499},
	}
	for _, pair := range shares {
		doc := evenSplit()
		splitAt(doc, 0)["share_cents"] = pair[0]
		splitAt(doc, 1)["share_cents"] = pair[1]
		alloc := validated(t, doc, "Alice and Bob")

		n := Normalize(alloc, "Alice and Bob")

		assert.LessOrEqual(t, n.ShareSumCents(), n.Expense.AmountCents)
		for _, s := range n.Splits {
			assert.Positive(t, s.ShareCents)
		}
	}
}

func TestPolicy(t *testing.T) {
	t.Run("custom rule", func(t *testing.T) {
		p, err := NewPolicy("share_sum == amount_cents && split_count > 0", 0)
		require.NoError(t, err)

		ok, err := p.Accepts(100, 100, 1)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = p.Accepts(100, 100, 0)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("default rule", func(t *testing.T) {
		p := MustPolicy("", 5)
		assert.Equal(t, DefaultReconcileRule, p.Rule())
		assert.Equal(t, int64(5), p.ToleranceCents())

		for _, tc := range []struct {
			sum, amount int64
			want        bool
		}{
			{100, 100, true},
			{95, 100, true},
			{105, 100, true},
			{94, 100, false},
			{106, 100, false},
		} {
			ok, err := p.Accepts(tc.sum, tc.amount, 2)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok, "sum=%d amount=%d", tc.sum, tc.amount)
		}
	})

	t.Run("non-bool rule", func(t *testing.T) {
		_, err := NewPolicy("share_sum - amount_cents", 0)
		assert.Error(t, err)
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := NewPolicy("share_sum <=", 0)
		assert.Error(t, err)
	})

	t.Run("unknown variable", func(t *testing.T) {
		_, err := NewPolicy("total > 0", 0)
		assert.Error(t, err)
	})

	t.Run("negative tolerance", func(t *testing.T) {
		_, err := NewPolicy("", -1)
		assert.Error(t, err)
	})

	t.Run("tolerance above limit", func(t *testing.T) {
		_, err := NewPolicy("", MaxCents+1)
		assert.Error(t, err)
	})
}
