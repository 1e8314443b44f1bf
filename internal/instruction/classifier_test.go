package instruction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		instruction string
		want        Class
	}{
		{"explicit names", "split evenly between Alice and Bob", Specific},
		{"treat", "I'm treating, it's on me", Specific},
		{"payer only", "put it all on my card, I'll cover it", Specific},
		{"item assignment", "Alice had the pizza, Bob the salad, share the fries", Specific},
		{"collective us", "split it between us", Vague},
		{"collective we", "we split it evenly", Vague},
		{"contraction", "we're splitting this one", Vague},
		{"everyone", "Everyone pays their own", Vague},
		{"everybody uppercase", "EVERYBODY SPLITS", Vague},
		{"name mixed with pronoun", "send it to me and split the rest with us", Vague},
		{"name mixed with we", "Alice and we share the wine", Vague},
		{"our", "put it on our tab", Vague},
		{"empty", "", Vague},
		{"whitespace", "  \t ", Vague},
		{"parenthetical resolves", "split it between us (Alice and Bob)", Specific},
		{"colon resolves", "split between us: Alice, Bob", Specific},
		{"empty parenthetical", "split it between us ()", Vague},
		{"parenthetical of pronouns", "split it between us (all of us)", Vague},
		{"unclosed parenthetical", "split it between us (Alice", Vague},
		{"resolved then unresolved", "split between us (Alice, Bob) and then we tip", Vague},
		{"substring is not a word", "Weston and Justus split it", Specific},
		{"us abbreviation", "paid in U.S. dollars by Alice", Specific},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.instruction), "Classify(%q)", tt.instruction)
		})
	}
}

func TestAnalyze_ReportsUnresolvedWords(t *testing.T) {
	res := Analyze("send it to me and split the rest with us, everyone pays")

	assert.Equal(t, Vague, res.Class)
	assert.Equal(t, []string{"us", "everyone"}, res.Unresolved)
}

func TestAnalyze_SpecificHasNoUnresolvedWords(t *testing.T) {
	res := Analyze("split evenly between Alice and Bob")

	assert.Equal(t, Specific, res.Class)
	assert.Empty(t, res.Unresolved)
}
