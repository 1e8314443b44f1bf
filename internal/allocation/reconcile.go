package allocation

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultReconcileRule accepts a share sum within tolerance of the expense amount.
const DefaultReconcileRule = "share_sum <= amount_cents + tolerance_cents && amount_cents - share_sum <= tolerance_cents"

// Variables available to a reconcile rule.
const (
	varShareSum   = "share_sum"
	varAmount     = "amount_cents"
	varTolerance  = "tolerance_cents"
	varSplitCount = "split_count"
)

// reconcileCostLimit bounds rule evaluation; the rules are tiny arithmetic checks.
const reconcileCostLimit = 10000

// Policy decides whether the shares of an allocation reconcile with its amount.
// The rule is a CEL expression over share_sum, amount_cents, tolerance_cents and
// split_count that must evaluate to a bool.
type Policy struct {
	rule           string
	toleranceCents int64
	program        cel.Program
}

// NewPolicy compiles rule. An empty rule selects DefaultReconcileRule.
func NewPolicy(rule string, toleranceCents int64) (*Policy, error) {
	if rule == "" {
		rule = DefaultReconcileRule
	}
	if toleranceCents < 0 {
		return nil, fmt.Errorf("tolerance must not be negative, got %d", toleranceCents)
	}
	if toleranceCents > MaxCents {
		return nil, fmt.Errorf("tolerance must not exceed %d, got %d", MaxCents, toleranceCents)
	}

	env, err := cel.NewEnv(
		cel.Variable(varShareSum, cel.IntType),
		cel.Variable(varAmount, cel.IntType),
		cel.Variable(varTolerance, cel.IntType),
		cel.Variable(varSplitCount, cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("reconcile rule must evaluate to bool, got %s", ast.OutputType())
	}

	prog, err := env.Program(ast, cel.CostLimit(reconcileCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return &Policy{rule: rule, toleranceCents: toleranceCents, program: prog}, nil
}

// MustPolicy is NewPolicy for rules known to compile, such as the default.
func MustPolicy(rule string, toleranceCents int64) *Policy {
	p, err := NewPolicy(rule, toleranceCents)
	if err != nil {
		panic(err)
	}
	return p
}

// Rule returns the CEL source of the policy.
func (p *Policy) Rule() string { return p.rule }

// ToleranceCents returns the configured tolerance.
func (p *Policy) ToleranceCents() int64 { return p.toleranceCents }

// Accepts evaluates the rule for the given share sum and amount.
func (p *Policy) Accepts(shareSum, amountCents int64, splitCount int) (bool, error) {
	out, _, err := p.program.Eval(map[string]any{
		varShareSum:   shareSum,
		varAmount:     amountCents,
		varTolerance:  p.toleranceCents,
		varSplitCount: int64(splitCount),
	})
	if err != nil {
		return false, fmt.Errorf("reconcile rule evaluation failed: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("reconcile rule returned %T, want bool", out.Value())
	}
	return ok, nil
}
