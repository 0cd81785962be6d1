// Package policy evaluates payment request terms against a rego policy.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/rego"
	"github.com/shopspring/decimal"
)

const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Input is what the policy sees for one payment request.
type Input struct {
	Amount            decimal.Decimal
	Currency          string
	RecipientID       string
	Methods           []string
	MaxAmount         decimal.Decimal
	AllowedCurrencies []string
}

// Decision is the policy outcome. Reasons are sorted.
type Decision struct {
	Decision string
	Reasons  []string
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Decision != DecisionBlock
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("decision = data.payment_policy.decision; reasons = data.payment_policy.reasons"),
		rego.Module("payment_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine reads a policy from path, or uses DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks the payment policy.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(in.toMap()))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// The policy defines a default, so no result means the module has no decision rule.
	if len(results) == 0 {
		return Decision{Decision: DecisionAllow}, nil
	}

	out := Decision{Decision: DecisionAllow}
	if s, ok := results[0].Bindings["decision"].(string); ok {
		out.Decision = s
	}
	if rs, ok := results[0].Bindings["reasons"].([]interface{}); ok {
		for _, r := range rs {
			if s, ok := r.(string); ok {
				out.Reasons = append(out.Reasons, s)
			}
		}
		sort.Strings(out.Reasons)
	}
	return out, nil
}

func (in Input) toMap() map[string]interface{} {
	methods := make([]interface{}, 0, len(in.Methods))
	for _, m := range in.Methods {
		methods = append(methods, m)
	}
	allowed := make([]interface{}, 0, len(in.AllowedCurrencies))
	for _, c := range in.AllowedCurrencies {
		allowed = append(allowed, c)
	}
	return map[string]interface{}{
		"amount":             json.Number(in.Amount.String()),
		"currency":           in.Currency,
		"recipient_id":       in.RecipientID,
		"methods":            methods,
		"max_amount":         json.Number(in.MaxAmount.String()),
		"allowed_currencies": allowed,
	}
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package payment_policy

default decision = "allow"

decision = "block" {
	count(reasons) > 0
}

# Per-request ceiling, disabled when max_amount is 0.
reasons[msg] {
	input.max_amount > 0
	input.amount > input.max_amount
	msg := sprintf("amount %v exceeds maximum %v", [input.amount, input.max_amount])
}

reasons[msg] {
	count(input.allowed_currencies) > 0
	not currency_allowed
	msg := sprintf("currency %s is not allowed", [input.currency])
}

currency_allowed {
	input.allowed_currencies[_] == input.currency
}
`
