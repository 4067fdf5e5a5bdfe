package permission

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Action - решение политики для вызова инструмента.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionRequireApproval Action = "require_approval"
	ActionBlock           Action = "block"
)

// Verdict - результат оценки политики.
type Verdict struct {
	Action Action
	Reason string
}

// PolicyInput - данные о вызове, доступные политике.
type PolicyInput struct {
	ToolName             string         `json:"tool_name"`
	Args                 map[string]any `json:"args"`
	Priority             string         `json:"priority"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	SessionID            string         `json:"session_id"`
}

// Policy решает нужно ли подтверждение для вызова.
type Policy interface {
	Evaluate(ctx context.Context, input PolicyInput) (Verdict, error)
}

// StaticPolicy - политика по флагу инструмента и спискам из конфига.
type StaticPolicy struct {
	Confirm map[string]bool
	Block   map[string]bool
}

// NewStaticPolicy создаёт StaticPolicy из списка инструментов, требующих подтверждения.
func NewStaticPolicy(confirm []string) *StaticPolicy {
	p := &StaticPolicy{Confirm: make(map[string]bool), Block: make(map[string]bool)}
	for _, name := range confirm {
		p.Confirm[name] = true
	}
	return p
}

// Evaluate implements Policy.
func (p *StaticPolicy) Evaluate(_ context.Context, input PolicyInput) (Verdict, error) {
	if p.Block[input.ToolName] {
		return Verdict{Action: ActionBlock, Reason: "tool is blocked by configuration"}, nil
	}
	if input.RequiresConfirmation || p.Confirm[input.ToolName] {
		return Verdict{Action: ActionRequireApproval}, nil
	}
	return Verdict{Action: ActionAllow}, nil
}

// RegoPolicy - политика на OPA rego.
//
// Модуль должен определять data.tool_policy.decision со значением
// "allow", "require_approval" или "block", и опционально
// data.tool_policy.reason.
type RegoPolicy struct {
	query rego.PreparedEvalQuery
}

// NewRegoPolicy компилирует модуль политики.
func NewRegoPolicy(ctx context.Context, module string) (*RegoPolicy, error) {
	r := rego.New(
		rego.Query("decision = data.tool_policy.decision; reason = object.get(data.tool_policy, \"reason\", \"\")"),
		rego.Module("tool_policy.rego", module),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &RegoPolicy{query: query}, nil
}

// LoadRegoPolicy читает модуль политики из файла.
func LoadRegoPolicy(ctx context.Context, path string) (*RegoPolicy, error) {
	module, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return NewRegoPolicy(ctx, string(module))
}

// Evaluate implements Policy.
func (p *RegoPolicy) Evaluate(ctx context.Context, input PolicyInput) (Verdict, error) {
	results, err := p.query.Eval(ctx, rego.EvalInput(map[string]any{
		"tool_name":             input.ToolName,
		"args":                  input.Args,
		"priority":              input.Priority,
		"requires_confirmation": input.RequiresConfirmation,
		"session_id":            input.SessionID,
	}))
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// Политика без решения: подтверждение по флагу инструмента.
	if len(results) == 0 {
		if input.RequiresConfirmation {
			return Verdict{Action: ActionRequireApproval, Reason: "default"}, nil
		}
		return Verdict{Action: ActionAllow, Reason: "default"}, nil
	}

	decision, _ := results[0].Bindings["decision"].(string)
	reason, _ := results[0].Bindings["reason"].(string)

	switch Action(decision) {
	case ActionAllow, ActionRequireApproval, ActionBlock:
		return Verdict{Action: Action(decision), Reason: reason}, nil
	default:
		return Verdict{}, fmt.Errorf("policy returned unknown decision %q", decision)
	}
}

// DefaultRegoPolicy - политика по умолчанию.
//
// Деструктивные и изменяющие инструменты требуют подтверждения,
// удаление вне vault блокируется.
const DefaultRegoPolicy = `
package tool_policy

default decision = "allow"

decision = "require_approval" {
	input.requires_confirmation
	not blocked
}

decision = "block" {
	blocked
}

blocked {
	input.priority == "destructive"
	startswith(input.args.path, "..")
}

reason = "path escapes the vault" {
	blocked
}
`
