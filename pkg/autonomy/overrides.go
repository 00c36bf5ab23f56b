package autonomy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// OverrideRule is an operator-defined tightening rule expressed in CEL.
// Rules can only tighten a gate decision; a rule whose target decision is
// laxer than the current one is ignored.
type OverrideRule struct {
	Name string
	// Expr is a CEL expression over the OverrideFacts variables. It must
	// evaluate to bool.
	Expr string
	// Decision is applied when the expression is true.
	Decision Decision
}

// OverrideFacts is the variable bundle exposed to override expressions.
type OverrideFacts struct {
	ActionClass  string   `json:"action_class"`
	Tier         string   `json:"tier"`
	Model        string   `json:"model"`
	Attested     bool     `json:"attested"`
	IntegritySLO string   `json:"integrity_slo"`
	Calibration  string   `json:"calibration"`
	EventTypes   []string `json:"event_types"`
	Scope        string   `json:"scope"`
}

// OverrideSet holds compiled override rules.
type OverrideSet struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules []compiledRule
}

type compiledRule struct {
	rule    OverrideRule
	program cel.Program
}

// NewOverrideSet creates an empty set with the standard environment.
func NewOverrideSet() (*OverrideSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("action_class", cel.StringType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("model", cel.StringType),
		cel.Variable("attested", cel.BoolType),
		cel.Variable("integrity_slo", cel.StringType),
		cel.Variable("calibration", cel.StringType),
		cel.Variable("event_types", cel.ListType(cel.StringType)),
		cel.Variable("scope", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("autonomy: create CEL environment: %w", err)
	}
	return &OverrideSet{env: env}, nil
}

// Add compiles and installs a rule.
func (s *OverrideSet) Add(rule OverrideRule) error {
	ast, issues := s.env.Compile(rule.Expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("autonomy: compile override %q: %w", rule.Name, issues.Err())
	}
	program, err := s.env.Program(ast)
	if err != nil {
		return fmt.Errorf("autonomy: program override %q: %w", rule.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, compiledRule{rule: rule, program: program})
	return nil
}

// Apply evaluates all rules against facts and returns the tightened
// decision plus the names of the rules that fired. Evaluation errors are
// fail-closed: an erroring rule tightens to its target decision.
func (s *OverrideSet) Apply(current Decision, facts OverrideFacts) (Decision, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	input := map[string]any{
		"action_class":  facts.ActionClass,
		"tier":          facts.Tier,
		"model":         facts.Model,
		"attested":      facts.Attested,
		"integrity_slo": facts.IntegritySLO,
		"calibration":   facts.Calibration,
		"event_types":   facts.EventTypes,
		"scope":         facts.Scope,
	}

	decision := current
	var matched []string
	for _, cr := range s.rules {
		if severity(cr.rule.Decision) <= severity(decision) {
			continue
		}
		out, _, err := cr.program.Eval(input)
		fired := err != nil // fail-closed
		if err == nil {
			if b, ok := out.Value().(bool); ok {
				fired = b
			}
		}
		if fired {
			decision = cr.rule.Decision
			matched = append(matched, cr.rule.Name)
		}
	}
	return decision, matched
}
