// Package policy evaluates waiver applicability and stop-trigger routing with
// CEL predicates, and computes candidate verification from run outcomes.
package policy

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
)

// Waiver covers specific failed oracle outcomes. Applicability is a CEL
// predicate over the outcome: {condition, oracle_id, suite_id, stage}.
type Waiver struct {
	WaiverID      string `json:"waiver_id"`
	Justification string `json:"justification"`
	// Applicability is a CEL boolean expression, e.g.
	// `oracle_id == "oracle_lint" && stage == "draft"`.
	Applicability string `json:"applicability"`
	// GrantedBy must be a HUMAN actor; waivers are never self-issued.
	GrantedBy string `json:"granted_by"`

	evaluator *Evaluator
}

// Evaluator compiles one CEL predicate over an outcome context and evaluates
// it to a boolean.
type Evaluator struct {
	Expression string
	program    cel.Program
}

// NewEvaluator compiles a predicate over the outcome variables.
func NewEvaluator(expression string) (*Evaluator, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression can't be empty string")
	}
	env, err := cel.NewEnv(
		cel.Variable("condition", cel.StringType),
		cel.Variable("oracle_id", cel.StringType),
		cel.Variable("suite_id", cel.StringType),
		cel.Variable("stage", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %v", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling CEL expression: %v", issues.Err())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating Program: %v", err)
	}
	return &Evaluator{
		Expression: expression,
		program:    p,
	}, nil
}

// Outcome is the context a predicate is evaluated against.
type Outcome struct {
	Condition string
	OracleID  string
	SuiteID   string
	Stage     string
}

// Evaluate runs the predicate against an outcome.
func (e *Evaluator) Evaluate(outcome Outcome) (bool, error) {
	out, _, err := e.program.Eval(map[string]any{
		"condition": outcome.Condition,
		"oracle_id": outcome.OracleID,
		"suite_id":  outcome.SuiteID,
		"stage":     outcome.Stage,
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating CEL expression: %v", err)
	}
	nv, err := out.ConvertToNative(reflect.TypeOf(false))
	if err != nil {
		return false, fmt.Errorf("error ConvertToNative, got err: %v", err)
	}
	v, ok := nv.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean", e.Expression)
	}
	return v, nil
}

// Compile prepares the waiver's predicate. Must be called before Applies.
func (w *Waiver) Compile() error {
	e, err := NewEvaluator(w.Applicability)
	if err != nil {
		return fmt.Errorf("waiver %s, details: %v", w.WaiverID, err)
	}
	w.evaluator = e
	return nil
}

// Applies reports whether the waiver covers the outcome. Integrity conditions
// are never waivable regardless of the predicate.
func (w *Waiver) Applies(outcome Outcome) (bool, error) {
	if nonWaivable[outcome.Condition] {
		return false, nil
	}
	if w.evaluator == nil {
		if err := w.Compile(); err != nil {
			return false, err
		}
	}
	return w.evaluator.Evaluate(outcome)
}

var nonWaivable = map[string]bool{
	"ORACLE_TAMPER":       true,
	"ORACLE_GAP":          true,
	"ORACLE_ENV_MISMATCH": true,
	"ORACLE_FLAKE":        true,
	"EVIDENCE_MISSING":    true,
	"MANIFEST_INVALID":    true,
}
