package policy

import (
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/procurio/be-po-approvals/internal/apperrors"
)

// ConditionEvaluator compiles and caches the CEL condition expressions
// attached to approval policies. Programs are compiled lazily on first use
// and cost-limited so a malformed condition cannot stall resolution.
type ConditionEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewConditionEvaluator builds the evaluator environment. Conditions see a
// single `order` variable with the attributes of OrderContext.
func NewConditionEvaluator() (*ConditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("order", cel.DynType),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to create condition environment")
	}
	return &ConditionEvaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Evaluate runs expr against the order context and returns its boolean result.
// A non-boolean result or evaluation failure is a validation error: ambiguous
// configuration must surface, never silently pass.
func (e *ConditionEvaluator) Evaluate(expr string, orderCtx OrderContext) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(orderCtx.celInput())
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeValidation, "policy condition evaluation failed")
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, apperrors.New(apperrors.CodeValidation, "policy condition did not evaluate to a boolean")
	}
	return val, nil
}

func (e *ConditionEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.cache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.cache[expr]; hit {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, apperrors.Wrap(issues.Err(), apperrors.CodeValidation, "failed to compile policy condition")
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to build policy condition program")
	}
	e.cache[expr] = prg
	return prg, nil
}
