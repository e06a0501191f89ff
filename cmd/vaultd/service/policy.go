package service

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/sonicvault/vaultd/common/models"
)

// PolicyEvaluator evaluates per-vault claim policies written in CEL.
// Compiled programs are cached by expression, so hot vaults pay the
// compilation cost once.
type PolicyEvaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewPolicyEvaluator creates a policy evaluator with caching
func NewPolicyEvaluator() *PolicyEvaluator {
	return &PolicyEvaluator{
		cache: make(map[string]cel.Program),
	}
}

// PolicyInput is the claim context a policy expression sees.
type PolicyInput struct {
	Amount  int64
	Accrued int64
	Balance int64
	Mode    models.ClaimMode
}

// Allow evaluates the vault's claim policy against a claim. An empty
// expression allows everything.
func (e *PolicyEvaluator) Allow(expr string, input PolicyInput) (bool, error) {
	if expr == "" {
		return true, nil
	}

	e.mu.RLock()
	prg, exists := e.cache[expr]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = e.compile(expr)
		if err != nil {
			return false, err
		}

		e.mu.Lock()
		e.cache[expr] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"amount":  input.Amount,
		"accrued": input.Accrued,
		"balance": input.Balance,
		"mode":    string(input.Mode),
	})
	if err != nil {
		return false, fmt.Errorf("policy evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy expression did not return boolean, got %T", out.Value())
	}

	return result, nil
}

func (e *PolicyEvaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.IntType),
		cel.Variable("accrued", cel.IntType),
		cel.Variable("balance", cel.IntType),
		cel.Variable("mode", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy program: %w", err)
	}

	return prg, nil
}

// ClearCache drops all compiled policies, forcing recompilation on next
// use. Called when a vault's policy is updated.
func (e *PolicyEvaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}
