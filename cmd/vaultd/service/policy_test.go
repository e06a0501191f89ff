package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicvault/vaultd/common/models"
)

func TestPolicyEmptyExpressionAllows(t *testing.T) {
	eval := NewPolicyEvaluator()

	allowed, err := eval.Allow("", PolicyInput{Amount: 100})
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestPolicyAmountCeiling(t *testing.T) {
	eval := NewPolicyEvaluator()
	expr := "amount <= accrued && amount < 1000000000"

	allowed, err := eval.Allow(expr, PolicyInput{Amount: 500, Accrued: 1000})
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = eval.Allow(expr, PolicyInput{Amount: 2_000_000_000, Accrued: 3_000_000_000})
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestPolicyModeRestriction(t *testing.T) {
	eval := NewPolicyEvaluator()
	expr := `mode != "withdraw" || balance > 100`

	allowed, err := eval.Allow(expr, PolicyInput{Mode: models.ModeWithdraw, Balance: 50})
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = eval.Allow(expr, PolicyInput{Mode: models.ModeClaim, Balance: 50})
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestPolicyCompileErrorSurfaces(t *testing.T) {
	eval := NewPolicyEvaluator()

	_, err := eval.Allow("amount <<>> 5", PolicyInput{})
	assert.Error(t, err)
}

func TestPolicyNonBooleanRejected(t *testing.T) {
	eval := NewPolicyEvaluator()

	_, err := eval.Allow("amount + 1", PolicyInput{Amount: 1})
	assert.Error(t, err)
}
