package curve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicvault/vaultd/common/models"
)

var testParams = Params{
	BasePrice: 2_000_000, // 2 settlement units per token
	Slope:     500,
	FeeBps:    30,
}

func TestPriceAt_MonotonicInSupply(t *testing.T) {
	prev := PriceAt(testParams, 0)
	assert.Equal(t, testParams.BasePrice, prev)

	for _, supply := range []int64{1_000, 1_000_000, 50_000_000, 2_000_000_000} {
		price := PriceAt(testParams, supply)
		assert.Greater(t, price, prev, "price must rise with supply %d", supply)
		prev = price
	}
}

func TestQuoteTrade_RejectsNonPositiveAmounts(t *testing.T) {
	for _, amount := range []int64{0, -1, -1_000_000} {
		_, err := QuoteTrade(testParams, 1_000_000, amount, Buy)
		assert.True(t, errors.Is(err, models.ErrInvalidAmount), "amount %d", amount)
	}
}

func TestQuoteTrade_RejectsSellBeyondSupply(t *testing.T) {
	_, err := QuoteTrade(testParams, 100, 10_000, Sell)
	assert.True(t, errors.Is(err, models.ErrInvalidAmount))
}

func TestQuoteTrade_PriceImpactStrictlyIncreasing(t *testing.T) {
	supply := int64(10_000_000)

	var prevImpact int64 = -1
	for _, amount := range []int64{100_000, 1_000_000, 10_000_000, 100_000_000} {
		quote, err := QuoteTrade(testParams, supply, amount, Buy)
		require.NoError(t, err)
		assert.Greater(t, quote.PriceImpact, prevImpact, "impact must grow with size %d", amount)
		prevImpact = quote.PriceImpact
	}
}

func TestQuoteTrade_FeeChargedOnInput(t *testing.T) {
	quote, err := QuoteTrade(testParams, 1_000_000, 100_000, Buy)
	require.NoError(t, err)

	// 30 bps of 100_000
	assert.Equal(t, int64(300), quote.Fee)

	// Fee reduces the tokens crossing the curve, so a zero-fee quote for
	// the same input must cost more
	noFee := testParams
	noFee.FeeBps = 0
	bigger, err := QuoteTrade(noFee, 1_000_000, 100_000, Buy)
	require.NoError(t, err)
	assert.Greater(t, bigger.AmountOut, quote.AmountOut)
}

func TestQuoteTrade_BuyCostExceedsSellProceeds(t *testing.T) {
	supply := int64(5_000_000)
	amount := int64(1_000_000)

	buy, err := QuoteTrade(testParams, supply, amount, Buy)
	require.NoError(t, err)
	sell, err := QuoteTrade(testParams, supply, amount, Sell)
	require.NoError(t, err)

	// Buying integrates up-curve, selling down-curve
	assert.Greater(t, buy.AmountOut, sell.AmountOut)
}

func TestQuoteTrade_LargeTradeFeeStaysExact(t *testing.T) {
	// amountIn * feeBps would wrap int64 if multiplied directly
	params := Params{BasePrice: 1_000_000, Slope: 0, FeeBps: 9_999}
	amount := int64(1_000_000_000_000_000_000)

	quote, err := QuoteTrade(params, 0, amount, Buy)
	require.NoError(t, err)

	assert.Equal(t, amount/10_000*9_999, quote.Fee)
	assert.Positive(t, quote.Fee)
	assert.Positive(t, quote.AmountOut)
}

func TestQuoteTrade_RejectsFeeBpsOutOfRange(t *testing.T) {
	for _, bps := range []int64{-1, 10_001} {
		params := testParams
		params.FeeBps = bps
		_, err := QuoteTrade(params, 1_000_000, 100_000, Buy)
		assert.True(t, errors.Is(err, models.ErrInvalidState), "feeBps %d", bps)
	}
}

func TestQuoteTrade_CostMatchesClosedForm(t *testing.T) {
	// Flat curve: slope 0, cost is just basePrice * tokens, no impact
	flat := Params{BasePrice: 1_000_000, Slope: 0, FeeBps: 0}

	quote, err := QuoteTrade(flat, 123_456, 1_000, Buy)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), quote.AmountOut)
	assert.Equal(t, int64(0), quote.PriceImpact)
}
