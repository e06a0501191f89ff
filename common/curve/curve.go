package curve

import (
	"math"
	"math/big"

	"github.com/sonicvault/vaultd/common/models"
)

// SupplyScale divides slope*supply so slopes stay in integer range for
// realistic supplies.
const SupplyScale = 1_000_000_000

// Direction of a quoted trade
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// Params parameterize a vault's linear bonding curve:
//
//	price(q) = basePrice + slope*q/SupplyScale
//
// Prices are micro-units of settlement currency per smallest token unit.
type Params struct {
	BasePrice int64
	Slope     int64
	FeeBps    int64
}

// Quote is the result of pricing a trade against the curve
type Quote struct {
	// AmountOut: settlement currency for buys (cost), settlement
	// currency for sells (proceeds). Smallest units.
	AmountOut int64

	// Fee in smallest token units, skimmed from the input before
	// integration
	Fee int64

	// PriceImpact is the spot price move caused by the trade, in
	// micro-price units. Strictly increasing in trade size.
	PriceImpact int64

	// SpotPrice at the pre-trade supply, micro-price
	SpotPrice int64
}

// PriceAt returns the spot price at a given circulating supply.
// Monotonically increasing in supply.
func PriceAt(p Params, supply int64) int64 {
	price := new(big.Int).Mul(big.NewInt(p.Slope), big.NewInt(supply))
	price.Quo(price, big.NewInt(SupplyScale))
	price.Add(price, big.NewInt(p.BasePrice))
	return price.Int64()
}

// QuoteTrade prices amountIn tokens against the curve at the current
// supply. The fee is charged on the input before integration, so price
// impact reflects only the tokens actually crossing the curve.
func QuoteTrade(p Params, supply, amountIn int64, dir Direction) (*Quote, error) {
	if amountIn <= 0 {
		return nil, models.ErrInvalidAmount
	}
	if supply < 0 || p.FeeBps < 0 || p.FeeBps > 10_000 {
		return nil, models.ErrInvalidState
	}

	// amountIn*feeBps can exceed int64 for very large trades, so the fee
	// goes through big.Int like the integration does. The quotient is at
	// most amountIn, so the narrowing back is exact.
	feeBig := new(big.Int).Mul(big.NewInt(amountIn), big.NewInt(p.FeeBps))
	feeBig.Quo(feeBig, big.NewInt(10_000))
	fee := feeBig.Int64()
	net := amountIn - fee
	if net <= 0 {
		return nil, models.ErrInvalidAmount
	}

	spot := PriceAt(p, supply)

	var from, to int64
	switch dir {
	case Buy:
		if net > math.MaxInt64-supply {
			return nil, models.ErrInvalidAmount
		}
		from, to = supply, supply+net
	case Sell:
		if net > supply {
			return nil, models.ErrInvalidAmount
		}
		from, to = supply-net, supply
	default:
		return nil, models.ErrInvalidAmount
	}

	amountOut, err := integrate(p, from, to)
	if err != nil {
		return nil, err
	}

	var impact int64
	if dir == Buy {
		impact = PriceAt(p, supply+net) - spot
	} else {
		impact = spot - PriceAt(p, supply-net)
	}

	return &Quote{
		AmountOut:   amountOut,
		Fee:         fee,
		PriceImpact: impact,
		SpotPrice:   spot,
	}, nil
}

// integrate computes the exact integral of the curve between two supply
// points, in smallest settlement units:
//
//	∫ price(q) dq = basePrice*(to-from) + slope*(to²-from²)/(2*SupplyScale)
//
// all divided by MicroUnit to convert micro-price to settlement units.
// big.Int keeps the squared supplies exact; a result outside int64
// rejects the trade rather than wrapping.
func integrate(p Params, from, to int64) (int64, error) {
	delta := new(big.Int).Sub(big.NewInt(to), big.NewInt(from))

	linear := new(big.Int).Mul(big.NewInt(p.BasePrice), delta)

	toSq := new(big.Int).Mul(big.NewInt(to), big.NewInt(to))
	fromSq := new(big.Int).Mul(big.NewInt(from), big.NewInt(from))
	quad := new(big.Int).Sub(toSq, fromSq)
	quad.Mul(quad, big.NewInt(p.Slope))
	quad.Quo(quad, big.NewInt(2*SupplyScale))

	total := new(big.Int).Add(linear, quad)
	total.Quo(total, big.NewInt(models.MicroUnit))
	if !total.IsInt64() {
		return 0, models.ErrInvalidAmount
	}
	return total.Int64(), nil
}
