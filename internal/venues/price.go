package venues

import (
	"math/big"

	"github.com/outcome-labs/oswap/internal/model"
)

var q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// AmountFloat converts a base-unit amount into a float in whole tokens.
func AmountFloat(amount *big.Int, decimals int) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetInt(pow10(decimals))
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}

// PriceFromSqrtX96 converts a Q64.96 sqrt price into token1-per-token0
// units, adjusted for the two tokens' decimals.
func PriceFromSqrtX96(sqrtPriceX96 *big.Int, decimals0, decimals1 int) float64 {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return 0
	}
	ratio := new(big.Float).SetInt(sqrtPriceX96)
	ratio.Quo(ratio, q96)
	ratio.Mul(ratio, ratio)
	// Base-unit ratio to whole-token ratio.
	ratio.Mul(ratio, new(big.Float).SetInt(pow10(decimals0)))
	ratio.Quo(ratio, new(big.Float).SetInt(pow10(decimals1)))
	out, _ := ratio.Float64()
	return out
}

// ExecutionPrice orients amountOut/amountIn as quote-currency (collateral)
// per base-currency (outcome token) regardless of trade direction.
func ExecutionPrice(req model.SwapRequest, amountOut *big.Int) float64 {
	in := AmountFloat(req.Amount, req.InputToken.Decimals)
	out := AmountFloat(amountOut, req.OutputToken.Decimals)
	if in == 0 || out == 0 {
		return 0
	}
	if req.InputToken.Address == req.Market.Collateral.Address {
		// Buying outcome tokens with collateral: pay in, receive base.
		return in / out
	}
	// Selling outcome tokens for collateral: pay base, receive quote.
	return out / in
}

// SlippagePct is the percentage gap between the venue's current price and
// the price the trade would realize.
func SlippagePct(currentPrice, executionPrice float64) float64 {
	if currentPrice == 0 {
		return 0
	}
	return (currentPrice - executionPrice) / currentPrice * 100
}

// PriceImpactPct is the pool price move caused by the trade itself, from
// before/after pool state.
func PriceImpactPct(before, after float64) float64 {
	if before == 0 {
		return 0
	}
	impact := (after - before) / before * 100
	if impact < 0 {
		return -impact
	}
	return impact
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
