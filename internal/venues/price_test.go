package venues

import (
	"context"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcome-labs/oswap/internal/chain"
	"github.com/outcome-labs/oswap/internal/model"
)

func approxEqual(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func priceTestMarket() model.Market {
	return model.Market{
		Collateral: model.Token{Address: common.HexToAddress("0x11"), Decimals: 6},
		OutcomeA:   model.Token{Address: common.HexToAddress("0x12"), Decimals: 6},
	}
}

func TestAmountFloat(t *testing.T) {
	if got := AmountFloat(big.NewInt(1_500_000), 6); !approxEqual(got, 1.5, 1e-9) {
		t.Fatalf("AmountFloat = %v", got)
	}
	if got := AmountFloat(nil, 6); got != 0 {
		t.Fatalf("AmountFloat(nil) = %v", got)
	}
}

func TestExecutionPriceOrientation(t *testing.T) {
	market := priceTestMarket()

	// Buying: 100 collateral in, 160 outcome tokens out. The price of one
	// outcome token is collateral paid per token received.
	buy := model.SwapRequest{
		Market:      market,
		InputToken:  market.Collateral,
		OutputToken: market.OutcomeA,
		Amount:      big.NewInt(100_000_000),
	}
	got := ExecutionPrice(buy, big.NewInt(160_000_000))
	if !approxEqual(got, 0.625, 1e-9) {
		t.Fatalf("buy price = %v, want 0.625", got)
	}

	// Selling: 160 outcome tokens in, 100 collateral out. Same market
	// price, same orientation.
	sell := model.SwapRequest{
		Market:      market,
		InputToken:  market.OutcomeA,
		OutputToken: market.Collateral,
		Amount:      big.NewInt(160_000_000),
	}
	got = ExecutionPrice(sell, big.NewInt(100_000_000))
	if !approxEqual(got, 0.625, 1e-9) {
		t.Fatalf("sell price = %v, want 0.625", got)
	}

	if got := ExecutionPrice(buy, nil); got != 0 {
		t.Fatalf("price with no output = %v", got)
	}
}

func TestSlippagePct(t *testing.T) {
	if got := SlippagePct(0.50, 0.49); !approxEqual(got, 2.0, 1e-9) {
		t.Fatalf("slippage = %v, want 2", got)
	}
	if got := SlippagePct(0, 0.49); got != 0 {
		t.Fatalf("slippage with no current price = %v", got)
	}
}

func TestPriceImpactPctIsAbsolute(t *testing.T) {
	up := PriceImpactPct(0.50, 0.51)
	down := PriceImpactPct(0.50, 0.49)
	if !approxEqual(up, 2.0, 1e-9) || !approxEqual(down, 2.0, 1e-9) {
		t.Fatalf("impact = %v / %v, want 2 both ways", up, down)
	}
	if got := PriceImpactPct(0, 0.49); got != 0 {
		t.Fatalf("impact with no before price = %v", got)
	}
}

func TestPriceFromSqrtX96(t *testing.T) {
	// sqrtPrice == 2^96 encodes a base-unit price of exactly 1.
	one := new(big.Int).Lsh(big.NewInt(1), 96)
	if got := PriceFromSqrtX96(one, 6, 6); !approxEqual(got, 1.0, 1e-9) {
		t.Fatalf("price = %v, want 1", got)
	}

	// Doubling the sqrt price quadruples the price.
	double := new(big.Int).Lsh(big.NewInt(1), 97)
	if got := PriceFromSqrtX96(double, 6, 6); !approxEqual(got, 4.0, 1e-9) {
		t.Fatalf("price = %v, want 4", got)
	}

	// Decimal adjustment: token0 with 18 decimals against token1 with 6.
	if got := PriceFromSqrtX96(one, 18, 6); !approxEqual(got, 1e12, 1e3) {
		t.Fatalf("price = %v, want 1e12", got)
	}

	if got := PriceFromSqrtX96(nil, 6, 6); got != 0 {
		t.Fatalf("price of nil = %v", got)
	}
}

func TestRegistryOrderAndLookup(t *testing.T) {
	a := &staticStrategy{venue: model.VenueCLAMM}
	b := &staticStrategy{venue: model.VenuePairAMM}
	dup := &staticStrategy{venue: model.VenueCLAMM}

	reg := NewRegistry(a, b, dup)
	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("registry holds %d strategies, want duplicates dropped", len(all))
	}
	if all[0].Venue() != model.VenueCLAMM || all[1].Venue() != model.VenuePairAMM {
		t.Fatal("registration order not preserved")
	}
	if got, ok := reg.Get(model.VenueCLAMM); !ok || got != Strategy(a) {
		t.Fatal("lookup returned the wrong strategy")
	}
	if _, ok := reg.Get(model.VenueOrderbook); ok {
		t.Fatal("lookup of unregistered venue succeeded")
	}
}

type staticStrategy struct{ venue model.Venue }

func (s *staticStrategy) Venue() model.Venue         { return s.venue }
func (s *staticStrategy) ApprovalPlan() ApprovalPlan { return ApprovalPlan{} }

func (s *staticStrategy) Quote(context.Context, chain.Handle, model.SwapRequest) (model.Quote, error) {
	return model.Quote{Venue: s.venue}, nil
}

func (s *staticStrategy) Execute(context.Context, chain.Handle, model.SwapRequest, model.Quote) (Execution, error) {
	return Execution{}, nil
}
