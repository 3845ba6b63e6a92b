package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Action is the user intent driving a swap flow.
type Action string

const (
	ActionBuy     Action = "buy"
	ActionSell    Action = "sell"
	ActionRedeem  Action = "redeem"
	ActionRecover Action = "recover"
)

// Outcome selects which side of a binary market is traded.
type Outcome string

const (
	OutcomeA Outcome = "a"
	OutcomeB Outcome = "b"
)

// Opposite returns the other side of a binary market.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeB {
		return OutcomeA
	}
	return OutcomeB
}

// Venue identifies one liquidity source the orchestrator can route through.
type Venue string

const (
	VenueCLAMM     Venue = "clamm"
	VenuePairAMM   Venue = "pairamm"
	VenueOrderbook Venue = "orderbook"
)

func ParseVenue(raw string) (Venue, bool) {
	switch Venue(raw) {
	case VenueCLAMM, VenuePairAMM, VenueOrderbook:
		return Venue(raw), true
	default:
		return "", false
	}
}

// Token describes one ERC-20 position or collateral token.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals int            `json:"decimals"`
}

// Market ties a binary condition to its collateral and outcome tokens.
type Market struct {
	ConditionID common.Hash `json:"condition_id"`
	Collateral  Token       `json:"collateral"`
	OutcomeA    Token       `json:"outcome_a"`
	OutcomeB    Token       `json:"outcome_b"`
}

func (m Market) OutcomeToken(o Outcome) Token {
	if o == OutcomeB {
		return m.OutcomeB
	}
	return m.OutcomeA
}

// MaxSlippageBps caps the tolerance at 50%.
const MaxSlippageBps = 5000

// ClampSlippageBps forces any tolerance input into [0, MaxSlippageBps]
// before it is used in a minimum-output computation.
func ClampSlippageBps(bps int64) int64 {
	if bps < 0 {
		return 0
	}
	if bps > MaxSlippageBps {
		return MaxSlippageBps
	}
	return bps
}

// SwapRequest is immutable once execution begins.
type SwapRequest struct {
	Action      Action   `json:"action"`
	Outcome     Outcome  `json:"outcome"`
	Market      Market   `json:"market"`
	InputToken  Token    `json:"input_token"`
	OutputToken Token    `json:"output_token"`
	Amount      *big.Int `json:"amount"`
	SlippageBps int64    `json:"slippage_bps"`
	Venue       Venue    `json:"venue"`
}

// PositionToken returns the outcome-token side of the swap path: the
// input when a position token is spent, else the output.
func (r SwapRequest) PositionToken() Token {
	if r.InputToken.Address == r.Market.Collateral.Address {
		return r.OutputToken
	}
	return r.InputToken
}

// Quote is one venue's advisory answer to a SwapRequest. Quotes are
// discarded once execution starts.
type Quote struct {
	Venue          Venue    `json:"venue"`
	AmountOut      *big.Int `json:"amount_out"`
	CurrentPrice   float64  `json:"current_price"`
	ExecutionPrice float64  `json:"execution_price"`
	// PriceImpactPct is nil for venues that expose no post-trade pool
	// price; the distinction is deliberate and must not collapse to zero.
	PriceImpactPct  *float64 `json:"price_impact_pct,omitempty"`
	SlippagePct     float64  `json:"slippage_pct"`
	MinimumReceived *big.Int `json:"minimum_received"`
	GasEstimate     uint64   `json:"gas_estimate"`
	PoolRef         string   `json:"pool_ref,omitempty"`
	FetchedAt       string   `json:"fetched_at"`
}

// minOutFloor keeps the minimum output strictly above zero so venues that
// reject a zero minimum do not fail on rounding.
var minOutFloor = big.NewInt(1)

// MinimumReceived computes expectedOut × (1 − tolerance) with the tolerance
// clamped to [0, MaxSlippageBps], floored at a non-zero threshold.
func MinimumReceived(expectedOut *big.Int, slippageBps int64) *big.Int {
	if expectedOut == nil || expectedOut.Sign() <= 0 {
		return new(big.Int).Set(minOutFloor)
	}
	bps := ClampSlippageBps(slippageBps)
	out := new(big.Int).Mul(expectedOut, big.NewInt(10000-bps))
	out.Div(out, big.NewInt(10000))
	if out.Cmp(minOutFloor) < 0 {
		out.Set(minOutFloor)
	}
	return out
}
