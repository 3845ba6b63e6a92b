// Package clamm routes swaps through the concentrated-liquidity AMM
// deployment: QuoterV2 simulation for quoting, slot0 for pool price, and
// the swap router's exactInputSingle for execution. Authorization is
// two-hop via the allowance registry.
package clamm

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/outcome-labs/oswap/internal/chain"
	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/model"
	"github.com/outcome-labs/oswap/internal/registry"
	"github.com/outcome-labs/oswap/internal/venues"
)

const executionDeadline = 10 * time.Minute

type Config struct {
	Quoter            common.Address
	Router            common.Address
	AllowanceRegistry common.Address
	// Pools maps each outcome token to its collateral pool.
	Pools map[common.Address]common.Address
	Fee   uint32
	now   func() time.Time
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.Fee == 0 {
		cfg.Fee = 500
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Client{cfg: cfg}
}

func (c *Client) Venue() model.Venue { return model.VenueCLAMM }

func (c *Client) ApprovalPlan() venues.ApprovalPlan {
	return venues.ApprovalPlan{
		Spender:  c.cfg.Router,
		Registry: c.cfg.AllowanceRegistry,
		TwoHop:   true,
	}
}

type quoteSim struct {
	amountOut         *big.Int
	sqrtPriceX96After *big.Int
	gasEstimate       uint64
}

func (c *Client) Quote(ctx context.Context, h chain.Handle, req model.SwapRequest) (model.Quote, error) {
	pool, ok := c.poolFor(req)
	if !ok {
		return model.Quote{}, oerr.New(oerr.CodeUnsupported, "no pool configured for this outcome token")
	}

	before, token0, err := c.poolPrice(ctx, h, pool, req)
	if err != nil {
		return model.Quote{}, err
	}
	sim, err := c.simulate(ctx, h, req)
	if err != nil {
		return model.Quote{}, err
	}

	after := orientedPrice(sim.sqrtPriceX96After, token0, req)
	executionPrice := venues.ExecutionPrice(req, sim.amountOut)
	impact := venues.PriceImpactPct(before, after)

	return model.Quote{
		Venue:           model.VenueCLAMM,
		AmountOut:       sim.amountOut,
		CurrentPrice:    before,
		ExecutionPrice:  executionPrice,
		PriceImpactPct:  &impact,
		SlippagePct:     venues.SlippagePct(before, executionPrice),
		MinimumReceived: model.MinimumReceived(sim.amountOut, req.SlippageBps),
		GasEstimate:     sim.gasEstimate,
		PoolRef:         pool.Hex(),
		FetchedAt:       c.cfg.now().UTC().Format(time.RFC3339),
	}, nil
}

func (c *Client) Execute(ctx context.Context, h chain.Handle, req model.SwapRequest, quote model.Quote) (venues.Execution, error) {
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           req.InputToken.Address,
		TokenOut:          req.OutputToken.Address,
		Fee:               big.NewInt(int64(c.cfg.Fee)),
		Recipient:         h.Address(),
		Deadline:          big.NewInt(c.cfg.now().Add(executionDeadline).Unix()),
		AmountIn:          req.Amount,
		AmountOutMinimum:  quote.MinimumReceived,
		SqrtPriceLimitX96: big.NewInt(0),
	}
	data, err := registry.SwapRouter.Pack("exactInputSingle", params)
	if err != nil {
		return venues.Execution{}, oerr.Wrap(oerr.CodeInternal, "pack exactInputSingle calldata", err)
	}
	router := c.cfg.Router
	pending, err := h.SendTransaction(ctx, chain.TxRequest{To: &router, Data: data})
	if err != nil {
		return venues.Execution{}, err
	}
	return venues.Execution{Kind: venues.ExecutionOnchain, Pending: pending}, nil
}

func (c *Client) simulate(ctx context.Context, h chain.Handle, req model.SwapRequest) (quoteSim, error) {
	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		AmountIn          *big.Int
		Fee               *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           req.InputToken.Address,
		TokenOut:          req.OutputToken.Address,
		AmountIn:          req.Amount,
		Fee:               big.NewInt(int64(c.cfg.Fee)),
		SqrtPriceLimitX96: big.NewInt(0),
	}
	data, err := registry.QuoterV2.Pack("quoteExactInputSingle", params)
	if err != nil {
		return quoteSim{}, oerr.Wrap(oerr.CodeInternal, "pack quote calldata", err)
	}
	quoter := c.cfg.Quoter
	raw, err := h.ReadCall(ctx, ethereum.CallMsg{To: &quoter, Data: data})
	if err != nil {
		return quoteSim{}, oerr.Wrap(oerr.CodeUnavailable, "simulate quote", err)
	}
	values, err := registry.QuoterV2.Unpack("quoteExactInputSingle", raw)
	if err != nil {
		return quoteSim{}, oerr.Wrap(oerr.CodeUnavailable, "decode quote result", err)
	}
	amountOut, ok := values[0].(*big.Int)
	if !ok {
		return quoteSim{}, oerr.New(oerr.CodeUnavailable, "quote amountOut is not uint256")
	}
	sqrtAfter, ok := values[1].(*big.Int)
	if !ok {
		return quoteSim{}, oerr.New(oerr.CodeUnavailable, "quote sqrtPriceX96After is not numeric")
	}
	gasEstimate := uint64(0)
	if g, ok := values[3].(*big.Int); ok {
		gasEstimate = g.Uint64()
	}
	return quoteSim{amountOut: amountOut, sqrtPriceX96After: sqrtAfter, gasEstimate: gasEstimate}, nil
}

// poolPrice reads slot0 and orients the pool price as collateral per
// outcome token.
func (c *Client) poolPrice(ctx context.Context, h chain.Handle, pool common.Address, req model.SwapRequest) (float64, common.Address, error) {
	token0, err := c.poolToken0(ctx, h, pool)
	if err != nil {
		return 0, common.Address{}, err
	}
	data, err := registry.CLPool.Pack("slot0")
	if err != nil {
		return 0, common.Address{}, oerr.Wrap(oerr.CodeInternal, "pack slot0 calldata", err)
	}
	raw, err := h.ReadCall(ctx, ethereum.CallMsg{To: &pool, Data: data})
	if err != nil {
		return 0, common.Address{}, oerr.Wrap(oerr.CodeUnavailable, "read pool slot0", err)
	}
	values, err := registry.CLPool.Unpack("slot0", raw)
	if err != nil {
		return 0, common.Address{}, oerr.Wrap(oerr.CodeUnavailable, "decode slot0", err)
	}
	sqrtPriceX96, ok := values[0].(*big.Int)
	if !ok {
		return 0, common.Address{}, oerr.New(oerr.CodeUnavailable, "slot0 sqrtPriceX96 is not numeric")
	}
	return orientedPrice(sqrtPriceX96, token0, req), token0, nil
}

func (c *Client) poolToken0(ctx context.Context, h chain.Handle, pool common.Address) (common.Address, error) {
	data, err := registry.Pair.Pack("token0")
	if err != nil {
		return common.Address{}, oerr.Wrap(oerr.CodeInternal, "pack token0 calldata", err)
	}
	raw, err := h.ReadCall(ctx, ethereum.CallMsg{To: &pool, Data: data})
	if err != nil {
		return common.Address{}, oerr.Wrap(oerr.CodeUnavailable, "read pool token0", err)
	}
	values, err := registry.Pair.Unpack("token0", raw)
	if err != nil {
		return common.Address{}, oerr.Wrap(oerr.CodeUnavailable, "decode pool token0", err)
	}
	token0, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, oerr.New(oerr.CodeUnavailable, "pool token0 is not address")
	}
	return token0, nil
}

// orientedPrice converts a pool sqrt price to collateral-per-outcome units.
func orientedPrice(sqrtPriceX96 *big.Int, token0 common.Address, req model.SwapRequest) float64 {
	collateral := req.Market.Collateral
	outcome := req.PositionToken()

	var dec0, dec1 int
	if token0 == collateral.Address {
		dec0, dec1 = collateral.Decimals, outcome.Decimals
	} else {
		dec0, dec1 = outcome.Decimals, collateral.Decimals
	}
	p10 := venues.PriceFromSqrtX96(sqrtPriceX96, dec0, dec1)
	if p10 == 0 {
		return 0
	}
	if token0 == collateral.Address {
		// token1 (outcome) quoted in token0 (collateral) is the inverse.
		return 1 / p10
	}
	return p10
}

func (c *Client) poolFor(req model.SwapRequest) (common.Address, bool) {
	pool, ok := c.cfg.Pools[req.PositionToken().Address]
	return pool, ok
}
