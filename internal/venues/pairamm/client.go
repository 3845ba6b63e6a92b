// Package pairamm routes swaps through the constant-product pair AMM
// deployment: getAmountsOut for quoting, pair reserves for pool price and
// price impact, swapExactTokensForTokens for execution. Authorization is a
// plain single-hop router approval.
package pairamm

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

const (
	executionDeadline = 10 * time.Minute
	// fallbackGasEstimate covers quoting paths where the venue offers no
	// simulation-derived gas figure.
	fallbackGasEstimate = 180_000
)

type Config struct {
	Router common.Address
	// Pairs maps each outcome token to its collateral pair.
	Pairs map[common.Address]common.Address
	now   func() time.Time
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Client{cfg: cfg}
}

func (c *Client) Venue() model.Venue { return model.VenuePairAMM }

func (c *Client) ApprovalPlan() venues.ApprovalPlan {
	return venues.ApprovalPlan{Spender: c.cfg.Router}
}

func (c *Client) Quote(ctx context.Context, h chain.Handle, req model.SwapRequest) (model.Quote, error) {
	pair, ok := c.pairFor(req)
	if !ok {
		return model.Quote{}, oerr.New(oerr.CodeUnsupported, "no pair configured for this outcome token")
	}

	reserveIn, reserveOut, err := c.orientedReserves(ctx, h, pair, req)
	if err != nil {
		return model.Quote{}, err
	}
	amountOut, err := c.amountsOut(ctx, h, req)
	if err != nil {
		return model.Quote{}, err
	}

	before := spotPrice(reserveIn, reserveOut, req)
	after := spotPrice(
		new(big.Int).Add(reserveIn, req.Amount),
		new(big.Int).Sub(reserveOut, amountOut),
		req,
	)
	executionPrice := venues.ExecutionPrice(req, amountOut)
	impact := venues.PriceImpactPct(before, after)

	gasEstimate := uint64(fallbackGasEstimate)
	if estimated, err := c.estimateSwapGas(ctx, h, req, amountOut); err == nil {
		gasEstimate = estimated
	}

	return model.Quote{
		Venue:           model.VenuePairAMM,
		AmountOut:       amountOut,
		CurrentPrice:    before,
		ExecutionPrice:  executionPrice,
		PriceImpactPct:  &impact,
		SlippagePct:     venues.SlippagePct(before, executionPrice),
		MinimumReceived: model.MinimumReceived(amountOut, req.SlippageBps),
		GasEstimate:     gasEstimate,
		PoolRef:         pair.Hex(),
		FetchedAt:       c.cfg.now().UTC().Format(time.RFC3339),
	}, nil
}

func (c *Client) Execute(ctx context.Context, h chain.Handle, req model.SwapRequest, quote model.Quote) (venues.Execution, error) {
	data, err := c.swapCalldata(h, req, quote.MinimumReceived)
	if err != nil {
		return venues.Execution{}, err
	}
	router := c.cfg.Router
	pending, err := h.SendTransaction(ctx, chain.TxRequest{To: &router, Data: data})
	if err != nil {
		return venues.Execution{}, err
	}
	return venues.Execution{Kind: venues.ExecutionOnchain, Pending: pending}, nil
}

func (c *Client) swapCalldata(h chain.Handle, req model.SwapRequest, minOut *big.Int) ([]byte, error) {
	path := []common.Address{req.InputToken.Address, req.OutputToken.Address}
	deadline := big.NewInt(c.cfg.now().Add(executionDeadline).Unix())
	data, err := registry.PairRouter.Pack("swapExactTokensForTokens", req.Amount, minOut, path, h.Address(), deadline)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeInternal, "pack swap calldata", err)
	}
	return data, nil
}

func (c *Client) estimateSwapGas(ctx context.Context, h chain.Handle, req model.SwapRequest, amountOut *big.Int) (uint64, error) {
	data, err := c.swapCalldata(h, req, model.MinimumReceived(amountOut, req.SlippageBps))
	if err != nil {
		return 0, err
	}
	router := c.cfg.Router
	from := h.Address()
	return h.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &router, Data: data})
}

func (c *Client) amountsOut(ctx context.Context, h chain.Handle, req model.SwapRequest) (*big.Int, error) {
	path := []common.Address{req.InputToken.Address, req.OutputToken.Address}
	data, err := registry.PairRouter.Pack("getAmountsOut", req.Amount, path)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeInternal, "pack getAmountsOut calldata", err)
	}
	router := c.cfg.Router
	raw, err := h.ReadCall(ctx, ethereum.CallMsg{To: &router, Data: data})
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeUnavailable, "read getAmountsOut", err)
	}
	values, err := registry.PairRouter.Unpack("getAmountsOut", raw)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeUnavailable, "decode getAmountsOut", err)
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, oerr.New(oerr.CodeUnavailable, "getAmountsOut returned no path amounts")
	}
	return amounts[len(amounts)-1], nil
}

// orientedReserves returns (reserveIn, reserveOut) for the request's trade
// direction.
func (c *Client) orientedReserves(ctx context.Context, h chain.Handle, pair common.Address, req model.SwapRequest) (*big.Int, *big.Int, error) {
	token0, err := c.pairToken0(ctx, h, pair)
	if err != nil {
		return nil, nil, err
	}
	data, err := registry.Pair.Pack("getReserves")
	if err != nil {
		return nil, nil, oerr.Wrap(oerr.CodeInternal, "pack getReserves calldata", err)
	}
	raw, err := h.ReadCall(ctx, ethereum.CallMsg{To: &pair, Data: data})
	if err != nil {
		return nil, nil, oerr.Wrap(oerr.CodeUnavailable, "read pair reserves", err)
	}
	values, err := registry.Pair.Unpack("getReserves", raw)
	if err != nil {
		return nil, nil, oerr.Wrap(oerr.CodeUnavailable, "decode pair reserves", err)
	}
	reserve0, ok0 := values[0].(*big.Int)
	reserve1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, oerr.New(oerr.CodeUnavailable, "pair reserves are not numeric")
	}
	if token0 == req.InputToken.Address {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}

func (c *Client) pairToken0(ctx context.Context, h chain.Handle, pair common.Address) (common.Address, error) {
	data, err := registry.Pair.Pack("token0")
	if err != nil {
		return common.Address{}, oerr.Wrap(oerr.CodeInternal, "pack token0 calldata", err)
	}
	raw, err := h.ReadCall(ctx, ethereum.CallMsg{To: &pair, Data: data})
	if err != nil {
		return common.Address{}, oerr.Wrap(oerr.CodeUnavailable, "read pair token0", err)
	}
	values, err := registry.Pair.Unpack("token0", raw)
	if err != nil {
		return common.Address{}, oerr.Wrap(oerr.CodeUnavailable, "decode pair token0", err)
	}
	token0, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, oerr.New(oerr.CodeUnavailable, "pair token0 is not address")
	}
	return token0, nil
}

// spotPrice orients reserves as collateral per outcome token.
func spotPrice(reserveIn, reserveOut *big.Int, req model.SwapRequest) float64 {
	in := venues.AmountFloat(reserveIn, req.InputToken.Decimals)
	out := venues.AmountFloat(reserveOut, req.OutputToken.Decimals)
	if in == 0 || out == 0 {
		return 0
	}
	if req.InputToken.Address == req.Market.Collateral.Address {
		// Collateral on the input side: collateral reserve / outcome reserve.
		return in / out
	}
	return out / in
}

func (c *Client) pairFor(req model.SwapRequest) (common.Address, bool) {
	pair, ok := c.cfg.Pairs[req.PositionToken().Address]
	return pair, ok
}
