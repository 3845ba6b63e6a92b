// Package orderbook routes swaps through the gasless off-chain order
// protocol: an HTTP quote endpoint, EIP-712 order signing, and relayer
// settlement tracked through the order status endpoint.
package orderbook

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/outcome-labs/oswap/internal/chain"
	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/httpx"
	"github.com/outcome-labs/oswap/internal/model"
	"github.com/outcome-labs/oswap/internal/venues"
)

const (
	defaultOrderValidity = 30 * time.Minute
	// submittedOrderGas is advisory only: the relayer pays execution gas.
	submittedOrderGas = 0
)

type Config struct {
	BaseURL string
	// Settlement is the contract that pulls sell tokens on fill; it is the
	// approval spender and the EIP-712 verifying contract.
	Settlement common.Address
	ChainID    int64
	now        func() time.Time
}

type Client struct {
	http *httpx.Client
	cfg  Config
}

func New(httpClient *httpx.Client, cfg Config) *Client {
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Client{http: httpClient, cfg: cfg}
}

func (c *Client) Venue() model.Venue { return model.VenueOrderbook }

func (c *Client) ApprovalPlan() venues.ApprovalPlan {
	return venues.ApprovalPlan{Spender: c.cfg.Settlement}
}

type quoteRequest struct {
	SellToken           string `json:"sellToken"`
	BuyToken            string `json:"buyToken"`
	SellAmountBeforeFee string `json:"sellAmountBeforeFee"`
	From                string `json:"from"`
	ValidTo             int64  `json:"validTo"`
	Kind                string `json:"kind"`
}

type quoteResponse struct {
	Quote struct {
		SellAmount string `json:"sellAmount"`
		BuyAmount  string `json:"buyAmount"`
		FeeAmount  string `json:"feeAmount"`
	} `json:"quote"`
	ID int64 `json:"id"`
}

// Quote fetches an indicative fill from the order book. The venue exposes
// no post-trade pool price, so the quote reports slippage but leaves price
// impact unset.
func (c *Client) Quote(ctx context.Context, h chain.Handle, req model.SwapRequest) (model.Quote, error) {
	trader := common.Address{}
	if h != nil {
		trader = h.Address()
	}
	payload, err := json.Marshal(quoteRequest{
		SellToken:           req.InputToken.Address.Hex(),
		BuyToken:            req.OutputToken.Address.Hex(),
		SellAmountBeforeFee: req.Amount.String(),
		From:                trader.Hex(),
		ValidTo:             c.cfg.now().Add(defaultOrderValidity).Unix(),
		Kind:                "sell",
	})
	if err != nil {
		return model.Quote{}, oerr.Wrap(oerr.CodeInternal, "marshal quote request", err)
	}
	var resp quoteResponse
	if _, err := c.http.PostJSON(ctx, c.cfg.BaseURL+"/quote", payload, nil, &resp); err != nil {
		return model.Quote{}, err
	}

	buyAmount, ok := new(big.Int).SetString(resp.Quote.BuyAmount, 10)
	if !ok {
		return model.Quote{}, oerr.New(oerr.CodeUnavailable, "quote missing buy amount")
	}
	sellAmount, ok := new(big.Int).SetString(resp.Quote.SellAmount, 10)
	if !ok {
		return model.Quote{}, oerr.New(oerr.CodeUnavailable, "quote missing sell amount")
	}
	feeAmount := big.NewInt(0)
	if resp.Quote.FeeAmount != "" {
		if parsed, ok := new(big.Int).SetString(resp.Quote.FeeAmount, 10); ok {
			feeAmount = parsed
		}
	}

	// Current price ignores the fee; execution price charges the full
	// before-fee sell amount.
	executionPrice := venues.ExecutionPrice(req, buyAmount)
	currentPrice := feeFreePrice(req, sellAmount, feeAmount, buyAmount)

	return model.Quote{
		Venue:           model.VenueOrderbook,
		AmountOut:       buyAmount,
		CurrentPrice:    currentPrice,
		ExecutionPrice:  executionPrice,
		PriceImpactPct:  nil,
		SlippagePct:     venues.SlippagePct(currentPrice, executionPrice),
		MinimumReceived: model.MinimumReceived(buyAmount, req.SlippageBps),
		GasEstimate:     submittedOrderGas,
		PoolRef:         fmt.Sprintf("quote-%d", resp.ID),
		FetchedAt:       c.cfg.now().UTC().Format(time.RFC3339),
	}, nil
}

type orderSubmission struct {
	SellToken   string `json:"sellToken"`
	BuyToken    string `json:"buyToken"`
	SellAmount  string `json:"sellAmount"`
	BuyAmount   string `json:"buyAmount"`
	ValidTo     int64  `json:"validTo"`
	Receiver    string `json:"receiver"`
	From        string `json:"from"`
	Kind        string `json:"kind"`
	Signature   string `json:"signature"`
	SigningMode string `json:"signingScheme"`
}

type orderSubmissionResponse struct {
	OrderID string `json:"orderId"`
	UID     string `json:"uid"`
}

// Execute signs the order and submits it to the relayer. No transaction is
// broadcast by the user; settlement is tracked via the order id.
func (c *Client) Execute(ctx context.Context, h chain.Handle, req model.SwapRequest, quote model.Quote) (venues.Execution, error) {
	validTo := c.cfg.now().Add(defaultOrderValidity).Unix()
	signature, err := c.signOrder(ctx, h, req, quote, validTo)
	if err != nil {
		return venues.Execution{}, err
	}

	payload, err := json.Marshal(orderSubmission{
		SellToken:   req.InputToken.Address.Hex(),
		BuyToken:    req.OutputToken.Address.Hex(),
		SellAmount:  req.Amount.String(),
		BuyAmount:   quote.MinimumReceived.String(),
		ValidTo:     validTo,
		Receiver:    h.Address().Hex(),
		From:        h.Address().Hex(),
		Kind:        "sell",
		Signature:   "0x" + hex.EncodeToString(signature),
		SigningMode: "eip712",
	})
	if err != nil {
		return venues.Execution{}, oerr.Wrap(oerr.CodeInternal, "marshal order submission", err)
	}
	var resp orderSubmissionResponse
	if _, err := c.http.PostJSON(ctx, c.cfg.BaseURL+"/order", payload, nil, &resp); err != nil {
		return venues.Execution{}, err
	}
	orderID := resp.OrderID
	if orderID == "" {
		orderID = resp.UID
	}
	if orderID == "" {
		return venues.Execution{}, oerr.New(oerr.CodeUnavailable, "order submission returned no order id")
	}
	return venues.Execution{Kind: venues.ExecutionOffchain, OrderID: orderID}, nil
}

func (c *Client) signOrder(ctx context.Context, h chain.Handle, req model.SwapRequest, quote model.Quote, validTo int64) ([]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "sellToken", Type: "address"},
				{Name: "buyToken", Type: "address"},
				{Name: "receiver", Type: "address"},
				{Name: "sellAmount", Type: "uint256"},
				{Name: "buyAmount", Type: "uint256"},
				{Name: "validTo", Type: "uint32"},
				{Name: "kind", Type: "string"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Outcome Orderbook",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(c.cfg.ChainID),
			VerifyingContract: c.cfg.Settlement.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"sellToken":  req.InputToken.Address.Hex(),
			"buyToken":   req.OutputToken.Address.Hex(),
			"receiver":   h.Address().Hex(),
			"sellAmount": req.Amount.String(),
			"buyAmount":  quote.MinimumReceived.String(),
			"validTo":    big.NewInt(validTo),
			"kind":       "sell",
		},
	}
	return h.SignTypedData(ctx, td)
}

// OrderState mirrors the status endpoint's terminal and non-terminal
// states.
type OrderState string

const (
	OrderStateOpen      OrderState = "open"
	OrderStateFulfilled OrderState = "fulfilled"
	OrderStateExpired   OrderState = "expired"
	OrderStateCancelled OrderState = "cancelled"
)

// OrderInfo is one snapshot of an off-chain order.
type OrderInfo struct {
	OrderID           string     `json:"orderId"`
	State             OrderState `json:"status"`
	ExecutedBuyAmount string     `json:"executedBuyAmount"`
}

// ExecutedOut parses the realized output amount, when present.
func (o OrderInfo) ExecutedOut() (*big.Int, bool) {
	if o.ExecutedBuyAmount == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(o.ExecutedBuyAmount, 10)
	return v, ok
}

// GetOrder fetches the current status of a submitted order. A 404 surfaces
// as CodeOrderNotFound.
func (c *Client) GetOrder(ctx context.Context, orderID string) (OrderInfo, error) {
	var info OrderInfo
	if _, err := c.http.GetJSON(ctx, c.cfg.BaseURL+"/order/"+orderID, nil, &info); err != nil {
		return OrderInfo{}, err
	}
	if info.OrderID == "" {
		info.OrderID = orderID
	}
	return info, nil
}

// feeFreePrice recomputes the execution price as if the fee were zero,
// which stands in for the venue's current price.
func feeFreePrice(req model.SwapRequest, sellAmount, feeAmount, buyAmount *big.Int) float64 {
	netSell := new(big.Int).Sub(sellAmount, feeAmount)
	if netSell.Sign() <= 0 {
		return venues.ExecutionPrice(req, buyAmount)
	}
	adjusted := req
	adjusted.Amount = netSell
	return venues.ExecutionPrice(adjusted, buyAmount)
}
