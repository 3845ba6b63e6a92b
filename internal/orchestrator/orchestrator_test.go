package orchestrator

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/outcome-labs/oswap/internal/approvals"
	"github.com/outcome-labs/oswap/internal/chain"
	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/model"
	"github.com/outcome-labs/oswap/internal/orders"
	"github.com/outcome-labs/oswap/internal/registry"
	"github.com/outcome-labs/oswap/internal/venues"
	"github.com/outcome-labs/oswap/internal/venues/orderbook"
)

var (
	testOwner             = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testConditionalTokens = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testRouter            = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	testRegistry          = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	testCollateral        = common.HexToAddress("0x0000000000000000000000000000000000000011")
	testOutcomeA          = common.HexToAddress("0x0000000000000000000000000000000000000012")
	testOutcomeB          = common.HexToAddress("0x0000000000000000000000000000000000000013")
)

func testMarket() model.Market {
	return model.Market{
		ConditionID: common.HexToHash("0x01"),
		Collateral:  model.Token{Address: testCollateral, Symbol: "USDC", Decimals: 6},
		OutcomeA:    model.Token{Address: testOutcomeA, Symbol: "YES", Decimals: 6},
		OutcomeB:    model.Token{Address: testOutcomeB, Symbol: "NO", Decimals: 6},
	}
}

// fakeBackend serves receipts for every transaction hash. The zero value
// reports every transaction as successful.
type fakeBackend struct {
	receipt *types.Receipt
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if b.receipt != nil {
		return b.receipt, nil
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}, nil
}

func (b *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("not implemented")
}
func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (b *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }
func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1)}, nil
}
func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (b *fakeBackend) SendTransaction(context.Context, *types.Transaction) error {
	return errors.New("not implemented")
}

// fakeHandle simulates token state behind the Handle surface. Reads
// dispatch on the 4-byte selector; approve transactions mutate state the
// way the contracts would.
type fakeHandle struct {
	backend *fakeBackend

	mu                 sync.Mutex
	balances           map[common.Address]*big.Int
	allowances         map[string]*big.Int
	registryAllowances map[string]registryGrant
	sent               []chain.TxRequest
}

type registryGrant struct {
	amount     *big.Int
	expiration int64
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		backend:            &fakeBackend{},
		balances:           make(map[common.Address]*big.Int),
		allowances:         make(map[string]*big.Int),
		registryAllowances: make(map[string]registryGrant),
	}
}

func allowanceKey(token, spender common.Address) string { return token.Hex() + "|" + spender.Hex() }

func (f *fakeHandle) setBalance(token common.Address, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[token] = v
}

func (f *fakeHandle) setAllowance(token, spender common.Address, v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowances[allowanceKey(token, spender)] = v
}

func (f *fakeHandle) sentTo(to common.Address) []chain.TxRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chain.TxRequest
	for _, req := range f.sent {
		if req.To != nil && *req.To == to {
			out = append(out, req)
		}
	}
	return out
}

func (f *fakeHandle) Address() common.Address { return testOwner }
func (f *fakeHandle) ChainID() *big.Int       { return big.NewInt(100) }

func (f *fakeHandle) ReadCall(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(msg.Data) < 4 || msg.To == nil {
		return nil, errors.New("malformed call")
	}
	selector := [4]byte(msg.Data[:4])

	switch selector {
	case [4]byte(registry.ERC20.Methods["allowance"].ID):
		args, err := registry.ERC20.Methods["allowance"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		spender := args[1].(common.Address)
		current := f.allowances[allowanceKey(*msg.To, spender)]
		if current == nil {
			current = big.NewInt(0)
		}
		return registry.ERC20.Methods["allowance"].Outputs.Pack(current)

	case [4]byte(registry.ERC20.Methods["balanceOf"].ID):
		balance := f.balances[*msg.To]
		if balance == nil {
			balance = big.NewInt(0)
		}
		return registry.ERC20.Methods["balanceOf"].Outputs.Pack(balance)

	case [4]byte(registry.AllowanceRegistry.Methods["allowance"].ID):
		args, err := registry.AllowanceRegistry.Methods["allowance"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		token := args[1].(common.Address)
		spender := args[2].(common.Address)
		grant := f.registryAllowances[allowanceKey(token, spender)]
		amount := grant.amount
		if amount == nil {
			amount = big.NewInt(0)
		}
		return registry.AllowanceRegistry.Methods["allowance"].Outputs.Pack(
			amount, big.NewInt(grant.expiration), big.NewInt(0))
	}
	return nil, errors.New("unexpected read call")
}

func (f *fakeHandle) SendTransaction(_ context.Context, req chain.TxRequest) (*chain.PendingTx, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.applyLocked(req)
	f.mu.Unlock()

	var hash common.Hash
	if _, err := rand.Read(hash[:]); err != nil {
		return nil, err
	}
	return chain.NewPending(f.backend, hash, time.Second), nil
}

// applyLocked mutates token state for recognized approve calls so the
// post-mutation allowance re-read observes the new grant.
func (f *fakeHandle) applyLocked(req chain.TxRequest) {
	if req.To == nil || len(req.Data) < 4 {
		return
	}
	selector := [4]byte(req.Data[:4])

	switch selector {
	case [4]byte(registry.ERC20.Methods["approve"].ID):
		args, err := registry.ERC20.Methods["approve"].Inputs.Unpack(req.Data[4:])
		if err != nil {
			return
		}
		spender := args[0].(common.Address)
		amount := args[1].(*big.Int)
		f.allowances[allowanceKey(*req.To, spender)] = amount

	case [4]byte(registry.AllowanceRegistry.Methods["approve"].ID):
		args, err := registry.AllowanceRegistry.Methods["approve"].Inputs.Unpack(req.Data[4:])
		if err != nil {
			return
		}
		token := args[0].(common.Address)
		spender := args[1].(common.Address)
		amount := args[2].(*big.Int)
		expiration := args[3].(*big.Int)
		f.registryAllowances[allowanceKey(token, spender)] = registryGrant{
			amount:     amount,
			expiration: expiration.Int64(),
		}
	}
}

func (f *fakeHandle) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}
func (f *fakeHandle) Balance(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeHandle) Nonce(context.Context, common.Address) (uint64, error) { return 0, nil }
func (f *fakeHandle) SignMessage(context.Context, []byte) ([]byte, error) {
	return []byte{0x01}, nil
}
func (f *fakeHandle) SignTypedData(context.Context, apitypes.TypedData) ([]byte, error) {
	return []byte{0x01}, nil
}

// fakeVenue is a strategy with a fixed approval plan. Execution either
// submits one transaction through the handle or hands back an off-chain
// order id.
type fakeVenue struct {
	venue   model.Venue
	plan    venues.ApprovalPlan
	orderID string
	execErr error
}

func (v *fakeVenue) Venue() model.Venue                { return v.venue }
func (v *fakeVenue) ApprovalPlan() venues.ApprovalPlan { return v.plan }

func (v *fakeVenue) Quote(context.Context, chain.Handle, model.SwapRequest) (model.Quote, error) {
	return model.Quote{Venue: v.venue}, nil
}

func (v *fakeVenue) Execute(ctx context.Context, h chain.Handle, _ model.SwapRequest, _ model.Quote) (venues.Execution, error) {
	if v.execErr != nil {
		return venues.Execution{}, v.execErr
	}
	if v.orderID != "" {
		return venues.Execution{Kind: venues.ExecutionOffchain, OrderID: v.orderID}, nil
	}
	pending, err := h.SendTransaction(ctx, chain.TxRequest{To: &testRouter, Data: []byte{0xde, 0xad, 0xbe, 0xef}})
	if err != nil {
		return venues.Execution{}, err
	}
	return venues.Execution{Kind: venues.ExecutionOnchain, Pending: pending}, nil
}

type fulfilledFetcher struct {
	executed string
}

func (f fulfilledFetcher) GetOrder(_ context.Context, orderID string) (orderbook.OrderInfo, error) {
	return orderbook.OrderInfo{
		OrderID:           orderID,
		State:             orderbook.OrderStateFulfilled,
		ExecutedBuyAmount: f.executed,
	}, nil
}

func newTestOrchestrator(handle *fakeHandle, strategy venues.Strategy, tracker *orders.Tracker) *Orchestrator {
	return New(Options{
		Handle:    handle,
		Venues:    venues.NewRegistry(strategy),
		Approvals: approvals.NewManager(handle),
		Tracker:   tracker,
		Addresses: Addresses{ConditionalTokens: testConditionalTokens},
	})
}

func stepStatus(t *testing.T, plan Plan, id StepID) StepStatus {
	t.Helper()
	s := plan.step(id)
	if s == nil {
		t.Fatalf("plan has no %s step", id)
	}
	return s.Status
}

func substepStatus(t *testing.T, plan Plan, id StepID, name string) StepStatus {
	t.Helper()
	s := plan.step(id)
	if s == nil {
		t.Fatalf("plan has no %s step", id)
	}
	for _, sub := range s.Substeps {
		if sub.Name == name {
			return sub.Status
		}
	}
	t.Fatalf("step %s has no substep %q", id, name)
	return ""
}

func TestExecuteSellWithShortfallRunsAllStages(t *testing.T) {
	handle := newFakeHandle()
	market := testMarket()
	// The account holds 40 outcome tokens but wants to sell 100, so 60
	// must be minted from collateral first.
	handle.setBalance(testOutcomeA, big.NewInt(40))
	handle.setBalance(testCollateral, big.NewInt(60))

	strategy := &fakeVenue{venue: model.VenueCLAMM, plan: venues.ApprovalPlan{Spender: testRouter}}
	orch := newTestOrchestrator(handle, strategy, nil)

	req := model.SwapRequest{
		Action:      model.ActionSell,
		Outcome:     model.OutcomeA,
		Market:      market,
		InputToken:  market.OutcomeA,
		OutputToken: market.Collateral,
		Amount:      big.NewInt(100),
		Venue:       model.VenueCLAMM,
	}
	quote := model.Quote{Venue: model.VenueCLAMM, AmountOut: big.NewInt(97)}

	result, err := orch.Execute(context.Background(), req, quote)
	if err != nil {
		t.Fatal(err)
	}
	if result.State != StateCompleted {
		t.Fatalf("state = %s, want completed", result.State)
	}
	if orch.State() != StateCompleted {
		t.Fatalf("machine state = %s, want completed", orch.State())
	}

	for _, id := range []StepID{StepCollateral, StepApproval, StepExecute, StepConfirm} {
		if got := stepStatus(t, result.Plan, id); got != StepComplete {
			t.Fatalf("step %s = %s, want complete", id, got)
		}
	}
	if got := substepStatus(t, result.Plan, StepApproval, "registry authorization"); got != StepSkipped {
		t.Fatalf("registry substep = %s, want skipped for a single-hop venue", got)
	}

	// collateral approval + split on the conditional tokens contract
	ctTxs := handle.sentTo(testConditionalTokens)
	if len(ctTxs) != 1 {
		t.Fatalf("conditional tokens received %d transactions, want 1 split", len(ctTxs))
	}
	splitID := registry.ConditionalTokens.Methods["splitPosition"].ID
	if string(ctTxs[0].Data[:4]) != string(splitID) {
		t.Fatal("transaction to conditional tokens is not splitPosition")
	}
	// approvals went to the collateral token and outcome token contracts
	if len(handle.sentTo(testCollateral)) != 1 {
		t.Fatal("collateral approval was not submitted")
	}
	if len(handle.sentTo(testOutcomeA)) != 1 {
		t.Fatal("outcome token approval was not submitted")
	}
	if len(handle.sentTo(testRouter)) != 1 {
		t.Fatal("venue execution was not submitted")
	}
	if result.TxHash == (common.Hash{}) {
		t.Fatal("tx hash not recorded")
	}
	if result.RealizedOut.Cmp(quote.AmountOut) != 0 {
		t.Fatalf("realized out = %s, want %s", result.RealizedOut, quote.AmountOut)
	}
	if result.RunID == "" {
		t.Fatal("run id not assigned")
	}
}

// buyRequest spends the opposite outcome token: buying A mints pairs
// from collateral and sells off the B side.
func buyRequest(market model.Market, amount int64) model.SwapRequest {
	return model.SwapRequest{
		Action:      model.ActionBuy,
		Outcome:     model.OutcomeA,
		Market:      market,
		InputToken:  market.OutcomeB,
		OutputToken: market.Collateral,
		Amount:      big.NewInt(amount),
		Venue:       model.VenuePairAMM,
	}
}

func TestExecuteBuyWithoutPositionRunsAllStages(t *testing.T) {
	handle := newFakeHandle()
	market := testMarket()
	// No position at all: the full pair must be minted before the
	// unwanted side can be sold.
	handle.setBalance(testCollateral, big.NewInt(100))

	strategy := &fakeVenue{venue: model.VenuePairAMM, plan: venues.ApprovalPlan{Spender: testRouter}}
	orch := newTestOrchestrator(handle, strategy, nil)

	result, err := orch.Execute(context.Background(), buyRequest(market, 100), model.Quote{AmountOut: big.NewInt(48)})
	if err != nil {
		t.Fatal(err)
	}
	if result.State != StateCompleted {
		t.Fatalf("state = %s, want completed", result.State)
	}
	for _, id := range []StepID{StepCollateral, StepApproval, StepExecute, StepConfirm} {
		if got := stepStatus(t, result.Plan, id); got != StepComplete {
			t.Fatalf("step %s = %s, want complete", id, got)
		}
	}
	for _, sub := range []string{"collateral authorization", "mint position"} {
		if got := substepStatus(t, result.Plan, StepCollateral, sub); got != StepComplete {
			t.Fatalf("substep %q = %s, want complete", sub, got)
		}
	}

	ctTxs := handle.sentTo(testConditionalTokens)
	if len(ctTxs) != 1 {
		t.Fatalf("conditional tokens received %d transactions, want 1 split", len(ctTxs))
	}
	splitID := registry.ConditionalTokens.Methods["splitPosition"].ID
	if string(ctTxs[0].Data[:4]) != string(splitID) {
		t.Fatal("transaction to conditional tokens is not splitPosition")
	}
	// collateral authorized for the mint, the spent outcome token for
	// the venue, then the swap itself
	if len(handle.sentTo(testCollateral)) != 1 {
		t.Fatal("collateral approval was not submitted")
	}
	if len(handle.sentTo(testOutcomeB)) != 1 {
		t.Fatal("spent outcome token approval was not submitted")
	}
	if len(handle.sentTo(testRouter)) != 1 {
		t.Fatal("venue execution was not submitted")
	}
}

func TestExecuteBuyWithExistingPositionSkipsMint(t *testing.T) {
	handle := newFakeHandle()
	market := testMarket()
	handle.setBalance(testOutcomeB, big.NewInt(100))
	handle.setAllowance(testOutcomeB, testRouter, approvals.MaxUint256)

	strategy := &fakeVenue{venue: model.VenuePairAMM, plan: venues.ApprovalPlan{Spender: testRouter}}
	orch := newTestOrchestrator(handle, strategy, nil)

	result, err := orch.Execute(context.Background(), buyRequest(market, 100), model.Quote{AmountOut: big.NewInt(48)})
	if err != nil {
		t.Fatal(err)
	}
	if got := stepStatus(t, result.Plan, StepCollateral); got != StepSkipped {
		t.Fatalf("collateral step = %s, want skipped", got)
	}
	if len(handle.sentTo(testConditionalTokens)) != 0 {
		t.Fatal("pair was minted despite a covering position")
	}
	// allowance already covered: no approval transaction either
	if len(handle.sentTo(testOutcomeB)) != 0 {
		t.Fatal("approval re-submitted despite sufficient allowance")
	}
}

func TestExecuteMintWithInsufficientCollateralFails(t *testing.T) {
	handle := newFakeHandle()
	market := testMarket()
	// Empty account: nothing to sell and nothing to fund the mint with.

	strategy := &fakeVenue{venue: model.VenuePairAMM, plan: venues.ApprovalPlan{Spender: testRouter}}
	orch := newTestOrchestrator(handle, strategy, nil)

	result, err := orch.Execute(context.Background(), buyRequest(market, 100), model.Quote{AmountOut: big.NewInt(48)})
	if !oerr.HasCode(err, oerr.CodeInsufficientBalance) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}
	if result.State != StateFailed {
		t.Fatalf("state = %s, want failed", result.State)
	}
	if got := stepStatus(t, result.Plan, StepCollateral); got != StepFailed {
		t.Fatalf("collateral step = %s, want failed", got)
	}
	if len(handle.sent) != 0 {
		t.Fatal("nothing should be submitted when the mint cannot be funded")
	}
}

func TestExecuteSkipsMintForCollateralInput(t *testing.T) {
	handle := newFakeHandle()
	market := testMarket()
	handle.setAllowance(testCollateral, testRouter, approvals.MaxUint256)

	strategy := &fakeVenue{venue: model.VenuePairAMM, plan: venues.ApprovalPlan{Spender: testRouter}}
	orch := newTestOrchestrator(handle, strategy, nil)

	req := model.SwapRequest{
		Action:      model.ActionSell,
		Outcome:     model.OutcomeA,
		Market:      market,
		InputToken:  market.Collateral,
		OutputToken: market.OutcomeA,
		Amount:      big.NewInt(100),
		Venue:       model.VenuePairAMM,
	}

	result, err := orch.Execute(context.Background(), req, model.Quote{AmountOut: big.NewInt(95)})
	if err != nil {
		t.Fatal(err)
	}
	if got := stepStatus(t, result.Plan, StepCollateral); got != StepSkipped {
		t.Fatalf("collateral step = %s, want skipped", got)
	}
	if len(handle.sentTo(testConditionalTokens)) != 0 {
		t.Fatal("collateral was minted for a collateral-spending request")
	}
}

func TestExecuteTwoHopApproval(t *testing.T) {
	handle := newFakeHandle()
	market := testMarket()
	handle.setBalance(testOutcomeA, big.NewInt(100))

	strategy := &fakeVenue{
		venue: model.VenueCLAMM,
		plan:  venues.ApprovalPlan{Spender: testRouter, Registry: testRegistry, TwoHop: true},
	}
	orch := newTestOrchestrator(handle, strategy, nil)

	req := model.SwapRequest{
		Action:     model.ActionSell,
		Market:     market,
		InputToken: market.OutcomeA,
		Amount:     big.NewInt(100),
		Venue:      model.VenueCLAMM,
	}

	result, err := orch.Execute(context.Background(), req, model.Quote{AmountOut: big.NewInt(90)})
	if err != nil {
		t.Fatal(err)
	}
	if got := substepStatus(t, result.Plan, StepApproval, "token authorization"); got != StepComplete {
		t.Fatalf("token substep = %s", got)
	}
	if got := substepStatus(t, result.Plan, StepApproval, "registry authorization"); got != StepComplete {
		t.Fatalf("registry substep = %s", got)
	}
	// hop one approves the registry on the token, hop two grants the
	// spender through the registry contract
	tokenTxs := handle.sentTo(testOutcomeA)
	if len(tokenTxs) != 1 {
		t.Fatalf("token received %d transactions, want 1", len(tokenTxs))
	}
	if len(handle.sentTo(testRegistry)) != 1 {
		t.Fatal("registry grant was not submitted")
	}
}

func TestExecuteOffchainFill(t *testing.T) {
	handle := newFakeHandle()
	market := testMarket()
	handle.setBalance(testOutcomeA, big.NewInt(100))
	tracker := orders.NewTracker(fulfilledFetcher{executed: "1234"})

	strategy := &fakeVenue{
		venue:   model.VenueOrderbook,
		plan:    venues.ApprovalPlan{Spender: testRouter},
		orderID: "ord-77",
	}
	orch := newTestOrchestrator(handle, strategy, tracker)

	req := model.SwapRequest{
		Action:     model.ActionSell,
		Market:     market,
		InputToken: market.OutcomeA,
		Amount:     big.NewInt(100),
		Venue:      model.VenueOrderbook,
	}

	result, err := orch.Execute(context.Background(), req, model.Quote{AmountOut: big.NewInt(1200)})
	if err != nil {
		t.Fatal(err)
	}
	if result.OrderID != "ord-77" {
		t.Fatalf("order id = %q", result.OrderID)
	}
	if result.TxHash != (common.Hash{}) {
		t.Fatal("off-chain fill should not record a swap tx hash")
	}
	if result.RealizedOut.String() != "1234" {
		t.Fatalf("realized out = %s, want the venue-reported fill", result.RealizedOut)
	}
	if got := stepStatus(t, result.Plan, StepConfirm); got != StepComplete {
		t.Fatalf("confirm step = %s", got)
	}
}

func TestExecuteRevertedReceiptClassified(t *testing.T) {
	handle := newFakeHandle()
	market := testMarket()
	handle.setBalance(testOutcomeB, big.NewInt(100))
	handle.setAllowance(testOutcomeB, testRouter, approvals.MaxUint256)
	handle.backend.receipt = &types.Receipt{
		Status: types.ReceiptStatusFailed,
		Logs:   []*types.Log{{Data: encodeRevertLog("Too little received")}},
	}

	strategy := &fakeVenue{venue: model.VenueCLAMM, plan: venues.ApprovalPlan{Spender: testRouter}}
	orch := newTestOrchestrator(handle, strategy, nil)

	req := buyRequest(market, 100)
	req.Venue = model.VenueCLAMM

	result, err := orch.Execute(context.Background(), req, model.Quote{AmountOut: big.NewInt(95)})
	if !oerr.HasCode(err, oerr.CodeSlippageExceeded) {
		t.Fatalf("err = %v, want slippage exceeded", err)
	}
	if result.State != StateFailed {
		t.Fatalf("state = %s, want failed", result.State)
	}
	if got := stepStatus(t, result.Plan, StepConfirm); got != StepFailed {
		t.Fatalf("confirm step = %s, want failed", got)
	}
}

func TestExecuteIsSingleFlight(t *testing.T) {
	handle := newFakeHandle()
	market := testMarket()
	handle.setBalance(testOutcomeB, big.NewInt(1))
	handle.setAllowance(testOutcomeB, testRouter, approvals.MaxUint256)

	strategy := &fakeVenue{venue: model.VenueCLAMM, plan: venues.ApprovalPlan{Spender: testRouter}}
	orch := newTestOrchestrator(handle, strategy, nil)

	req := buyRequest(market, 1)
	req.Venue = model.VenueCLAMM
	quote := model.Quote{AmountOut: big.NewInt(1)}

	if _, err := orch.Execute(context.Background(), req, quote); err != nil {
		t.Fatal(err)
	}
	if _, err := orch.Execute(context.Background(), req, quote); !oerr.HasCode(err, oerr.CodeUsage) {
		t.Fatalf("second execute err = %v, want usage error", err)
	}
	if err := orch.Reset(); err != nil {
		t.Fatal(err)
	}
	if orch.State() != StateIdle {
		t.Fatalf("state after reset = %s", orch.State())
	}
	if _, err := orch.Execute(context.Background(), req, quote); err != nil {
		t.Fatalf("execute after reset failed: %v", err)
	}
}

func TestRedeemMergesPositions(t *testing.T) {
	handle := newFakeHandle()
	market := testMarket()

	strategy := &fakeVenue{venue: model.VenueCLAMM, plan: venues.ApprovalPlan{Spender: testRouter}}
	orch := newTestOrchestrator(handle, strategy, nil)

	req := model.SwapRequest{
		Action: model.ActionRedeem,
		Market: market,
		Amount: big.NewInt(50),
	}

	result, err := orch.Execute(context.Background(), req, model.Quote{})
	if err != nil {
		t.Fatal(err)
	}
	if result.State != StateCompleted {
		t.Fatalf("state = %s", result.State)
	}
	if result.Plan.step(StepCollateral) != nil {
		t.Fatal("maintenance plan should not carry a collateral stage")
	}
	if result.RealizedOut.Cmp(req.Amount) != 0 {
		t.Fatalf("realized out = %s, want %s", result.RealizedOut, req.Amount)
	}

	// one approval per outcome token, then the merge
	if len(handle.sentTo(testOutcomeA)) != 1 || len(handle.sentTo(testOutcomeB)) != 1 {
		t.Fatal("both outcome tokens must be authorized before merging")
	}
	ctTxs := handle.sentTo(testConditionalTokens)
	if len(ctTxs) != 1 {
		t.Fatalf("conditional tokens received %d transactions, want 1 merge", len(ctTxs))
	}
	mergeID := registry.ConditionalTokens.Methods["mergePositions"].ID
	if string(ctTxs[0].Data[:4]) != string(mergeID) {
		t.Fatal("transaction to conditional tokens is not mergePositions")
	}
}

// encodeRevertLog builds an ABI-encoded Error(string) payload as emitted
// in revert logs.
func encodeRevertLog(reason string) []byte {
	out := []byte{0x08, 0xc3, 0x79, 0xa0}
	offset := make([]byte, 32)
	offset[31] = 0x20
	out = append(out, offset...)
	length := make([]byte, 32)
	length[31] = byte(len(reason))
	out = append(out, length...)
	out = append(out, []byte(reason)...)
	if rem := len(reason) % 32; rem != 0 {
		out = append(out, make([]byte, 32-rem)...)
	}
	return out
}
