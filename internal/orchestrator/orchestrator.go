// Package orchestrator drives one swap request through its full
// lifecycle: collateral minting, authorizations, venue execution, and
// confirmation or off-chain fill tracking.
package orchestrator

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/outcome-labs/oswap/internal/approvals"
	"github.com/outcome-labs/oswap/internal/chain"
	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/model"
	"github.com/outcome-labs/oswap/internal/orders"
	"github.com/outcome-labs/oswap/internal/venues"
)

// Addresses are the chain-level collaborators shared by every venue.
type Addresses struct {
	ConditionalTokens common.Address
}

// Options wires an Orchestrator.
type Options struct {
	Handle    chain.Handle
	Venues    *venues.Registry
	Approvals *approvals.Manager
	Tracker   *orders.Tracker
	Addresses Addresses
	Journal   *Journal
	// FireAndForget suppresses confirmation waits for smart-contract
	// wallets; submitted transactions are reported complete optimistically.
	FireAndForget bool
	// UnlimitedApprovals grants MAX token allowances instead of the exact
	// required amount.
	UnlimitedApprovals bool

	now func() time.Time
}

// RunResult is the terminal outcome of one run.
type RunResult struct {
	RunID   string      `json:"run_id"`
	State   State       `json:"state"`
	Plan    Plan        `json:"plan"`
	TxHash  common.Hash `json:"tx_hash,omitempty"`
	OrderID string      `json:"order_id,omitempty"`
	// RealizedOut is the venue-reported output when available, else the
	// pre-trade estimate.
	RealizedOut *big.Int `json:"realized_out,omitempty"`
	// Deferred marks the fire-and-forget path: steps completed
	// optimistically, real outcome knowable only via the multisig service.
	Deferred bool   `json:"deferred,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Orchestrator processes one request start to finish with no internal
// parallelism. It is single-flight: a second Execute while a run is in
// progress or unreset is rejected at the entry point.
type Orchestrator struct {
	opts Options

	mu    sync.Mutex
	state State
}

func New(opts Options) *Orchestrator {
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Orchestrator{opts: opts, state: StateIdle}
}

// State reports the machine's current position.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Reset returns a terminal machine to Idle. Resetting a run still in
// flight is refused.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle && !o.state.Terminal() {
		return oerr.New(oerr.CodeUsage, "cannot reset while an execution is in flight")
	}
	o.state = StateIdle
	return nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Execute runs the full state machine for one request. The quote must
// come from the venue named in the request.
func (o *Orchestrator) Execute(ctx context.Context, req model.SwapRequest, quote model.Quote) (RunResult, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return RunResult{}, oerr.New(oerr.CodeUsage, "an execution is already in progress; reset before starting another")
	}
	o.state = StateCollateralPending
	o.mu.Unlock()

	result := RunResult{RunID: NewRunID(), Plan: newPlan(req.Action)}
	o.journal(req, &result)

	err := o.run(ctx, req, quote, &result)
	if err != nil {
		classified := oerr.Classify(err)
		result.Error = classified.Error()
		result.State = StateFailed
		o.setState(StateFailed)
		o.journal(req, &result)
		return result, classified
	}
	result.State = StateCompleted
	o.setState(StateCompleted)
	o.journal(req, &result)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, req model.SwapRequest, quote model.Quote, result *RunResult) error {
	switch req.Action {
	case model.ActionRedeem, model.ActionRecover:
		return o.runMerge(ctx, req, result)
	}

	if err := o.collateralStage(ctx, req, result); err != nil {
		result.Plan.mark(StepCollateral, StepFailed)
		return err
	}

	o.setState(StateApprovalPending)
	strategy, ok := o.opts.Venues.Get(req.Venue)
	if !ok {
		return oerr.New(oerr.CodeUnsupported, "no strategy registered for venue "+string(req.Venue))
	}
	if err := o.approvalStage(ctx, req, strategy.ApprovalPlan(), result); err != nil {
		result.Plan.mark(StepApproval, StepFailed)
		return err
	}

	o.setState(StateExecuting)
	result.Plan.mark(StepExecute, StepActive)
	execution, err := strategy.Execute(ctx, o.opts.Handle, req, quote)
	if err != nil {
		result.Plan.mark(StepExecute, StepFailed)
		return err
	}
	result.Plan.mark(StepExecute, StepComplete)

	switch execution.Kind {
	case venues.ExecutionOffchain:
		o.setState(StateAwaitingOffchainFill)
		result.OrderID = execution.OrderID
		return o.awaitFill(ctx, execution.OrderID, quote, result)
	default:
		o.setState(StateConfirming)
		result.TxHash = execution.Pending.Hash
		return o.confirm(ctx, execution.Pending, quote, result)
	}
}

// collateralStage mints outcome-token pairs from collateral when the
// request spends an outcome token the account does not fully hold. Buys
// always spend an outcome token (the unwanted side of the minted pair),
// so a buy with no existing position enters this stage; requests that
// already hold the position, or that spend collateral directly, skip it
// in place.
func (o *Orchestrator) collateralStage(ctx context.Context, req model.SwapRequest, result *RunResult) error {
	if req.InputToken.Address == req.Market.Collateral.Address {
		result.Plan.mark(StepCollateral, StepSkipped)
		return nil
	}
	shortfall, err := positionShortfall(ctx, o.opts.Handle, req.InputToken.Address, req.Amount)
	if err != nil {
		return err
	}
	if shortfall.Sign() == 0 {
		result.Plan.mark(StepCollateral, StepSkipped)
		return nil
	}

	result.Plan.mark(StepCollateral, StepActive)
	funds, err := chain.ERC20BalanceOf(ctx, o.opts.Handle, req.Market.Collateral.Address, o.opts.Handle.Address())
	if err != nil {
		return err
	}
	if funds.Cmp(shortfall) < 0 {
		return oerr.New(oerr.CodeInsufficientBalance, "collateral balance cannot fund the position mint")
	}

	result.Plan.markSubstep(StepCollateral, "collateral authorization", StepActive)
	res, err := o.opts.Approvals.EnsureAllowance(ctx,
		req.Market.Collateral.Address, o.opts.Addresses.ConditionalTokens, shortfall, o.opts.UnlimitedApprovals)
	if err != nil {
		return err
	}
	result.Plan.markSubstep(StepCollateral, "collateral authorization", StepComplete)
	if res.Deferred {
		result.Deferred = true
	}

	result.Plan.markSubstep(StepCollateral, "mint position", StepActive)
	pending, err := splitCollateral(ctx, o.opts.Handle, o.opts.Addresses.ConditionalTokens, req.Market, shortfall)
	if err != nil {
		return err
	}
	if o.opts.FireAndForget {
		result.Deferred = true
	} else if _, err := pending.Wait(ctx); err != nil {
		return err
	}
	result.Plan.markSubstep(StepCollateral, "mint position", StepComplete)
	result.Plan.mark(StepCollateral, StepComplete)
	return nil
}

// approvalStage authorizes the spent token to the venue's spender.
// Authorizations that turn out to already be satisfied are marked
// complete immediately rather than shown in progress.
func (o *Orchestrator) approvalStage(ctx context.Context, req model.SwapRequest, plan venues.ApprovalPlan, result *RunResult) error {
	result.Plan.mark(StepApproval, StepActive)

	if !plan.TwoHop {
		result.Plan.markSubstep(StepApproval, "token authorization", StepActive)
		res, err := o.opts.Approvals.EnsureAllowance(ctx, req.InputToken.Address, plan.Spender, req.Amount, o.opts.UnlimitedApprovals)
		if err != nil {
			return err
		}
		if res.Deferred {
			result.Deferred = true
		}
		result.Plan.markSubstep(StepApproval, "token authorization", StepComplete)
		result.Plan.markSubstep(StepApproval, "registry authorization", StepSkipped)
		result.Plan.mark(StepApproval, StepComplete)
		return nil
	}

	result.Plan.markSubstep(StepApproval, "token authorization", StepActive)
	res, err := o.opts.Approvals.EnsureAllowance(ctx, req.InputToken.Address, plan.Registry, req.Amount, o.opts.UnlimitedApprovals)
	if err != nil {
		return err
	}
	if res.Deferred {
		result.Deferred = true
	}
	result.Plan.markSubstep(StepApproval, "token authorization", StepComplete)

	result.Plan.markSubstep(StepApproval, "registry authorization", StepActive)
	res, err = o.opts.Approvals.EnsureRegistryAllowance(ctx, plan.Registry, req.InputToken.Address, plan.Spender, req.Amount)
	if err != nil {
		return err
	}
	if res.Deferred {
		result.Deferred = true
	}
	result.Plan.markSubstep(StepApproval, "registry authorization", StepComplete)
	result.Plan.mark(StepApproval, StepComplete)
	return nil
}

// awaitFill tracks a submitted off-chain order to a terminal state.
func (o *Orchestrator) awaitFill(ctx context.Context, orderID string, quote model.Quote, result *RunResult) error {
	result.Plan.mark(StepConfirm, StepActive)
	update, err := o.opts.Tracker.Await(ctx, orderID)
	if err != nil {
		result.Plan.mark(StepConfirm, StepFailed)
		return err
	}
	if update.ExecutedOut != nil {
		result.RealizedOut = update.ExecutedOut
	} else {
		result.RealizedOut = quote.AmountOut
	}
	result.Plan.mark(StepConfirm, StepComplete)
	return nil
}

// confirm waits for the swap receipt. A reverted receipt is classified
// before surfacing.
func (o *Orchestrator) confirm(ctx context.Context, pending *chain.PendingTx, quote model.Quote, result *RunResult) error {
	result.Plan.mark(StepConfirm, StepActive)
	if o.opts.FireAndForget {
		result.Deferred = true
		result.RealizedOut = quote.AmountOut
		result.Plan.mark(StepConfirm, StepComplete)
		return nil
	}
	receipt, err := pending.Wait(ctx)
	if err != nil {
		result.Plan.mark(StepConfirm, StepFailed)
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		result.Plan.mark(StepConfirm, StepFailed)
		return oerr.ClassifyReceipt(receipt)
	}
	result.RealizedOut = quote.AmountOut
	result.Plan.mark(StepConfirm, StepComplete)
	return nil
}

// runMerge handles the position maintenance actions: redeem and recover
// both burn matched outcome token pairs back into collateral.
func (o *Orchestrator) runMerge(ctx context.Context, req model.SwapRequest, result *RunResult) error {
	o.setState(StateApprovalPending)
	result.Plan.mark(StepApproval, StepActive)
	result.Plan.markSubstep(StepApproval, "outcome token authorization", StepActive)
	for _, token := range []common.Address{req.Market.OutcomeA.Address, req.Market.OutcomeB.Address} {
		res, err := o.opts.Approvals.EnsureAllowance(ctx, token, o.opts.Addresses.ConditionalTokens, req.Amount, o.opts.UnlimitedApprovals)
		if err != nil {
			result.Plan.mark(StepApproval, StepFailed)
			return err
		}
		if res.Deferred {
			result.Deferred = true
		}
	}
	result.Plan.markSubstep(StepApproval, "outcome token authorization", StepComplete)
	result.Plan.mark(StepApproval, StepComplete)

	o.setState(StateExecuting)
	result.Plan.mark(StepExecute, StepActive)
	pending, err := mergePositions(ctx, o.opts.Handle, o.opts.Addresses.ConditionalTokens, req.Market, req.Amount)
	if err != nil {
		result.Plan.mark(StepExecute, StepFailed)
		return err
	}
	result.Plan.mark(StepExecute, StepComplete)
	result.TxHash = pending.Hash

	o.setState(StateConfirming)
	return o.confirm(ctx, pending, model.Quote{AmountOut: req.Amount}, result)
}

func (o *Orchestrator) journal(req model.SwapRequest, result *RunResult) {
	if o.opts.Journal == nil {
		return
	}
	_ = o.opts.Journal.Save(Run{
		RunID:     result.RunID,
		Action:    string(req.Action),
		Venue:     string(req.Venue),
		State:     string(o.stateForJournal(result)),
		Request:   req,
		Result:    *result,
		UpdatedAt: o.opts.now().UTC().Format(time.RFC3339),
	})
}

func (o *Orchestrator) stateForJournal(result *RunResult) State {
	if result.State != "" {
		return result.State
	}
	return o.State()
}
