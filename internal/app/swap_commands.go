package app

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/httpx"
	"github.com/outcome-labs/oswap/internal/id"
	"github.com/outcome-labs/oswap/internal/model"
	"github.com/outcome-labs/oswap/internal/orchestrator"
	"github.com/outcome-labs/oswap/internal/quotes"
	"github.com/outcome-labs/oswap/internal/venues/orderbook"
)

func registerMarketFlags(cmd *cobra.Command, f *marketFlags) {
	cmd.Flags().StringVar(&f.condition, "condition", "", "Condition id (bytes32)")
	cmd.Flags().StringVar(&f.collateral, "collateral", "", "Collateral token address")
	cmd.Flags().StringVar(&f.outcomeA, "outcome-a", "", "Outcome A token address")
	cmd.Flags().StringVar(&f.outcomeB, "outcome-b", "", "Outcome B token address")
	cmd.Flags().StringVar(&f.outcome, "outcome", "a", "Traded outcome (a or b)")
	cmd.Flags().StringVar(&f.amount, "amount", "", "Trade amount in whole tokens")
	cmd.Flags().StringVar(&f.clammPool, "clamm-pool", "", "Concentrated-liquidity pool for the outcome token on the swap path")
	cmd.Flags().StringVar(&f.pair, "pair", "", "Constant-product pair for the outcome token on the swap path")
	cmd.Flags().StringVar(&f.settlement, "settlement", "", "Order book settlement contract address")
	_ = cmd.MarkFlagRequired("condition")
	_ = cmd.MarkFlagRequired("collateral")
	_ = cmd.MarkFlagRequired("outcome-a")
	_ = cmd.MarkFlagRequired("outcome-b")
	_ = cmd.MarkFlagRequired("amount")
}

// buildRequest turns the flags into an immutable swap request. Buying
// mints outcome pairs from collateral and sells off the unwanted side,
// so the venue swap spends the opposite outcome token; selling spends
// the traded outcome token directly.
func (s *runtimeState) buildRequest(ctx context.Context, env *execEnv, f marketFlags, action model.Action) (model.SwapRequest, error) {
	market, err := s.buildMarket(ctx, env, f)
	if err != nil {
		return model.SwapRequest{}, err
	}
	outcome := model.Outcome(strings.ToLower(f.outcome))
	if outcome != model.OutcomeA && outcome != model.OutcomeB {
		return model.SwapRequest{}, oerr.New(oerr.CodeUsage, "outcome must be a or b")
	}

	var input, output model.Token
	switch action {
	case model.ActionBuy:
		input, output = market.OutcomeToken(outcome.Opposite()), market.Collateral
	case model.ActionSell:
		input, output = market.OutcomeToken(outcome), market.Collateral
	default:
		// Position maintenance burns outcome pairs; amounts are in
		// outcome-token units.
		input, output = market.OutcomeToken(outcome), market.Collateral
	}

	base, err := id.DecimalToBaseUnits(f.amount, input.Decimals)
	if err != nil {
		return model.SwapRequest{}, oerr.Wrap(oerr.CodeUsage, "parse --amount", err)
	}
	amount, ok := new(big.Int).SetString(base, 10)
	if !ok || amount.Sign() <= 0 {
		return model.SwapRequest{}, oerr.New(oerr.CodeUsage, "amount must be positive")
	}

	venue := model.Venue(strings.ToLower(f.venue))
	return model.SwapRequest{
		Action:      action,
		Outcome:     outcome,
		Market:      market,
		InputToken:  input,
		OutputToken: output,
		Amount:      amount,
		SlippageBps: model.ClampSlippageBps(s.settings.SlippageBps),
		Venue:       venue,
	}, nil
}

type quoteView struct {
	Venue           string   `json:"venue"`
	AmountOut       string   `json:"amount_out,omitempty"`
	CurrentPrice    float64  `json:"current_price,omitempty"`
	ExecutionPrice  float64  `json:"execution_price,omitempty"`
	PriceImpactPct  *float64 `json:"price_impact_pct,omitempty"`
	SlippagePct     float64  `json:"slippage_pct,omitempty"`
	MinimumReceived string   `json:"minimum_received,omitempty"`
	GasEstimate     uint64   `json:"gas_estimate,omitempty"`
	Error           string   `json:"error,omitempty"`
}

func quoteViews(results []quotes.Result, decimals int) []quoteView {
	views := make([]quoteView, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			views = append(views, quoteView{Venue: string(r.Venue), Error: r.Err.Error()})
			continue
		}
		q := r.Quote
		views = append(views, quoteView{
			Venue:           string(q.Venue),
			AmountOut:       id.FormatBig(q.AmountOut, decimals),
			CurrentPrice:    q.CurrentPrice,
			ExecutionPrice:  q.ExecutionPrice,
			PriceImpactPct:  q.PriceImpactPct,
			SlippagePct:     q.SlippagePct,
			MinimumReceived: id.FormatBig(q.MinimumReceived, decimals),
			GasEstimate:     q.GasEstimate,
		})
	}
	return views
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var f marketFlags
	var action string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Fetch quotes from every configured venue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout*4)
			defer cancel()

			act := model.Action(strings.ToLower(action))
			env, err := s.buildEnv(ctx, f, act)
			if err != nil {
				return err
			}
			defer env.Close()

			req, err := s.buildRequest(ctx, env, f, act)
			if err != nil {
				return err
			}
			results := quotes.Sorted(env.aggregator.FetchAll(ctx, env.handle, req))
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), quoteViews(results, req.OutputToken.Decimals))
		},
	}
	registerMarketFlags(cmd, &f)
	cmd.Flags().StringVar(&action, "action", "buy", "Trade direction (buy or sell)")
	return cmd
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	var f marketFlags
	var action string
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Execute a swap through the selected venue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			act := model.Action(strings.ToLower(action))
			env, err := s.buildEnv(ctx, f, act)
			if err != nil {
				return err
			}
			defer env.Close()

			if f.venue == "" {
				if store := s.openPrefs(); store != nil {
					if last, ok, _ := store.LastVenue(); ok {
						f.venue = last
					}
				}
			}
			if _, ok := model.ParseVenue(f.venue); !ok {
				return oerr.New(oerr.CodeUsage, "unknown venue; use --venue clamm|pairamm|orderbook")
			}

			req, err := s.buildRequest(ctx, env, f, act)
			if err != nil {
				return err
			}

			quoteCtx, cancel := context.WithTimeout(ctx, s.settings.Timeout*2)
			quote, err := env.aggregator.FetchOne(quoteCtx, env.handle, req)
			cancel()
			if err != nil {
				return err
			}

			machine := orchestrator.New(orchestrator.Options{
				Handle:             env.handle,
				Venues:             env.strategies,
				Approvals:          env.approvals,
				Tracker:            env.tracker,
				Addresses:          env.addresses,
				Journal:            s.openJournal(),
				FireAndForget:      s.settings.FireAndForget && s.settings.SmartContractWallet,
				UnlimitedApprovals: s.settings.UnlimitedApprovals,
			})
			result, err := machine.Execute(ctx, req, quote)
			if err != nil {
				return err
			}
			if store := s.openPrefs(); store != nil {
				_ = store.RememberVenue(string(req.Venue))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), result)
		},
	}
	registerMarketFlags(cmd, &f)
	cmd.Flags().StringVar(&action, "action", "buy", "Trade direction (buy or sell)")
	cmd.Flags().StringVar(&f.venue, "venue", "", "Execution venue (clamm, pairamm, orderbook)")
	return cmd
}

func (s *runtimeState) newApproveCommand() *cobra.Command {
	var token, spender, amount string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Ensure a token allowance covers an amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := s.buildChain(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			tokenAddr := common.HexToAddress(token)
			info, err := resolveToken(ctx, env.handle, token)
			if err != nil {
				return err
			}
			base, err := id.DecimalToBaseUnits(amount, info.Decimals)
			if err != nil {
				return oerr.Wrap(oerr.CodeUsage, "parse --amount", err)
			}
			required, ok := new(big.Int).SetString(base, 10)
			if !ok || required.Sign() <= 0 {
				return oerr.New(oerr.CodeUsage, "amount must be positive")
			}

			res, err := env.approvals.EnsureAllowance(ctx, tokenAddr, common.HexToAddress(spender), required, s.settings.UnlimitedApprovals)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]any{
				"approved": res.Approved,
				"tx_sent":  res.TxSent,
				"deferred": res.Deferred,
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Token address")
	cmd.Flags().StringVar(&spender, "spender", "", "Spender contract address")
	cmd.Flags().StringVar(&amount, "amount", "", "Required amount in whole tokens")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("spender")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) newRedeemCommand() *cobra.Command {
	var f marketFlags
	var recoverMode bool
	cmd := &cobra.Command{
		Use:   "redeem",
		Short: "Merge outcome token pairs back into collateral",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			action := model.ActionRedeem
			if recoverMode {
				action = model.ActionRecover
			}
			env, err := s.buildEnv(ctx, f, action)
			if err != nil {
				return err
			}
			defer env.Close()

			req, err := s.buildRequest(ctx, env, f, action)
			if err != nil {
				return err
			}

			machine := orchestrator.New(orchestrator.Options{
				Handle:             env.handle,
				Venues:             env.strategies,
				Approvals:          env.approvals,
				Addresses:          env.addresses,
				Journal:            s.openJournal(),
				FireAndForget:      s.settings.FireAndForget && s.settings.SmartContractWallet,
				UnlimitedApprovals: s.settings.UnlimitedApprovals,
			})
			result, err := machine.Execute(ctx, req, model.Quote{AmountOut: req.Amount})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), result)
		},
	}
	registerMarketFlags(cmd, &f)
	cmd.Flags().BoolVar(&recoverMode, "recover", false, "Recover residual positions instead of redeeming a resolved market")
	return cmd
}

func (s *runtimeState) newStatusCommand() *cobra.Command {
	var orderID, runID, safeTx, state string
	var list bool
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect a submitted order, run, or multisig transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			switch {
			case list:
				journal := s.openJournal()
				if journal == nil {
					return oerr.New(oerr.CodeInternal, "run journal unavailable")
				}
				runs, err := journal.List(state, limit)
				if err != nil {
					return err
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), runs)
			case runID != "":
				journal := s.openJournal()
				if journal == nil {
					return oerr.New(oerr.CodeInternal, "run journal unavailable")
				}
				run, err := journal.Get(runID)
				if err != nil {
					return oerr.Wrap(oerr.CodeOrderNotFound, "look up run", err)
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), run)
			case orderID != "":
				if s.settings.OrderbookURL == "" {
					return oerr.New(oerr.CodeUsage, "order book not configured")
				}
				ob := orderbook.New(httpx.New(s.settings.Timeout, s.settings.Retries), orderbook.Config{
					BaseURL: strings.TrimRight(s.settings.OrderbookURL, "/"),
					ChainID: s.settings.ChainID,
				})
				info, err := ob.GetOrder(ctx, orderID)
				if err != nil {
					return err
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), info)
			case safeTx != "":
				env, err := s.buildChain(ctx)
				if err != nil {
					return err
				}
				defer env.Close()
				if env.multisig == nil {
					return oerr.New(oerr.CodeUsage, "multisig service not configured")
				}
				txHash, err := env.multisig.AwaitExecution(ctx, env.backend, common.HexToHash(safeTx))
				if err != nil {
					return err
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]string{"tx_hash": txHash.Hex()})
			default:
				return oerr.New(oerr.CodeUsage, "pass one of --list, --order, --run, or --safe-tx")
			}
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "Off-chain order id")
	cmd.Flags().StringVar(&runID, "run", "", "Run journal id")
	cmd.Flags().StringVar(&safeTx, "safe-tx", "", "Multisig service transaction hash")
	cmd.Flags().BoolVar(&list, "list", false, "List recent runs from the journal")
	cmd.Flags().StringVar(&state, "state", "", "Filter listed runs by state")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum runs to list")
	return cmd
}

func (s *runtimeState) newVenuesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "venues",
		Short: "List supported venues",
		RunE: func(cmd *cobra.Command, args []string) error {
			type venueInfo struct {
				Name     string `json:"name"`
				Kind     string `json:"kind"`
				LastUsed bool   `json:"last_used,omitempty"`
			}
			last := ""
			if store := s.openPrefs(); store != nil {
				last, _, _ = store.LastVenue()
			}
			infos := []venueInfo{
				{Name: string(model.VenueCLAMM), Kind: "onchain"},
				{Name: string(model.VenuePairAMM), Kind: "onchain"},
				{Name: string(model.VenueOrderbook), Kind: "offchain"},
			}
			for i := range infos {
				infos[i].LastUsed = infos[i].Name == last
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), infos)
		},
	}
	return cmd
}
