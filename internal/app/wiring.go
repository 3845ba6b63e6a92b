package app

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/outcome-labs/oswap/internal/approvals"
	"github.com/outcome-labs/oswap/internal/chain"
	"github.com/outcome-labs/oswap/internal/chain/signer"
	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/httpx"
	"github.com/outcome-labs/oswap/internal/model"
	"github.com/outcome-labs/oswap/internal/multisig"
	"github.com/outcome-labs/oswap/internal/orchestrator"
	"github.com/outcome-labs/oswap/internal/orders"
	"github.com/outcome-labs/oswap/internal/prefs"
	"github.com/outcome-labs/oswap/internal/quotes"
	"github.com/outcome-labs/oswap/internal/registry"
	"github.com/outcome-labs/oswap/internal/venues"
	"github.com/outcome-labs/oswap/internal/venues/clamm"
	"github.com/outcome-labs/oswap/internal/venues/orderbook"
	"github.com/outcome-labs/oswap/internal/venues/pairamm"
)

// marketFlags collects the per-command market description.
type marketFlags struct {
	condition  string
	collateral string
	outcomeA   string
	outcomeB   string
	outcome    string
	amount     string
	venue      string
	clammPool  string
	pair       string
	settlement string
}

// execEnv holds everything one command invocation needs.
type execEnv struct {
	handle     chain.Handle
	backend    *ethclient.Client
	strategies *venues.Registry
	aggregator *quotes.Aggregator
	approvals  *approvals.Manager
	tracker    *orders.Tracker
	orderbook  *orderbook.Client
	addresses  orchestrator.Addresses
	multisig   *multisig.Service
	http       *httpx.Client
}

func (e *execEnv) Close() {
	if e.backend != nil {
		e.backend.Close()
	}
}

// buildChain connects the chain-level collaborators every command needs:
// the handle, the approvals manager, and the shared HTTP client.
func (s *runtimeState) buildChain(ctx context.Context) (*execEnv, error) {
	rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, s.settings.ChainID)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeAdapterUnavailable, "dial rpc endpoint", err)
	}

	sgn, err := signer.NewLocalSignerFromEnv()
	if err != nil {
		client.Close()
		return nil, err
	}
	handle, err := chain.New(ctx, chain.Options{
		Backend:             client,
		ChainID:             big.NewInt(s.settings.ChainID),
		Signer:              sgn,
		SmartContractWallet: s.settings.SmartContractWallet,
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	contracts, ok := registry.ChainContracts(s.settings.ChainID)
	if !ok {
		client.Close()
		return nil, oerr.New(oerr.CodeUnsupported, "no contract registry for the configured chain")
	}

	httpClient := httpx.New(s.settings.Timeout, s.settings.Retries)

	mgr := approvals.NewManager(handle)
	mgr.FireAndForget = s.settings.FireAndForget && s.settings.SmartContractWallet

	env := &execEnv{
		handle:    handle,
		backend:   client,
		approvals: mgr,
		addresses: orchestrator.Addresses{
			ConditionalTokens: common.HexToAddress(contracts.ConditionalTokens),
		},
		http: httpClient,
	}
	if s.settings.MultisigSvcURL != "" {
		env.multisig = multisig.NewService(httpClient, strings.TrimRight(s.settings.MultisigSvcURL, "/"))
	}
	return env, nil
}

// buildEnv extends buildChain with the venue strategies described by the
// market flags.
func (s *runtimeState) buildEnv(ctx context.Context, f marketFlags, action model.Action) (*execEnv, error) {
	env, err := s.buildChain(ctx)
	if err != nil {
		return nil, err
	}
	contracts, _ := registry.ChainContracts(s.settings.ChainID)

	var strategies []venues.Strategy
	if f.clammPool != "" {
		pools, err := poolMap(f, action, f.clammPool)
		if err != nil {
			env.Close()
			return nil, err
		}
		strategies = append(strategies, clamm.New(clamm.Config{
			Quoter:            common.HexToAddress(contracts.CLQuoterV2),
			Router:            common.HexToAddress(contracts.CLRouter),
			AllowanceRegistry: common.HexToAddress(contracts.AllowanceRegistry),
			Pools:             pools,
		}))
	}
	if f.pair != "" {
		pairs, err := poolMap(f, action, f.pair)
		if err != nil {
			env.Close()
			return nil, err
		}
		strategies = append(strategies, pairamm.New(pairamm.Config{
			Router: common.HexToAddress(contracts.PairRouter),
			Pairs:  pairs,
		}))
	}
	if s.settings.OrderbookURL != "" && f.settlement != "" {
		ob := orderbook.New(env.http, orderbook.Config{
			BaseURL:    strings.TrimRight(s.settings.OrderbookURL, "/"),
			Settlement: common.HexToAddress(f.settlement),
			ChainID:    s.settings.ChainID,
		})
		env.orderbook = ob
		env.tracker = orders.NewTracker(ob)
		strategies = append(strategies, ob)
	}
	if len(strategies) == 0 {
		env.Close()
		return nil, oerr.New(oerr.CodeUsage, "no venue configured; pass --clamm-pool, --pair, or configure the order book")
	}
	env.strategies = venues.NewRegistry(strategies...)
	env.aggregator = quotes.NewAggregator(env.strategies)
	return env, nil
}

// poolMap binds the outcome token on the swap path to the supplied pool
// address. Buys sell off the opposite outcome token, so the pool is
// keyed under that side.
func poolMap(f marketFlags, action model.Action, pool string) (map[common.Address]common.Address, error) {
	token, err := swapOutcomeToken(f, action)
	if err != nil {
		return nil, err
	}
	return map[common.Address]common.Address{token: common.HexToAddress(pool)}, nil
}

func swapOutcomeToken(f marketFlags, action model.Action) (common.Address, error) {
	outcome := model.Outcome(strings.ToLower(f.outcome))
	if f.outcome == "" {
		outcome = model.OutcomeA
	}
	if outcome != model.OutcomeA && outcome != model.OutcomeB {
		return common.Address{}, oerr.New(oerr.CodeUsage, "outcome must be a or b")
	}
	if action == model.ActionBuy {
		outcome = outcome.Opposite()
	}
	if outcome == model.OutcomeB {
		if f.outcomeB == "" {
			return common.Address{}, oerr.New(oerr.CodeUsage, "missing --outcome-b token address")
		}
		return common.HexToAddress(f.outcomeB), nil
	}
	if f.outcomeA == "" {
		return common.Address{}, oerr.New(oerr.CodeUsage, "missing --outcome-a token address")
	}
	return common.HexToAddress(f.outcomeA), nil
}

// buildMarket resolves the market description from flags, reading token
// decimals and symbols from the chain.
func (s *runtimeState) buildMarket(ctx context.Context, env *execEnv, f marketFlags) (model.Market, error) {
	if f.condition == "" || f.collateral == "" || f.outcomeA == "" || f.outcomeB == "" {
		return model.Market{}, oerr.New(oerr.CodeUsage, "market requires --condition, --collateral, --outcome-a and --outcome-b")
	}
	collateral, err := resolveToken(ctx, env.handle, f.collateral)
	if err != nil {
		return model.Market{}, err
	}
	outcomeA, err := resolveToken(ctx, env.handle, f.outcomeA)
	if err != nil {
		return model.Market{}, err
	}
	outcomeB, err := resolveToken(ctx, env.handle, f.outcomeB)
	if err != nil {
		return model.Market{}, err
	}
	return model.Market{
		ConditionID: common.HexToHash(f.condition),
		Collateral:  collateral,
		OutcomeA:    outcomeA,
		OutcomeB:    outcomeB,
	}, nil
}

func resolveToken(ctx context.Context, h chain.Handle, addr string) (model.Token, error) {
	address := common.HexToAddress(addr)
	decimals, err := chain.ERC20Decimals(ctx, h, address)
	if err != nil {
		return model.Token{}, err
	}
	symbol, err := chain.ERC20Symbol(ctx, h, address)
	if err != nil {
		symbol = ""
	}
	return model.Token{Address: address, Symbol: symbol, Decimals: int(decimals)}, nil
}

func (s *runtimeState) openPrefs() *prefs.Store {
	if s.prefsStore != nil {
		return s.prefsStore
	}
	store, err := prefs.Open(s.settings.PrefsPath, s.settings.PrefsLock)
	if err != nil {
		return nil
	}
	s.prefsStore = store
	return store
}

func (s *runtimeState) openJournal() *orchestrator.Journal {
	if s.journal != nil {
		return s.journal
	}
	journal, err := orchestrator.OpenJournal(s.settings.JournalPath, s.settings.JournalLock)
	if err != nil {
		return nil
	}
	s.journal = journal
	return journal
}
