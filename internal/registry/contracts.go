package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contracts lists the per-chain deployments the orchestrator talks to.
type Contracts struct {
	ConditionalTokens string
	AllowanceRegistry string
	CLQuoterV2        string
	CLRouter          string
	PairRouter        string
}

var contractsByChainID = map[int64]Contracts{
	// Gnosis
	100: {
		ConditionalTokens: "0xCeAfDD6bc0bEF976fdCd1112955828E00543c0Ce",
		AllowanceRegistry: "0x000000000022D473030F116dDEE9F6B43aC78BA3",
		CLQuoterV2:        "0x7E9cB3499A6cee3baB47aEa85dCf0d5Fab7ccBb2",
		CLRouter:          "0xfFB643E73f280B97809A8b41f7232AB401a04ee1",
		PairRouter:        "0xE43e60736b1cb4a75ad25240E2f9a62Bff65c0C0",
	},
	// Polygon
	137: {
		ConditionalTokens: "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045",
		AllowanceRegistry: "0x000000000022D473030F116dDEE9F6B43aC78BA3",
		CLQuoterV2:        "0x61fFE014bA17989E743c5F6cB21bF9697530B21e",
		CLRouter:          "0xE592427A0AEce92De3Edee1F18E0157C05861564",
		PairRouter:        "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff",
	},
}

// ChainContracts returns the deployments for one chain.
func ChainContracts(chainID int64) (Contracts, bool) {
	c, ok := contractsByChainID[chainID]
	return c, ok
}

// MustABI parses an ABI fragment at package init time.
func MustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

var (
	ERC20             = MustABI(ERC20MinimalABI)
	AllowanceRegistry = MustABI(AllowanceRegistryABI)
	QuoterV2          = MustABI(QuoterV2ABI)
	SwapRouter        = MustABI(SwapRouterABI)
	CLPool            = MustABI(CLPoolABI)
	Pair              = MustABI(PairABI)
	PairRouter        = MustABI(PairRouterABI)
	ConditionalTokens = MustABI(ConditionalTokensABI)
)
