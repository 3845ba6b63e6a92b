package orchestrator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcome-labs/oswap/internal/chain"
	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/model"
	"github.com/outcome-labs/oswap/internal/registry"
)

// binaryPartition is the index-set partition for a two-outcome condition.
var binaryPartition = []*big.Int{big.NewInt(1), big.NewInt(2)}

// splitCollateral mints `amount` of both outcome tokens by locking the
// same amount of collateral in the conditional tokens contract.
func splitCollateral(ctx context.Context, h chain.Handle, conditionalTokens common.Address, market model.Market, amount *big.Int) (*chain.PendingTx, error) {
	data, err := registry.ConditionalTokens.Pack("splitPosition",
		market.Collateral.Address, common.Hash{}, market.ConditionID, binaryPartition, amount)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeInternal, "encode split position", err)
	}
	return h.SendTransaction(ctx, chain.TxRequest{To: &conditionalTokens, Data: data})
}

// mergePositions burns `amount` of both outcome tokens and releases the
// same amount of collateral.
func mergePositions(ctx context.Context, h chain.Handle, conditionalTokens common.Address, market model.Market, amount *big.Int) (*chain.PendingTx, error) {
	data, err := registry.ConditionalTokens.Pack("mergePositions",
		market.Collateral.Address, common.Hash{}, market.ConditionID, binaryPartition, amount)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeInternal, "encode merge positions", err)
	}
	return h.SendTransaction(ctx, chain.TxRequest{To: &conditionalTokens, Data: data})
}

// positionShortfall returns how many outcome tokens must still be minted
// for the request, zero when the existing balance already covers it.
func positionShortfall(ctx context.Context, h chain.Handle, token common.Address, required *big.Int) (*big.Int, error) {
	balance, err := chain.ERC20BalanceOf(ctx, h, token, h.Address())
	if err != nil {
		return nil, err
	}
	if balance.Cmp(required) >= 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).Sub(required, balance), nil
}
