package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/registry"
)

// ERC20BalanceOf reads a token balance through the handle.
func ERC20BalanceOf(ctx context.Context, h Handle, token, owner common.Address) (*big.Int, error) {
	data, err := registry.ERC20.Pack("balanceOf", owner)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeInternal, "pack balanceOf calldata", err)
	}
	raw, err := h.ReadCall(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeUnavailable, "read token balance", err)
	}
	values, err := registry.ERC20.Unpack("balanceOf", raw)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeUnavailable, "decode token balance", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, oerr.New(oerr.CodeUnavailable, "token balance is not uint256")
	}
	return balance, nil
}

// ERC20Decimals reads a token's decimals through the handle.
func ERC20Decimals(ctx context.Context, h Handle, token common.Address) (uint8, error) {
	data, err := registry.ERC20.Pack("decimals")
	if err != nil {
		return 0, oerr.Wrap(oerr.CodeInternal, "pack decimals calldata", err)
	}
	raw, err := h.ReadCall(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return 0, oerr.Wrap(oerr.CodeUnavailable, "read token decimals", err)
	}
	values, err := registry.ERC20.Unpack("decimals", raw)
	if err != nil {
		return 0, oerr.Wrap(oerr.CodeUnavailable, "decode token decimals", err)
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, oerr.New(oerr.CodeUnavailable, "token decimals is not uint8")
	}
	return decimals, nil
}

// ERC20Symbol reads a token's symbol through the handle.
func ERC20Symbol(ctx context.Context, h Handle, token common.Address) (string, error) {
	data, err := registry.ERC20.Pack("symbol")
	if err != nil {
		return "", oerr.Wrap(oerr.CodeInternal, "pack symbol calldata", err)
	}
	raw, err := h.ReadCall(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return "", oerr.Wrap(oerr.CodeUnavailable, "read token symbol", err)
	}
	values, err := registry.ERC20.Unpack("symbol", raw)
	if err != nil {
		return "", oerr.Wrap(oerr.CodeUnavailable, "decode token symbol", err)
	}
	symbol, ok := values[0].(string)
	if !ok {
		return "", oerr.New(oerr.CodeUnavailable, "token symbol is not string")
	}
	return symbol, nil
}
