package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	oerr "github.com/outcome-labs/oswap/internal/errors"
)

// walletHandle synthesizes a Handle around the constrained request/response
// wallet client. Reads proxy to the read-only backend; submissions forward
// to the wallet, and Wait polls for the receipt with a bounded budget.
type walletHandle struct {
	backend     Backend
	wallet      WalletClient
	chainID     *big.Int
	address     common.Address
	waitTimeout time.Duration
}

func newWalletHandle(ctx context.Context, opts Options) (*walletHandle, error) {
	address, err := opts.Wallet.ConnectedAddress(ctx)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeAdapterUnavailable, "resolve connected account", err)
	}
	timeout := walletWaitTimeout
	if opts.SmartContractWallet {
		timeout = walletWaitTimeoutMultisig
	}
	return &walletHandle{
		backend:     opts.Backend,
		wallet:      opts.Wallet,
		chainID:     opts.ChainID,
		address:     address,
		waitTimeout: timeout,
	}, nil
}

func (h *walletHandle) Address() common.Address { return h.address }

func (h *walletHandle) ChainID() *big.Int { return h.chainID }

func (h *walletHandle) ReadCall(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return h.backend.CallContract(ctx, msg, nil)
}

func (h *walletHandle) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return h.backend.EstimateGas(ctx, msg)
}

func (h *walletHandle) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	return h.backend.BalanceAt(ctx, account, nil)
}

func (h *walletHandle) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	return h.backend.PendingNonceAt(ctx, account)
}

func (h *walletHandle) SendTransaction(ctx context.Context, req TxRequest) (*PendingTx, error) {
	hash, err := h.wallet.SendTransaction(ctx, req)
	if err != nil {
		return nil, err
	}
	backend := h.backend
	timeout := h.waitTimeout
	return &PendingTx{
		Hash: hash,
		wait: func(ctx context.Context) (*types.Receipt, error) {
			return waitForReceipt(ctx, backend, hash, timeout)
		},
	}, nil
}

func (h *walletHandle) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	return h.wallet.SignMessage(ctx, msg)
}

func (h *walletHandle) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	return h.wallet.SignTypedData(ctx, td)
}
