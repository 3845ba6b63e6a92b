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
	"github.com/outcome-labs/oswap/internal/chain/signer"
)

// TxRequest is a venue- and wallet-agnostic transaction to submit.
type TxRequest struct {
	To       *common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// PendingTx is a submitted transaction whose confirmation can be awaited.
type PendingTx struct {
	Hash common.Hash
	wait func(ctx context.Context) (*types.Receipt, error)
}

// Wait blocks until the transaction is mined or the handle's wait budget is
// exhausted.
func (p *PendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	return p.wait(ctx)
}

// Handle normalizes the two wallet-client shapes behind one capability
// surface. Exactly one handle is active per execution; callers construct a
// fresh one per request and never persist it.
type Handle interface {
	Address() common.Address
	ChainID() *big.Int
	ReadCall(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	Nonce(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, req TxRequest) (*PendingTx, error)
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
	SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error)
}

// Backend is the read-only JSON-RPC surface both adapters proxy to.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WalletClient is the constrained request/response wallet shape: it can
// report its connected account and service signing requests, nothing more.
type WalletClient interface {
	ConnectedAddress(ctx context.Context) (common.Address, error)
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
	SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error)
}

const (
	receiptPollInterval = 2 * time.Second
	// walletWaitTimeout bounds receipt waiting for the constrained wallet
	// shape; multisig flows get the extended budget because execution
	// happens only after off-chain coordination.
	walletWaitTimeout         = 60 * time.Second
	walletWaitTimeoutMultisig = 300 * time.Second
	localWaitTimeout          = 2 * time.Minute
	defaultGasMultiplier      = 1.2
)

// Options selects which wallet-client shape backs the handle.
type Options struct {
	Backend Backend
	ChainID *big.Int
	// Signer takes precedence when both shapes are available.
	Signer signer.Signer
	Wallet WalletClient
	// SmartContractWallet is the externally supplied multisig capability.
	SmartContractWallet bool
	GasMultiplier       float64
}

// New builds a handle from whichever wallet-client shape is available. It
// never returns a partially-initialized handle: with no backend or no
// signing capability the adapter is unavailable.
func New(ctx context.Context, opts Options) (Handle, error) {
	if opts.Backend == nil {
		return nil, oerr.New(oerr.CodeAdapterUnavailable, "no chain backend connected")
	}
	if opts.ChainID == nil || opts.ChainID.Sign() <= 0 {
		return nil, oerr.New(oerr.CodeAdapterUnavailable, "chain id unknown")
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = defaultGasMultiplier
	}
	if opts.Signer != nil {
		return newLocalHandle(opts), nil
	}
	if opts.Wallet != nil {
		return newWalletHandle(ctx, opts)
	}
	return nil, oerr.New(oerr.CodeAdapterUnavailable, "no wallet client connected")
}

// NewPending wraps an already-broadcast transaction hash so callers that
// learn of a hash out of band (the multisig transaction service) can use
// the same receipt waiting as locally submitted transactions.
func NewPending(backend Backend, hash common.Hash, timeout time.Duration) *PendingTx {
	if timeout <= 0 {
		timeout = localWaitTimeout
	}
	return &PendingTx{
		Hash: hash,
		wait: func(ctx context.Context) (*types.Receipt, error) {
			return waitForReceipt(ctx, backend, hash, timeout)
		},
	}
}

// waitForReceipt polls the backend until the transaction is mined, the
// timeout passes, or ctx is cancelled. On timeout it makes one final
// one-shot receipt fetch before declaring failure.
func waitForReceipt(ctx context.Context, backend Backend, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-waitCtx.Done():
			if receipt, err := backend.TransactionReceipt(ctx, hash); err == nil && receipt != nil {
				return receipt, nil
			}
			if ctx.Err() != nil {
				return nil, oerr.Wrap(oerr.CodeNetworkTimeout, "receipt wait cancelled", ctx.Err())
			}
			return nil, oerr.New(oerr.CodeNetworkTimeout, "timed out waiting for transaction receipt")
		case <-ticker.C:
		}
	}
}
