package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/chain/signer"
)

// localHandle wraps a full-featured native signer. The account address is
// pinned from the signer at construction so it can never diverge from the
// backend's default account.
type localHandle struct {
	backend       Backend
	signer        signer.Signer
	chainID       *big.Int
	address       common.Address
	gasMultiplier float64
}

func newLocalHandle(opts Options) *localHandle {
	return &localHandle{
		backend:       opts.Backend,
		signer:        opts.Signer,
		chainID:       opts.ChainID,
		address:       opts.Signer.Address(),
		gasMultiplier: opts.GasMultiplier,
	}
}

func (h *localHandle) Address() common.Address { return h.address }

func (h *localHandle) ChainID() *big.Int { return h.chainID }

func (h *localHandle) ReadCall(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return h.backend.CallContract(ctx, msg, nil)
}

func (h *localHandle) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return h.backend.EstimateGas(ctx, msg)
}

func (h *localHandle) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	return h.backend.BalanceAt(ctx, account, nil)
}

func (h *localHandle) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	return h.backend.PendingNonceAt(ctx, account)
}

func (h *localHandle) SendTransaction(ctx context.Context, req TxRequest) (*PendingTx, error) {
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	msg := ethereum.CallMsg{From: h.address, To: req.To, Value: value, Data: req.Data}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		estimated, err := h.backend.EstimateGas(ctx, msg)
		if err != nil {
			return nil, oerr.Wrap(oerr.CodeContractReverted, "estimate gas", err)
		}
		gasLimit = uint64(float64(estimated) * h.gasMultiplier)
	}

	tipCap, err := h.backend.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	header, err := h.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)

	nonce, err := h.backend.PendingNonceAt(ctx, h.address)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   h.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        req.To,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := h.signer.SignTx(h.chainID, tx)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeUserRejected, "sign transaction", err)
	}
	if err := h.backend.SendTransaction(ctx, signed); err != nil {
		return nil, oerr.Wrap(oerr.CodeUnavailable, "broadcast transaction", err)
	}

	hash := signed.Hash()
	backend := h.backend
	return &PendingTx{
		Hash: hash,
		wait: func(ctx context.Context) (*types.Receipt, error) {
			return waitForReceipt(ctx, backend, hash, localWaitTimeout)
		},
	}, nil
}

func (h *localHandle) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	return h.signer.SignDigest(accounts.TextHash(msg))
}

func (h *localHandle) SignTypedData(_ context.Context, td apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeInternal, "hash typed data", err)
	}
	return h.signer.SignDigest(digest)
}
