package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer is a full-featured native signing key. SignDigest covers the
// off-chain order flow, which signs EIP-712 digests rather than
// transactions.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
	SignDigest(digest []byte) ([]byte, error)
}
