// Package multisig resolves pending smart-contract-wallet transactions.
// A multisig submission yields a service-side hash first; the on-chain
// transaction hash only exists once the remaining signers have confirmed
// and the wallet executes. This service polls the transaction service
// until that happens, then hands off to standard receipt waiting.
package multisig

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/outcome-labs/oswap/internal/chain"
	oerr "github.com/outcome-labs/oswap/internal/errors"
	"github.com/outcome-labs/oswap/internal/httpx"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultResolveLimit = 10 * time.Minute
)

type Service struct {
	http     *httpx.Client
	baseURL  string
	interval time.Duration
	limit    time.Duration
}

func NewService(httpClient *httpx.Client, baseURL string) *Service {
	return &Service{
		http:     httpClient,
		baseURL:  baseURL,
		interval: defaultPollInterval,
		limit:    defaultResolveLimit,
	}
}

type pendingTxResponse struct {
	SafeTxHash      string `json:"safeTxHash"`
	TransactionHash string `json:"transactionHash"`
	IsExecuted      bool   `json:"isExecuted"`
	IsSuccessful    *bool  `json:"isSuccessful"`
}

// ResolveTxHash polls the transaction service for the on-chain hash of a
// pending wallet transaction. It returns once the wallet has executed the
// transaction, or errors if the service reports execution failure or the
// resolve window closes first.
func (s *Service) ResolveTxHash(ctx context.Context, serviceHash common.Hash) (common.Hash, error) {
	deadline := time.Now().Add(s.limit)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		resp, err := s.fetch(ctx, serviceHash)
		if err == nil && resp.IsExecuted {
			if resp.IsSuccessful != nil && !*resp.IsSuccessful {
				return common.Hash{}, oerr.New(oerr.CodeContractReverted,
					fmt.Sprintf("wallet transaction %s executed but reverted", serviceHash.Hex()))
			}
			if resp.TransactionHash != "" {
				return common.HexToHash(resp.TransactionHash), nil
			}
		}
		if err != nil && !oerr.HasCode(err, oerr.CodeOrderNotFound) && !oerr.HasCode(err, oerr.CodeUnavailable) {
			// Not-yet-indexed and transient service errors keep polling;
			// anything else is final.
			return common.Hash{}, err
		}
		if time.Now().After(deadline) {
			return common.Hash{}, oerr.New(oerr.CodeNetworkTimeout,
				fmt.Sprintf("wallet transaction %s not executed within %s", serviceHash.Hex(), s.limit))
		}
		select {
		case <-ctx.Done():
			return common.Hash{}, oerr.Wrap(oerr.CodeNetworkTimeout, "wallet transaction resolution cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Service) fetch(ctx context.Context, serviceHash common.Hash) (pendingTxResponse, error) {
	var resp pendingTxResponse
	url := s.baseURL + "/api/v1/multisig-transactions/" + serviceHash.Hex()
	if _, err := s.http.GetJSON(ctx, url, nil, &resp); err != nil {
		return pendingTxResponse{}, err
	}
	return resp, nil
}

// AwaitExecution resolves the on-chain hash and then waits for its
// receipt against the read backend.
func (s *Service) AwaitExecution(ctx context.Context, backend chain.Backend, serviceHash common.Hash) (common.Hash, error) {
	txHash, err := s.ResolveTxHash(ctx, serviceHash)
	if err != nil {
		return common.Hash{}, err
	}
	pending := chain.NewPending(backend, txHash, 0)
	if _, err := pending.Wait(ctx); err != nil {
		return txHash, err
	}
	return txHash, nil
}
