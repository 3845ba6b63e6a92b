package errors

import "github.com/ethereum/go-ethereum/core/types"

// ClassifyReceipt maps a mined-but-failed receipt into the taxonomy. Some
// contracts emit their revert reason as an Error(string)-encoded log
// entry; when one is present it drives the classification, otherwise the
// failure is a bare contract revert.
func ClassifyReceipt(receipt *types.Receipt) *Error {
	if receipt == nil {
		return New(CodeContractReverted, "transaction reverted on-chain")
	}
	for _, log := range receipt.Logs {
		if log == nil {
			continue
		}
		if reason, ok := DecodeRevertReason(log.Data); ok {
			return classifyReason(reason, nil)
		}
	}
	return New(CodeContractReverted, "transaction reverted on-chain")
}
