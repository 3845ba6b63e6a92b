package errors

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// errorStringSelector is the 4-byte selector of Error(string).
const errorStringSelector = "08c379a0"

const maxGenericMessageLen = 200

// Revert reason substrings that indicate the pool or router rejected the
// trade because the realized output fell below the configured minimum.
var slippageReasons = []string{
	"insufficient output amount",
	"insufficient_output_amount",
	"too little received",
	"price slippage check",
	"amountoutmin",
	"slippage",
}

var rejectionMarkers = []string{
	"action_rejected",
	"user rejected",
	"user denied",
	"code\": 4001",
	"code: 4001",
	"(4001)",
}

var providerCodeMessages = map[string]string{
	"unpredictable_gas_limit": "cannot estimate gas; the transaction may revert",
	"insufficient_funds":      "insufficient funds for gas and value",
	"nonce_expired":           "transaction nonce has already been used",
}

// Classify maps a raw provider or contract error into the stable taxonomy.
// Already-classified errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if typed, ok := As(err); ok {
		return typed
	}

	raw := err.Error()
	lower := strings.ToLower(raw)

	if reason, ok := revertReason(err); ok {
		return classifyReason(reason, err)
	}
	if reason, ok := extractQuotedReason(raw); ok {
		return classifyReason(reason, err)
	}
	for code, message := range providerCodeMessages {
		if strings.Contains(lower, code) {
			switch code {
			case "insufficient_funds":
				return Wrap(CodeInsufficientBalance, message, err)
			case "nonce_expired":
				return Wrap(CodeContractReverted, message, err)
			default:
				return Wrap(CodeContractReverted, message, err)
			}
		}
	}
	for _, marker := range slippageReasons {
		if strings.Contains(lower, marker) {
			return Wrap(CodeSlippageExceeded, "swap exceeded slippage tolerance", err)
		}
	}
	for _, marker := range rejectionMarkers {
		if strings.Contains(lower, marker) {
			return Wrap(CodeUserRejected, "request rejected in wallet", err)
		}
	}
	if strings.Contains(lower, "context deadline exceeded") || strings.Contains(lower, "timeout") {
		return Wrap(CodeNetworkTimeout, "network request timed out", err)
	}

	return Wrap(CodeInternal, truncate(raw, maxGenericMessageLen), err)
}

// ClassifyRevert maps raw revert data returned with a failed receipt.
func ClassifyRevert(data []byte) *Error {
	if reason, ok := DecodeRevertReason(data); ok {
		return classifyReason(reason, nil)
	}
	return New(CodeContractReverted, "transaction reverted on-chain")
}

func classifyReason(reason string, cause error) *Error {
	lower := strings.ToLower(reason)
	for _, marker := range slippageReasons {
		if strings.Contains(lower, marker) {
			e := Wrap(CodeSlippageExceeded, "swap exceeded slippage tolerance", cause)
			e.Reason = reason
			return e
		}
	}
	if strings.Contains(lower, "insufficient balance") || strings.Contains(lower, "transfer amount exceeds balance") {
		e := Wrap(CodeInsufficientBalance, "insufficient token balance", cause)
		e.Reason = reason
		return e
	}
	if strings.Contains(lower, "insufficient allowance") || strings.Contains(lower, "transfer amount exceeds allowance") {
		e := Wrap(CodeInsufficientAllowance, "token allowance does not cover the trade", cause)
		e.Reason = reason
		return e
	}
	e := Wrap(CodeContractReverted, fmt.Sprintf("transaction reverted: %s", truncate(reason, maxGenericMessageLen)), cause)
	e.Reason = reason
	return e
}

// DecodeRevertReason unpacks an ABI-encoded Error(string) payload.
func DecodeRevertReason(data []byte) (string, bool) {
	if len(data) < 4+32+32 {
		return "", false
	}
	if hex.EncodeToString(data[:4]) != errorStringSelector {
		return "", false
	}
	payload := data[4:]
	// offset (32) | length (32) | bytes
	length := bytesToInt(payload[32:64])
	if length < 0 || 64+length > len(payload) {
		return "", false
	}
	return string(payload[64 : 64+length]), true
}

// revertReason extracts revert data attached to go-ethereum RPC errors.
func revertReason(err error) (string, bool) {
	type dataError interface {
		ErrorData() interface{}
	}
	de, ok := err.(dataError)
	if !ok {
		return "", false
	}
	encoded, ok := de.ErrorData().(string)
	if !ok {
		return "", false
	}
	encoded = strings.TrimPrefix(encoded, "0x")
	raw, decodeErr := hex.DecodeString(encoded)
	if decodeErr != nil {
		return "", false
	}
	return DecodeRevertReason(raw)
}

// extractQuotedReason pulls `execution reverted: <reason>` phrasings out of
// plain error strings.
func extractQuotedReason(raw string) (string, bool) {
	lower := strings.ToLower(raw)
	marker := "execution reverted"
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimSpace(raw[idx+len(marker):])
	rest = strings.TrimPrefix(rest, ":")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", false
	}
	return rest, true
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func bytesToInt(b []byte) int {
	n := 0
	for _, c := range b {
		n = n<<8 | int(c)
		if n > 1<<31 {
			return -1
		}
	}
	return n
}
