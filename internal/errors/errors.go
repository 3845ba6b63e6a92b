package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess  Code = 0
	CodeInternal Code = 1
	CodeUsage    Code = 2

	// Swap failure taxonomy.
	CodeUserRejected          Code = 10
	CodeInsufficientBalance   Code = 11
	CodeInsufficientAllowance Code = 12
	CodeSlippageExceeded      Code = 13
	CodeContractReverted      Code = 14
	CodeNetworkTimeout        Code = 15
	CodeOrderNotFound         Code = 16
	CodeMaxRetriesExceeded    Code = 17
	CodeAdapterUnavailable    Code = 18

	// Transport-level codes shared with the HTTP client.
	CodeAuth        Code = 20
	CodeRateLimited Code = 21
	CodeUnavailable Code = 22
	CodeUnsupported Code = 23
)

// Error is a typed error that carries a stable code and, for contract
// reverts, the decoded revert reason.
type Error struct {
	Code    Code
	Message string
	Reason  string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func HasCode(err error, code Code) bool {
	if typed, ok := As(err); ok {
		return typed.Code == code
	}
	return false
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if typed, ok := As(err); ok {
		return int(typed.Code)
	}
	return int(CodeInternal)
}
