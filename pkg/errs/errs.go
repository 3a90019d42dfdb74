// Package errs defines the error taxonomy shared by the ledger components.
//
// Every failed call aborts with an *Error carrying a Code. Callers match on the
// code with errors.Is against the package sentinels, or read it with CodeOf.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the category of a failed call.
type Code string

const (
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeDuplicateContent      Code = "DUPLICATE_CONTENT"
	CodeAlreadySubmitted      Code = "ALREADY_SUBMITTED"
	CodeNotFound              Code = "NOT_FOUND"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeInsufficientAllowance Code = "INSUFFICIENT_ALLOWANCE"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientPool      Code = "INSUFFICIENT_POOL"
	CodeTransferFailed        Code = "TRANSFER_FAILED"
	CodeRewardTransferFailed  Code = "REWARD_TRANSFER_FAILED"
	CodeReentrancy            Code = "REENTRANCY"
	CodeEmptyPool             Code = "EMPTY_POOL"
	CodeInternal              Code = "INTERNAL"
)

// Sentinels for errors.Is matching. Any *Error with the same code matches.
var (
	ErrInvalidArgument       = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrDuplicateContent      = &Error{Code: CodeDuplicateContent, Message: "content already recorded"}
	ErrAlreadySubmitted      = &Error{Code: CodeAlreadySubmitted, Message: "feedback already submitted"}
	ErrNotFound              = &Error{Code: CodeNotFound, Message: "not found"}
	ErrUnauthorized          = &Error{Code: CodeUnauthorized, Message: "caller is not the owner"}
	ErrInsufficientAllowance = &Error{Code: CodeInsufficientAllowance, Message: "insufficient allowance"}
	ErrInsufficientBalance   = &Error{Code: CodeInsufficientBalance, Message: "insufficient balance"}
	ErrInsufficientPool      = &Error{Code: CodeInsufficientPool, Message: "insufficient reward pool"}
	ErrTransferFailed        = &Error{Code: CodeTransferFailed, Message: "token transfer failed"}
	ErrRewardTransferFailed  = &Error{Code: CodeRewardTransferFailed, Message: "reward transfer failed"}
	ErrReentrancy            = &Error{Code: CodeReentrancy, Message: "reentrant call"}
	ErrEmptyPool             = &Error{Code: CodeEmptyPool, Message: "reward pool is empty"}
	ErrInternal              = &Error{Code: CodeInternal, Message: "internal error"}
)

// Error is a coded failure with an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates an error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to cause.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WrapTransfer classifies a failed token call as code. A Reentrancy error
// is returned unchanged so the outermost caller still sees it.
func WrapTransfer(code Code, cause error, message string) error {
	if CodeOf(cause) == CodeReentrancy {
		return cause
	}
	return Wrap(code, cause, message)
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeInternal for uncoded errors. A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps a code onto the status returned by the API.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeDuplicateContent, CodeAlreadySubmitted:
		return http.StatusConflict
	case CodeInsufficientAllowance, CodeInsufficientBalance:
		return http.StatusPaymentRequired
	case CodeInsufficientPool, CodeEmptyPool:
		return http.StatusUnprocessableEntity
	case CodeTransferFailed, CodeRewardTransferFailed:
		return http.StatusBadGateway
	case CodeReentrancy:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}
