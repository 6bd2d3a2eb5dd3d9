// Package apperr is the error taxonomy shared by the services and the HTTP
// gateway. Every failure a caller can act on carries a Code; the gateway maps
// codes to HTTP statuses and tells clients whether resubmitting can help.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const internalMessage = "internal error, please try again later"

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInsufficientStock  Code = "INSUFFICIENT_STOCK"
	CodePriceMismatch      Code = "PRICE_MISMATCH"
	CodeDuplicateTag       Code = "DUPLICATE_TAG"
	CodeProductInUse       Code = "PRODUCT_IN_USE"
	CodeConflict           Code = "CONFLICT"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeTokenInvalid       Code = "TOKEN_INVALID"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeTooManyRequests    Code = "TOO_MANY_REQUESTS"
	CodeTransactionFailure Code = "TRANSACTION_FAILURE"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrValidation         = &Error{Code: CodeValidation}
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrInsufficientStock  = &Error{Code: CodeInsufficientStock}
	ErrPriceMismatch      = &Error{Code: CodePriceMismatch}
	ErrDuplicateTag       = &Error{Code: CodeDuplicateTag}
	ErrProductInUse       = &Error{Code: CodeProductInUse}
	ErrConflict           = &Error{Code: CodeConflict}
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials}
	ErrTokenExpired       = &Error{Code: CodeTokenExpired}
	ErrTokenInvalid       = &Error{Code: CodeTokenInvalid}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized}
	ErrForbidden          = &Error{Code: CodeForbidden}
	ErrTooManyRequests    = &Error{Code: CodeTooManyRequests}
	ErrTransactionFailure = &Error{Code: CodeTransactionFailure}
)

func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return New(CodeValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(CodeNotFound, format, args...)
}

// Internal wraps an unexpected storage error. The message is what clients
// see; err stays available to logs through Unwrap.
func Internal(err error, message string) *Error {
	return Wrap(CodeTransactionFailure, err, message)
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeTransactionFailure for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeTransactionFailure
}

// MessageOf returns the client-safe message for err. Foreign errors never
// leak their text.
func MessageOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return internalMessage
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code == CodeTransactionFailure {
		return internalMessage
	}
	return string(e.Code)
}

func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeInsufficientStock, CodePriceMismatch:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDuplicateTag, CodeProductInUse, CodeConflict:
		return http.StatusConflict
	case CodeInvalidCredentials, CodeTokenExpired, CodeTokenInvalid, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the same request may succeed later without the
// caller changing it.
func Retryable(code Code) bool {
	switch code {
	case CodeTransactionFailure, CodeTooManyRequests:
		return true
	}
	return false
}
