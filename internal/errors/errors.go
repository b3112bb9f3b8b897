// Package errors defines the domain error types shared across the
// chainmail client.
package errors

import (
	"errors"
	"fmt"
)

// Domain-specific error types
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrMessageNotFound indicates the message was not found in any store
	ErrMessageNotFound = errors.New("message not found")

	// ErrAccountNotFound indicates the account is not registered on-chain
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrWalletLocked indicates the wallet is closed or locked
	ErrWalletLocked = errors.New("wallet is not open and unlocked")

	// ErrClientClosed indicates the mail client is not open
	ErrClientClosed = errors.New("mail client is not open")

	// ErrNotPlaintext indicates a message that was expected to be encrypted
	ErrNotPlaintext = errors.New("refusing to send plaintext message")

	// ErrNotFailed indicates a retry or removal of a message that has not failed
	ErrNotFailed = errors.New("message has not failed to send")

	// ErrTooLateToCancel indicates a cancel after the message reached the servers
	ErrTooLateToCancel = errors.New("cannot cancel message once it has been submitted to servers")

	// ErrIndexing indicates the archive index is still being rebuilt
	ErrIndexing = errors.New("mail archive is currently indexing")

	// ErrStoreVersion indicates the on-disk stores are an unsupported version
	ErrStoreVersion = errors.New("mail database is an unknown version")
)

// Error codes for API responses
const (
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeWalletLocked    = "WALLET_LOCKED"
	CodeClientClosed    = "CLIENT_CLOSED"
	CodeTooLateToCancel = "TOO_LATE_TO_CANCEL"
	CodeNotFailed       = "NOT_FAILED"
	CodeIndexing        = "INDEXING"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInternalError   = "INTERNAL_ERROR"
)

// AppError represents an application error with context
type AppError struct {
	Err     error
	Message string
	Code    string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(err error, message string, code string) *AppError {
	return &AppError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// Wrap adds a message prefix while preserving the error chain
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
