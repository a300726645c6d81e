// Package apperrors provides standardized error codes for the sync client.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (transport, request, cache, conversation, state)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by UI surfaces for programmatic
// error handling (e.g., deciding whether to roll back an optimistic edit).
// Human-readable messages are preserved verbatim alongside codes.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Transport domain - socket connection errors
	CodeTransportNotConnected = "transport.not_connected" // Send attempted while disconnected
	CodeTransportClosed       = "transport.closed"        // Channel deliberately torn down
	CodeTransportDialFailed   = "transport.dial_failed"   // Dial to the backend failed

	// Request domain - correlated request/response errors
	CodeRequestTimeout   = "request.timeout"   // No reply within the deadline
	CodeRequestRejected  = "request.rejected"  // Backend replied with success=false
	CodeRequestCancelled = "request.cancelled" // Caller aborted the request

	// Cache domain - local read cache consistency
	CodeCacheEvicted = "cache.evicted" // Response arrived for an evicted key
	CodeCacheMiss    = "cache.miss"    // Key not present in the cache

	// Conversation domain - conversation operations
	CodeConversationNotFound = "conversation.not_found" // Unknown conversation id

	// State domain - persisted client state
	CodeStateCorrupt    = "state.corrupt"     // Persisted entry failed to decode
	CodeStateOpenFailed = "state.open_failed" // State database open failed

	// General domain - catch-all errors
	CodeUnknown = "error.unknown" // Unknown error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "request.timeout")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message verbatim.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}
	return err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// IsCancellation reports whether an error represents a user-initiated abort
// rather than a genuine failure. The mutation engine keeps optimistic state
// in place for cancellations instead of rolling it back.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return IsCode(err, CodeRequestCancelled)
}

// Common error constructors for frequently used error types.

// NotConnected creates a "transport.not_connected" error.
func NotConnected() *CodedError {
	return New(CodeTransportNotConnected, "not connected to backend")
}

// Timeout creates a "request.timeout" error for the given action.
func Timeout(action string) *CodedError {
	return New(CodeRequestTimeout, fmt.Sprintf("request %s timed out", action))
}

// Rejected creates a "request.rejected" error with the backend's message.
// The backend message is preserved verbatim for display to the user.
func Rejected(message string) *CodedError {
	return New(CodeRequestRejected, message)
}

// Cancelled creates a "request.cancelled" error.
func Cancelled(action string) *CodedError {
	return New(CodeRequestCancelled, fmt.Sprintf("request %s cancelled", action))
}

// Evicted creates a "cache.evicted" error for a key whose entry was removed
// while a fetch was still in flight.
func Evicted(key string) *CodedError {
	return New(CodeCacheEvicted, fmt.Sprintf("cache entry %s was evicted", key))
}

// ConversationNotFound creates a "conversation.not_found" error.
func ConversationNotFound(id string) *CodedError {
	return New(CodeConversationNotFound, fmt.Sprintf("conversation %s not found", id))
}
