package stt

import (
	"errors"
	"strings"
)

// Code categorizes a pipeline failure. The code alone decides retry
// eligibility and HTTP status mapping; messages are for humans and are never
// parsed.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeItemNotFound       Code = "ITEM_NOT_FOUND"
	CodeNoAudioURL         Code = "NO_AUDIO_URL"
	CodeNoSpeechDetected   Code = "NO_SPEECH_DETECTED"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeTimeout            Code = "TIMEOUT"
	CodeSTTFailed          Code = "STT_FAILED"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	CodeInternalError      Code = "INTERNAL_ERROR"
)

// Error is a typed pipeline failure.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError creates a typed failure with the given code.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Retryable reports whether the failure is transient and worth retrying.
func (e *Error) Retryable() bool {
	return e.Code == CodeRateLimited || e.Code == CodeTimeout
}

// AsError extracts a typed failure from err, or nil if err carries none.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Classify maps a provider-reported error message to a failure code using
// the provider's error text. Substring matching is brittle but matches what
// providers actually emit today; keeping the mapping here in one place means
// a provider with structured error codes only has to replace this function.
func Classify(providerMessage string) Code {
	msg := strings.ToLower(providerMessage)
	if strings.Contains(msg, "rate limit") {
		return CodeRateLimited
	}
	if strings.Contains(msg, "timeout") {
		return CodeTimeout
	}
	return CodeSTTFailed
}
