package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindAPIKey     ErrorKind = "api_key"
	KindGeneration ErrorKind = "generation"
	KindNotFound   ErrorKind = "not_found"
)

// Stable machine-readable codes surfaced in the JSON error envelope.
const (
	CodePromptRequired   = "ERR_PROMPT_REQUIRED"
	CodePromptTooLong    = "ERR_PROMPT_TOO_LONG"
	CodeInvalidOption    = "ERR_INVALID_OPTION"
	CodeTaskIDRequired   = "ERR_TASK_ID_REQUIRED"
	CodeGUIDRequired     = "ERR_GUID_REQUIRED"
	CodeAPIKeyMissing    = "ERR_API_KEY_MISSING"
	CodeFreepikCreate    = "ERR_FREEPIK_CREATE"
	CodeFreepikStatus    = "ERR_FREEPIK_STATUS"
	CodeGenerationFailed = "ERR_GENERATION_FAILED"
	CodeTimeout          = "ERR_TIMEOUT"
	CodeEmptyResponse    = "ERR_EMPTY_RESPONSE"
	CodeImageNotFound    = "ERR_IMAGE_NOT_FOUND"
	CodeFileSend         = "ERR_FILE_SEND"
	CodeInvalidBody      = "ERR_INVALID_BODY"
	CodeInternal         = "ERR_INTERNAL"
)

// Error is the typed failure shared by the client, services and controllers.
// Data carries the remote payload for generation failures and is never sent
// to HTTP callers.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Data    any
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

func NewValidationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func NewAPIKeyError(message string) *Error {
	return &Error{Kind: KindAPIKey, Code: CodeAPIKeyMissing, Message: message}
}

func NewGenerationError(code, message string) *Error {
	return &Error{Kind: KindGeneration, Code: code, Message: message}
}

func NewNotFoundError(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func IsKind(err error, kind ErrorKind) bool {
	de, ok := AsError(err)
	return ok && de.Kind == kind
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	if de, ok := AsError(err); ok {
		return de.Code
	}
	return ""
}
