// Package apperror provides the coded error type shared by every sidecar component.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError carries a stable code that outer layers map to a status.
type AppError struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Context    string `json:"context,omitempty"`
	cause      error
}

func (e *AppError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches another *AppError by code, so errors.Is(err, apperror.New(CodeX)) works.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && e.Code == t.Code
}

// Option customizes a new AppError.
type Option func(*AppError)

// New builds an error with the code's default message and status.
func New(code Code, opts ...Option) *AppError {
	err := &AppError{
		Code:       code,
		Message:    messages[code],
		StatusCode: statusFor(code),
	}
	for _, opt := range opts {
		opt(err)
	}
	if err.Message == "" {
		err.Message = string(code)
	}
	return err
}

func WithMessage(message string) Option {
	return func(e *AppError) { e.Message = message }
}

// WithContext names what was being done, e.g. the RPC method or storage item.
func WithContext(context string) Option {
	return func(e *AppError) { e.Context = context }
}

func WithContextf(format string, args ...any) Option {
	return func(e *AppError) { e.Context = fmt.Sprintf(format, args...) }
}

func WithCause(cause error) Option {
	return func(e *AppError) { e.cause = cause }
}

// Wrap converts err to an AppError. An AppError anywhere in the chain keeps
// its code and only gains context.
func Wrap(err error, code Code, context string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		if context != "" && appErr.Context == "" {
			appErr.Context = context
		}
		return appErr
	}
	return New(code, WithContext(context), WithCause(err))
}

// GetCode returns the code of the first AppError in err's chain.
func GetCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknownError
}

func HasCode(err error, code Code) bool {
	return err != nil && GetCode(err) == code
}

// HTTPStatus maps err to a response status; errors without a code are 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func statusFor(code Code) int {
	switch code {
	case CodeBlockNotFound, CodePalletNotFound, CodeStorageItemNotFound,
		CodeConstantNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidBlockID, CodeInvalidStorageKey, CodeInvalidInput,
		CodeRequiredField, CodeValidationError,
		CodeRelayChainNotConfigured, CodeChainNotConfigured:
		return http.StatusBadRequest
	case CodeRPCTimeout:
		return http.StatusGatewayTimeout
	case CodeTransportError, CodeServiceUnavailable, CodeConnectionFailed, CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case CodeRPCError:
		return http.StatusBadGateway
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
