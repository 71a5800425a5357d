// Package errors defines the sentinel errors shared by the recovery engine,
// the HTTP API and the CLI, plus helpers that map them onto HTTP status
// codes and process exit codes.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrKeyTooLong       = errors.New("key too long")
	ErrOracleFailure    = errors.New("hash oracle failure")
	ErrJobNotFound      = errors.New("job not found")
	ErrJobExists        = errors.New("job already exists")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrUnavailable      = errors.New("dependency unavailable")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

// Process exit codes used by the CLI.
const (
	ExitFound     = 0
	ExitExhausted = 1
	ExitUsage     = 2
	ExitOracle    = 3
	ExitAborted   = 4
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrJobExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidArguments):
		return http.StatusBadRequest
	case errors.Is(err, ErrOracleFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode maps a recovery error onto the CLI exit status. A nil error means
// the secret was found.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitFound
	case errors.Is(err, ErrInvalidArguments):
		return ExitUsage
	case errors.Is(err, ErrOracleFailure):
		return ExitOracle
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return ExitAborted
	default:
		return ExitUsage
	}
}

var codes = []struct {
	code string
	err  error
}{
	{"invalid_arguments", ErrInvalidArguments},
	{"key_too_long", ErrKeyTooLong},
	{"oracle_failure", ErrOracleFailure},
	{"job_not_found", ErrJobNotFound},
	{"job_exists", ErrJobExists},
	{"rate_limited", ErrRateLimited},
	{"timeout", ErrTimeout},
	{"unavailable", ErrUnavailable},
}

// Code returns a stable wire code for err, used in API and RPC error bodies.
func Code(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// FromCode rebuilds an error carrying the sentinel named by code, so remote
// failures keep their exit status.
func FromCode(code, message string) error {
	for _, c := range codes {
		if c.code == code {
			return fmt.Errorf("%w: %s", c.err, message)
		}
	}
	return fmt.Errorf("%w: %s", ErrInternal, message)
}
