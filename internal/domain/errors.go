package domain

import (
	"errors"
	"fmt"
)

// Startup sentinels. Only the factory and chain builder return these.
var (
	ErrUnavailable   = fmt.Errorf("provider unavailable")
	ErrConfiguration = fmt.Errorf("invalid configuration")
	ErrConfigLoad    = fmt.Errorf("failed to load configuration")
	ErrDecryption    = fmt.Errorf("decryption failed")
	ErrEncryption    = fmt.Errorf("encryption operation failed")
)

// Request sentinels. Adapters wrap native errors with these so the
// dispatcher can classify them without knowing the backend.
var (
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrBadRequest      = fmt.Errorf("malformed request")
	ErrUnsupportedTask = fmt.Errorf("task kind not supported")
	ErrTimeout         = fmt.Errorf("operation timed out")
	ErrTransport       = fmt.Errorf("transport error")
	ErrServer          = fmt.Errorf("provider server error")
	ErrCircuitOpen     = fmt.Errorf("circuit open")
	ErrInvalidOutput   = fmt.Errorf("provider returned invalid output")
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrInvalidInput    = fmt.Errorf("invalid input")

	// ErrExhausted is matched by every AggregateFailure.
	ErrExhausted = fmt.Errorf("all providers failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Factory.Create")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ClassifySentinel reports the class of the first classification sentinel
// err wraps. Fatal sentinels are checked first, so an error wrapping both
// kinds is fatal.
func ClassifySentinel(err error) (Classification, bool) {
	for _, s := range fatalSentinels {
		if errors.Is(err, s) {
			return Classification{Class: Fatal, Sentinel: s}, true
		}
	}
	for _, s := range transientSentinels {
		if errors.Is(err, s) {
			return Classification{Class: Transient, Sentinel: s}, true
		}
	}
	return Classification{}, false
}

var transientSentinels = []error{
	ErrRateLimit, ErrTimeout, ErrServer, ErrTransport, ErrInvalidOutput,
}

var fatalSentinels = []error{
	ErrAuthInvalid, ErrBadRequest, ErrUnsupportedTask, ErrCircuitOpen, ErrContextOverflow,
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeUnavailable     ErrorCode = "UNAVAILABLE"
	CodeConfiguration   ErrorCode = "CONFIGURATION"
	CodeConfigLoad      ErrorCode = "CONFIG_LOAD"
	CodeDecryption      ErrorCode = "DECRYPTION"
	CodeEncryption      ErrorCode = "ENCRYPTION"
	CodeRateLimit       ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid     ErrorCode = "AUTH_INVALID"
	CodeBadRequest      ErrorCode = "BAD_REQUEST"
	CodeUnsupportedTask ErrorCode = "UNSUPPORTED_TASK"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeTransport       ErrorCode = "TRANSPORT"
	CodeServer          ErrorCode = "SERVER"
	CodeCircuitOpen     ErrorCode = "CIRCUIT_OPEN"
	CodeInvalidOutput   ErrorCode = "INVALID_OUTPUT"
	CodeContextOverflow ErrorCode = "CONTEXT_OVERFLOW"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeExhausted       ErrorCode = "EXHAUSTED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrUnavailable:     CodeUnavailable,
	ErrConfiguration:   CodeConfiguration,
	ErrConfigLoad:      CodeConfigLoad,
	ErrDecryption:      CodeDecryption,
	ErrEncryption:      CodeEncryption,
	ErrRateLimit:       CodeRateLimit,
	ErrAuthInvalid:     CodeAuthInvalid,
	ErrBadRequest:      CodeBadRequest,
	ErrUnsupportedTask: CodeUnsupportedTask,
	ErrTimeout:         CodeTimeout,
	ErrTransport:       CodeTransport,
	ErrServer:          CodeServer,
	ErrCircuitOpen:     CodeCircuitOpen,
	ErrInvalidOutput:   CodeInvalidOutput,
	ErrContextOverflow: CodeContextOverflow,
	ErrInvalidInput:    CodeInvalidInput,
}

// codePriority is the order in which wrapped sentinels are checked when an
// error matches more than one (an AggregateFailure wraps ErrExhausted and
// possibly ErrTimeout; the timeout is the more useful code).
var codePriority = []error{
	ErrTimeout, ErrCircuitOpen, ErrRateLimit, ErrAuthInvalid, ErrBadRequest,
	ErrUnsupportedTask, ErrContextOverflow, ErrInvalidOutput, ErrServer,
	ErrTransport, ErrUnavailable, ErrConfiguration, ErrConfigLoad,
	ErrDecryption, ErrEncryption, ErrInvalidInput,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It uses errors.Is to match sentinel errors and returns CodeUnknown if no
// matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	if errors.Is(err, ErrExhausted) {
		return CodeExhausted
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
