// Package errors provides the structured error type shared by the capture
// pipeline, the inference clients and the control surface.
package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies a class of failure independent of transport.
type Code int

const (
	CodeUnknown Code = iota
	CodeInternal
	CodeInvalidArgument
	CodeNotFound
	CodeUnavailable
	CodeTimeout
	CodeCancelled
	CodeRateLimited
	CodeCircuitOpen
	CodeDeviceNotFound
	CodeStreamFailed
	CodeTranscriptionFailed
	CodeTranscriptionEmpty
	CodeAnalysisFailed
	CodeInvalidResponse
	CodeStoreIO
	CodeConfigInvalid
)

var codeNames = map[Code]string{
	CodeUnknown:             "UNKNOWN",
	CodeInternal:            "INTERNAL",
	CodeInvalidArgument:     "INVALID_ARGUMENT",
	CodeNotFound:            "NOT_FOUND",
	CodeUnavailable:         "UNAVAILABLE",
	CodeTimeout:             "TIMEOUT",
	CodeCancelled:           "CANCELLED",
	CodeRateLimited:         "RATE_LIMITED",
	CodeCircuitOpen:         "CIRCUIT_OPEN",
	CodeDeviceNotFound:      "DEVICE_NOT_FOUND",
	CodeStreamFailed:        "STREAM_FAILED",
	CodeTranscriptionFailed: "TRANSCRIPTION_FAILED",
	CodeTranscriptionEmpty:  "TRANSCRIPTION_EMPTY",
	CodeAnalysisFailed:      "ANALYSIS_FAILED",
	CodeInvalidResponse:     "INVALID_RESPONSE",
	CodeStoreIO:             "STORE_IO",
	CodeConfigInvalid:       "CONFIG_INVALID",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// grpcCodeMap maps error codes to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	CodeUnknown:             codes.Unknown,
	CodeInternal:            codes.Internal,
	CodeInvalidArgument:     codes.InvalidArgument,
	CodeNotFound:            codes.NotFound,
	CodeUnavailable:         codes.Unavailable,
	CodeTimeout:             codes.DeadlineExceeded,
	CodeCancelled:           codes.Canceled,
	CodeRateLimited:         codes.ResourceExhausted,
	CodeCircuitOpen:         codes.Unavailable,
	CodeDeviceNotFound:      codes.FailedPrecondition,
	CodeStreamFailed:        codes.FailedPrecondition,
	CodeTranscriptionFailed: codes.Internal,
	CodeTranscriptionEmpty:  codes.InvalidArgument,
	CodeAnalysisFailed:      codes.Internal,
	CodeInvalidResponse:     codes.Internal,
	CodeStoreIO:             codes.Internal,
	CodeConfigInvalid:       codes.InvalidArgument,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus lets status.FromError recognise an AppError.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.GRPCCode(), e.Error())
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError converts a gRPC error into an AppError, keeping the original as cause.
func FromGRPCError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: CodeUnknown, Message: err.Error(), Cause: err}
	}
	return &AppError{Code: grpcToErrorCode(st.Code()), Message: st.Message(), Cause: err}
}

// grpcToErrorCode maps gRPC codes back to our error codes (best effort).
func grpcToErrorCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return CodeInvalidArgument
	case codes.NotFound:
		return CodeNotFound
	case codes.Unavailable, codes.Aborted:
		return CodeUnavailable
	case codes.DeadlineExceeded:
		return CodeTimeout
	case codes.Canceled:
		return CodeCancelled
	case codes.Internal, codes.DataLoss:
		return CodeInternal
	case codes.ResourceExhausted:
		return CodeRateLimited
	default:
		return CodeUnknown
	}
}

// CodeOf returns the code of the outermost AppError in err's chain.
func CodeOf(err error) (Code, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code, true
	}
	return CodeUnknown, false
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	return Classify(err) == Transient
}
