// Package errors provides the call core's error taxonomy.
// Codes map onto gRPC status codes and HTTP statuses so the bridge and the
// retry classifier share one vocabulary.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies a class of failure.
type Code int

const (
	Unknown Code = iota
	Internal
	InvalidArgument
	Cancelled
	DeviceUnavailable
	TransportFailure
	MalformedPayload
	PlaybackFailure
)

// ErrorDomain is reported in ErrorInfo details.
const ErrorDomain = "voicecall"

var codeNames = map[Code]string{
	Unknown:           "UNKNOWN",
	Internal:          "INTERNAL",
	InvalidArgument:   "INVALID_ARGUMENT",
	Cancelled:         "CANCELLED",
	DeviceUnavailable: "DEVICE_UNAVAILABLE",
	TransportFailure:  "TRANSPORT_FAILURE",
	MalformedPayload:  "MALFORMED_PAYLOAD",
	PlaybackFailure:   "PLAYBACK_FAILURE",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// grpcCodeMap maps error codes to gRPC status codes.
var grpcCodeMap = map[Code]codes.Code{
	Unknown:           codes.Unknown,
	Internal:          codes.Internal,
	InvalidArgument:   codes.InvalidArgument,
	Cancelled:         codes.Canceled,
	DeviceUnavailable: codes.FailedPrecondition,
	TransportFailure:  codes.Unavailable,
	MalformedPayload:  codes.DataLoss,
	PlaybackFailure:   codes.Internal,
}

var httpStatusMap = map[Code]int{
	Unknown:           http.StatusInternalServerError,
	Internal:          http.StatusInternalServerError,
	InvalidArgument:   http.StatusBadRequest,
	Cancelled:         http.StatusRequestTimeout,
	DeviceUnavailable: http.StatusServiceUnavailable,
	TransportFailure:  http.StatusBadGateway,
	MalformedPayload:  http.StatusUnprocessableEntity,
	PlaybackFailure:   http.StatusBadGateway,
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

// HTTPStatus returns the status the bridge answers with.
func (e *AppError) HTTPStatus() int {
	if s, ok := httpStatusMap[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// GRPCStatus returns a gRPC status with an ErrorInfo detail attached.
// status.FromError picks this up, which lets gRPC-based classifiers work on AppError.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	withInfo, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   e.Code.String(),
		Domain:   ErrorDomain,
		Metadata: e.Metadata,
	})
	if err != nil {
		return st
	}
	return withInfo
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

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// IsRetryable returns true if the error is potentially retryable.
// Nothing inside the call core retries; this informs external policy.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case TransportFailure, DeviceUnavailable:
		return true
	default:
		return false
	}
}
