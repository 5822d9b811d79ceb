// Package rpcerr defines the error taxonomy of the user service.  Every
// failure surfaced to a caller is an *Error carrying a kind, a machine
// readable code and a human readable message.  Errors convert to a gRPC
// status (with a google.rpc.ErrorInfo detail) and to trailer metadata so
// callers can read the type and code without parsing the message.
package rpcerr

import (
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Kind classifies an error.
type Kind string

const (
	KindAuth       Kind = "AUTH"
	KindValidation Kind = "VALIDATION"
	KindNotFound   Kind = "NOT_FOUND"
	KindInternal   Kind = "INTERNAL"
)

// Machine readable codes.
const (
	CodeInvalidAPIKey      = "INVALID_APIKEY"
	CodeInvalidID          = "INVALID_ID"
	CodeMissingEmail       = "MISSING_EMAIL"
	CodeInvalidDateOfBirth = "INVALID_DATE_OF_BIRTH"
	CodeMissingPassword    = "MISSING_PASSWORD"
	CodeInvalidPassword    = "INVALID_PASSWORD"
	CodeInvalidMetadata    = "INVALID_METADATA"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeInternal           = "INTERNAL"
)

const (
	notAuthorizedMessage = "Not Authorized"
	internalMessage      = "internal error"

	trailerTypeKey = "type"
	trailerCodeKey = "code"
)

// Error is a classified service error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Err is the underlying cause.  It is never exposed to callers.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// GRPCCode maps the error kind onto a gRPC status code.
func (e *Error) GRPCCode() codes.Code {
	switch e.Kind {
	case KindAuth:
		return codes.Unauthenticated
	case KindValidation:
		return codes.InvalidArgument
	case KindNotFound:
		return codes.NotFound
	default:
		return codes.Internal
	}
}

// GRPCStatus lets status.FromError and the gRPC server convert an *Error
// returned from a handler into a status with an ErrorInfo detail.
func (e *Error) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Message)
	withDetails, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason: e.Code,
		Domain: string(e.Kind),
		Metadata: map[string]string{
			trailerTypeKey: string(e.Kind),
			trailerCodeKey: e.Code,
		},
	})
	if err != nil {
		return st
	}
	return withDetails
}

// Trailer returns the structured metadata pair sent as response trailers.
func (e *Error) Trailer() metadata.MD {
	return metadata.Pairs(trailerTypeKey, string(e.Kind), trailerCodeKey, e.Code)
}

// Unauthenticated is the single error returned for every rejected
// credential, whatever the reason.
func Unauthenticated() *Error {
	return &Error{Kind: KindAuth, Code: CodeInvalidAPIKey, Message: notAuthorizedMessage}
}

// Validation builds a VALIDATION error.
func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NOT_FOUND error.
func NotFound(code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure.  Callers only see a generic
// message; the cause stays available through errors.Unwrap for logging.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: internalMessage, Err: err}
}

// As reports whether err is, or wraps, an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// FromStatus recovers type and code from the ErrorInfo detail of a status
// received by a client.  ok is false when the status carries no detail.
func FromStatus(st *status.Status) (kind Kind, code string, ok bool) {
	for _, d := range st.Details() {
		if info, isInfo := d.(*errdetails.ErrorInfo); isInfo {
			return Kind(info.GetDomain()), info.GetReason(), true
		}
	}
	return "", "", false
}
