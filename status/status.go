// Package status defines the closed status-code enumeration of the agent
// transport and the coded error type carried on every response.
package status

import "fmt"

// Code is a wire-stable response status code. The enumeration is closed;
// numeric values never change.
type Code uint32

const (
	OK                 Code = 0
	Cancelled          Code = 1
	Unknown            Code = 2
	InvalidArgument    Code = 3
	DeadlineExceeded   Code = 4
	NotFound           Code = 5
	AlreadyExists      Code = 6
	PermissionDenied   Code = 7
	ResourceExhausted  Code = 8
	FailedPrecondition Code = 9
	Aborted            Code = 10
	OutOfRange         Code = 11
	Unimplemented      Code = 12
	Internal           Code = 13
	Unavailable        Code = 14
	DataLoss           Code = 15
	Unauthenticated    Code = 16
)

var codeNames = map[Code]string{
	OK:                 "OK",
	Cancelled:          "CANCELLED",
	Unknown:            "UNKNOWN",
	InvalidArgument:    "INVALID_ARGUMENT",
	DeadlineExceeded:   "DEADLINE_EXCEEDED",
	NotFound:           "NOT_FOUND",
	AlreadyExists:      "ALREADY_EXISTS",
	PermissionDenied:   "PERMISSION_DENIED",
	ResourceExhausted:  "RESOURCE_EXHAUSTED",
	FailedPrecondition: "FAILED_PRECONDITION",
	Aborted:            "ABORTED",
	OutOfRange:         "OUT_OF_RANGE",
	Unimplemented:      "UNIMPLEMENTED",
	Internal:           "INTERNAL",
	Unavailable:        "UNAVAILABLE",
	DataLoss:           "DATA_LOSS",
	Unauthenticated:    "UNAUTHENTICATED",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE(%d)", uint32(c))
}

// Status is a code plus a human-readable message. A *Status with a non-OK
// code is an error; handlers return one to pick the wire code themselves.
type Status struct {
	Code    Code
	Message string
}

func (s *Status) Error() string {
	return fmt.Sprintf("rpc status: %s: %s", s.Code, s.Message)
}

// New creates a Status with the given code and message.
func New(c Code, msg string) *Status {
	return &Status{Code: c, Message: msg}
}

// Newf creates a Status with a formatted message.
func Newf(c Code, format string, args ...any) *Status {
	return New(c, fmt.Sprintf(format, args...))
}

// FromError converts a handler error to the Status that goes on the wire.
// A *Status passes through unchanged so handlers control their own codes;
// anything else becomes UNKNOWN with the error's rendered description.
func FromError(err error) *Status {
	if err == nil {
		return &Status{Code: OK}
	}
	if s, ok := err.(*Status); ok {
		return s
	}
	return &Status{Code: Unknown, Message: err.Error()}
}
