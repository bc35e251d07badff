// Package errs defines the failure taxonomy of an import job.
//
// Every error that ends a job is an *Error carrying one Kind. Callers classify
// with errors.Is against the Kind sentinels (errs.Timeout, errs.DecodeError, ...)
// or with KindOf; the wrapped cause stays reachable through errors.Unwrap.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a job failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindUnsupportedFormat
	KindEmptyDataset
	KindStorage
	KindDecode
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindEmptyDataset:
		return "empty_dataset"
	case KindStorage:
		return "storage_error"
	case KindDecode:
		return "decode_error"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

// HTTPStatus maps a kind to the status code the API answers with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case KindEmptyDataset, KindDecode:
		return http.StatusUnprocessableEntity
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindStorage:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// TimeoutMessage is the error message recorded on a job that ran out of time.
const TimeoutMessage = "Timeout: processing exceeded the time limit"

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	UnsupportedFormat = &Error{Kind: KindUnsupportedFormat}
	EmptyDataset      = &Error{Kind: KindEmptyDataset}
	StorageError      = &Error{Kind: KindStorage}
	DecodeError       = &Error{Kind: KindDecode}
	Timeout           = &Error{Kind: KindTimeout}
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "blob.download"
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Kind == KindTimeout {
		return TimeoutMessage
	}
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so sentinels compare equal to any wrapped instance.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an *Error. A nil err is allowed for kinds that need no cause.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef is E with a formatted cause.
func Ef(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the human-readable text stored on a failed job.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if KindOf(err) == KindTimeout {
		return TimeoutMessage
	}
	return err.Error()
}
