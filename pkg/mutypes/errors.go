package mutypes

import (
	"errors"
	"fmt"
)

// error taxonomy of the sync core. provider-level errors are converted into queue item
// state by the engine and never thrown upward; only storage-unavailable propagates
type ErrorKind string

const (
	ErrorAuth               ErrorKind = "auth"                // demotes connection to disconnected
	ErrorNotFound           ErrorKind = "not_found"           // often benign (delete-of-absent)
	ErrorConflict           ErrorKind = "conflict"            // checksum mismatch, resolved via policy
	ErrorTransientNetwork   ErrorKind = "transient_network"   // retried up to ceiling
	ErrorConfiguration      ErrorKind = "configuration"       // fails fast, no retry
	ErrorStorageUnavailable ErrorKind = "storage_unavailable" // local persistence inaccessible
	ErrorNotSupported       ErrorKind = "not_supported"       // operation not applicable to provider family
)

type OpError struct {
	Kind    ErrorKind
	Code    string // optional machine code, e.g. upstream HTTP status
	Message string
}

func (e *OpError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func KindOf(err error) ErrorKind {
	opErr := &OpError{}
	if errors.As(err, &opErr) {
		return opErr.Kind
	}

	return ErrorTransientNetwork // unclassified errors are treated as retryable
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func AuthErrorf(format string, args ...interface{}) error {
	return &OpError{Kind: ErrorAuth, Message: fmt.Sprintf(format, args...)}
}

func NotFoundErrorf(format string, args ...interface{}) error {
	return &OpError{Kind: ErrorNotFound, Message: fmt.Sprintf(format, args...)}
}

func ConflictErrorf(format string, args ...interface{}) error {
	return &OpError{Kind: ErrorConflict, Message: fmt.Sprintf(format, args...)}
}

func TransientErrorf(format string, args ...interface{}) error {
	return &OpError{Kind: ErrorTransientNetwork, Message: fmt.Sprintf(format, args...)}
}

func ConfigurationErrorf(format string, args ...interface{}) error {
	return &OpError{Kind: ErrorConfiguration, Message: fmt.Sprintf(format, args...)}
}

func StorageUnavailablef(format string, args ...interface{}) error {
	return &OpError{Kind: ErrorStorageUnavailable, Message: fmt.Sprintf(format, args...)}
}

func NotSupportedErrorf(format string, args ...interface{}) error {
	return &OpError{Kind: ErrorNotSupported, Message: fmt.Sprintf(format, args...)}
}

// attaches an upstream machine code (HTTP status etc.) to a taxonomy error
func WithCode(err error, code string) error {
	opErr := &OpError{}
	if errors.As(err, &opErr) {
		return &OpError{Kind: opErr.Kind, Code: code, Message: opErr.Message}
	}

	return err
}
