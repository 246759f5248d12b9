package syncerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindInternal                Kind = "INTERNAL"
	KindCredentialsMissing      Kind = "CREDENTIALS_MISSING"
	KindBadCredentials          Kind = "BAD_CREDENTIALS"
	KindInsufficientPermissions Kind = "INSUFFICIENT_PERMISSIONS"
	KindTokenExchangeFailed     Kind = "TOKEN_EXCHANGE_FAILED"
	KindValidation              Kind = "VALIDATION_ERROR"
	KindSoftFetchFailure        Kind = "SOFT_FETCH_FAILURE"
	KindChunkFailure            Kind = "CHUNK_FAILURE"
	KindRunTimeout              Kind = "RUN_TIMEOUT"
	KindInvalidRequest          Kind = "INVALID_REQUEST"
	KindNotFound                Kind = "NOT_FOUND"
)

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrCredentialsMissing      = &Error{Kind: KindCredentialsMissing}
	ErrBadCredentials          = &Error{Kind: KindBadCredentials}
	ErrInsufficientPermissions = &Error{Kind: KindInsufficientPermissions}
	ErrTokenExchangeFailed     = &Error{Kind: KindTokenExchangeFailed}
	ErrValidation              = &Error{Kind: KindValidation}
	ErrRunTimeout              = &Error{Kind: KindRunTimeout}
	ErrInvalidRequest          = &Error{Kind: KindInvalidRequest}
	ErrNotFound                = &Error{Kind: KindNotFound}
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to err. A nil err stays nil.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsFatal reports whether err must end the operation instead of being
// recorded in its result. Soft fetch failures, chunk failures and validation
// of a single record are recoverable; everything else, including errors that
// carry no kind, is not.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindSoftFetchFailure, KindChunkFailure, KindValidation:
		return false
	}
	return true
}

var statusByKind = map[Kind]int{
	KindInvalidRequest:          http.StatusBadRequest,
	KindNotFound:                http.StatusNotFound,
	KindCredentialsMissing:      http.StatusPreconditionFailed,
	KindBadCredentials:          http.StatusUnauthorized,
	KindInsufficientPermissions: http.StatusForbidden,
	KindTokenExchangeFailed:     http.StatusBadGateway,
	KindValidation:              http.StatusUnprocessableEntity,
	KindRunTimeout:              http.StatusGatewayTimeout,
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	if s, ok := statusByKind[KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}
