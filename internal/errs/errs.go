// Package errs defines the closed set of error kinds surfaced by the backup,
// restore and disaster-recovery subsystem.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error. The set is closed; callers switch on it.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindBusinessRule
	KindStorageProvider
	KindIntegrity
)

var kindNames = map[Kind]string{
	KindUnknown:         "UnknownError",
	KindValidation:      "ValidationError",
	KindNotFound:        "NotFoundError",
	KindBusinessRule:    "BusinessRuleError",
	KindStorageProvider: "StorageProviderError",
	KindIntegrity:       "IntegrityError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// KindFromName is the inverse of Kind.String. Unknown names map to KindUnknown.
func KindFromName(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

// Error is a classified error. Op names the failing operation, Code is an
// optional machine-readable detail (e.g. "daily_limit").
type Error struct {
	Kind    Kind
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) error {
	return newf(KindValidation, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return newf(KindNotFound, op, format, args...)
}

func BusinessRule(op, format string, args ...any) error {
	return newf(KindBusinessRule, op, format, args...)
}

func Integrity(op, format string, args ...any) error {
	return newf(KindIntegrity, op, format, args...)
}

// StorageProvider wraps a provider failure. A nil err yields nil.
func StorageProvider(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStorageProvider, Op: op, Err: err}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithCode returns a copy of err carrying code. Non-classified errors are
// returned unchanged.
func WithCode(err error, code string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	cp := *e
	cp.Code = code
	return &cp
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the outermost classified error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a job hitting err should be retried with backoff.
// Only provider failures are transient.
func Retryable(err error) bool {
	return Is(err, KindStorageProvider)
}
