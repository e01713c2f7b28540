package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误分类，HTTP 层据此决定状态码与日志级别。
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindPrecondition  Kind = "precondition"
	KindCapacity      Kind = "capacity"
	KindWindowExpired Kind = "window_expired"
	KindDuplicate     Kind = "duplicate"
	KindIntegrity     Kind = "integrity"
	KindSignature     Kind = "signature"
	KindExternal      Kind = "external"
	KindInternal      Kind = "internal"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrPrecondition  = errors.New("precondition failed")
	ErrCapacity      = errors.New("slot capacity exceeded")
	ErrWindowExpired = errors.New("response window expired")
	ErrDuplicate     = errors.New("duplicate delivery")
	ErrIntegrity     = errors.New("integrity violation")
	ErrSignature     = errors.New("invalid signature")
	ErrExternal      = errors.New("external dependency failed")
)

var sentinels = map[Kind]error{
	KindValidation:    ErrValidation,
	KindNotFound:      ErrNotFound,
	KindPrecondition:  ErrPrecondition,
	KindCapacity:      ErrCapacity,
	KindWindowExpired: ErrWindowExpired,
	KindDuplicate:     ErrDuplicate,
	KindIntegrity:     ErrIntegrity,
	KindSignature:     ErrSignature,
	KindExternal:      ErrExternal,
}

// Error 带分类的业务错误，Msg 直接返回给调用方。
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrXxx) 按分类匹配。
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

func newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error   { return newf(KindValidation, format, args...) }
func NotFound(format string, args ...any) error     { return newf(KindNotFound, format, args...) }
func Precondition(format string, args ...any) error { return newf(KindPrecondition, format, args...) }
func Capacity(format string, args ...any) error     { return newf(KindCapacity, format, args...) }
func WindowExpired(format string, args ...any) error {
	return newf(KindWindowExpired, format, args...)
}
func Duplicate(format string, args ...any) error { return newf(KindDuplicate, format, args...) }
func Integrity(format string, args ...any) error { return newf(KindIntegrity, format, args...) }
func Signature(format string, args ...any) error { return newf(KindSignature, format, args...) }

// External 包装下游调用失败，保留原始错误。
func External(err error, format string, args ...any) error {
	e := newf(KindExternal, format, args...)
	e.Err = err
	return e
}

// KindOf 返回错误分类；未分类错误归为 internal。
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return KindExternal
	case errors.Is(err, context.Canceled):
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindInternal
}

// Message 对外可见的错误描述，内部错误不泄露细节。
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	return err.Error()
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPrecondition, KindCapacity, KindWindowExpired, KindDuplicate:
		return http.StatusConflict
	case KindIntegrity:
		return http.StatusUnprocessableEntity
	case KindSignature:
		return http.StatusUnauthorized
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
