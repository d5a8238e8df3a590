package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: e.Detail,
	}
}

// Wrap returns the error with a captured stack.
func (e *CodeError) Wrap() error {
	return pkgerrors.WithStack(e.clone())
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	retErr := e.clone()
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if retErr.Detail == "" {
			retErr.Detail = detail
		} else {
			retErr.Detail += ", " + detail
		}
	}
	return pkgerrors.WithStack(retErr)
}

// Is matches on code so wrapped clones compare equal to the sentinel.
func (e *CodeError) Is(target error) bool {
	var codeErr *CodeError
	if !errors.As(target, &codeErr) {
		return false
	}
	return e.Code == codeErr.Code
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// Code extracts the CodeError code from err, 0 when err carries none.
func Code(err error) int {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return 0
}

func Is(err, target error) bool { return errors.Is(err, target) }

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, toString(msg, kv))
}

func New(msg string, kv ...any) error {
	return pkgerrors.New(toString(msg, kv))
}

func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	return ErrInternal.WrapMsg("panic error", "recover", fmt.Sprint(r))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
