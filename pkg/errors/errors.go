package errors

import (
	stderrors "errors"
	"fmt"
)

// fundamental is an error with a message and a stack, but no wrapped cause.
type fundamental struct {
	msg string
	*stack
}

func (f *fundamental) Error() string { return f.msg }

// New returns an error with the supplied message and the stack trace at the
// point New was called.
func New(message string) error {
	return &fundamental{
		msg:   message,
		stack: callers(),
	}
}

// Errorf formats according to a format specifier and returns it as an error
// carrying a stack trace.
func Errorf(format string, args ...interface{}) error {
	return &fundamental{
		msg:   fmt.Sprintf(format, args...),
		stack: callers(),
	}
}

// NewWithReport returns a new error and reports it to the registered reporters.
func NewWithReport(message string) error {
	err := &fundamental{
		msg:   message,
		stack: callers(),
	}
	report(err)
	return err
}

// ErrorfAndReport formats a new error and reports it to the registered reporters.
func ErrorfAndReport(format string, args ...interface{}) error {
	err := &fundamental{
		msg:   fmt.Sprintf(format, args...),
		stack: callers(),
	}
	report(err)
	return err
}

type withStack struct {
	error
	*stack
}

func (w *withStack) Unwrap() error { return w.error }

// WithStack annotates err with a stack trace at the point WithStack was called.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &withStack{
		error: err,
		stack: callers(),
	}
}

// WithStackAndReport annotates err with a stack trace and reports it.
func WithStackAndReport(err error) error {
	if err == nil {
		return nil
	}
	wrapped := &withStack{
		error: err,
		stack: callers(),
	}
	report(wrapped)
	return wrapped
}

type withMessage struct {
	cause error
	msg   string
	*stack
}

func (w *withMessage) Error() string { return w.msg + ": " + w.cause.Error() }
func (w *withMessage) Unwrap() error { return w.cause }

// Wrap returns an error annotating err with a stack trace and the supplied
// message. If err is nil, Wrap returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &withMessage{
		cause: err,
		msg:   message,
		stack: callers(),
	}
}

// Wrapf returns an error annotating err with a stack trace and a formatted
// message. If err is nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &withMessage{
		cause: err,
		msg:   fmt.Sprintf(format, args...),
		stack: callers(),
	}
}

// WrapAndReport wraps err and reports the wrapped error.
func WrapAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := &withMessage{
		cause: err,
		msg:   message,
		stack: callers(),
	}
	report(wrapped)
	return wrapped
}

// WrapfAndReport wraps err with a formatted message and reports it.
func WrapfAndReport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := &withMessage{
		cause: err,
		msg:   fmt.Sprintf(format, args...),
		stack: callers(),
	}
	report(wrapped)
	return wrapped
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// Unwrap returns the result of calling the Unwrap method on err, if any.
func Unwrap(err error) error { return stderrors.Unwrap(err) }

// Cause returns the innermost error of err's chain.
func Cause(err error) error {
	for err != nil {
		unwrapped := stderrors.Unwrap(err)
		if unwrapped == nil {
			return err
		}
		err = unwrapped
	}
	return nil
}
