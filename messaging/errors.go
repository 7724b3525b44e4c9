package messaging

import (
	"errors"
	"fmt"
)

// ErrorKind - класс ошибки на границе компонента (индекс диалогов или сессия)
type ErrorKind string

const (
	KindAuth     ErrorKind = "auth"
	KindFetch    ErrorKind = "fetch"
	KindSend     ErrorKind = "send"
	KindMarkRead ErrorKind = "mark_read"
)

var (
	ErrNoSession       = errors.New("no authenticated session")
	ErrNoPartner       = errors.New("conversation partner is not set")
	ErrEmptyContent    = errors.New("message content is empty")
	ErrNotReady        = errors.New("conversation is not ready")
	ErrClosed          = errors.New("conversation view is closed")
	ErrProfileNotFound = errors.New("profile not found")
)

// Error оборачивает причину ошибки вместе с операцией и её классом
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf возвращает класс ошибки или пустую строку, если err не *Error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func authError(op string, err error) error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

func fetchError(op string, err error) error {
	return &Error{Kind: KindFetch, Op: op, Err: err}
}

func sendError(op string, err error) error {
	return &Error{Kind: KindSend, Op: op, Err: err}
}

func markReadError(op string, err error) error {
	return &Error{Kind: KindMarkRead, Op: op, Err: err}
}
