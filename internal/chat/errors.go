package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound means the identity has no registered user row.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmptyMessage rejects a chat turn with no text.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrEmptyMessageList rejects finalization without a message list.
	ErrEmptyMessageList = errors.New("message list is empty")
	// ErrEmptyUserName rejects registration without a name.
	ErrEmptyUserName = errors.New("user name is empty")
	// ErrUserExists rejects registration of a taken name.
	ErrUserExists = errors.New("user already exists")
)

// UpstreamError marks a completion-endpoint failure: transport errors,
// timeouts and non-2xx statuses. The turn aborts but the user turn stays
// durably appended.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream completion failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistError marks a transcript or database write failure.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
