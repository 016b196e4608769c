package delivery

import (
	"errors"
	"fmt"
)

// Class buckets. Concrete errors wrap one of these so callers can classify
// with errors.Is without knowing every sentinel.
var (
	ErrFatal     = errors.New("fatal")
	ErrRetryable = errors.New("retryable")
)

var (
	ErrInvalidMessageType = &classError{msg: "invalid message type", class: ErrFatal}
	ErrQueueFull          = &classError{msg: "queue full", class: ErrFatal}
	ErrRateLimitExceeded  = &classError{msg: "rate limit exceeded", class: ErrRetryable}

	// ErrDuplicateSequence is what a transport wraps when the remote side
	// rejected a sequence number it has already seen.
	ErrDuplicateSequence = &classError{msg: "duplicate sequence", class: ErrRetryable}
)

var (
	ErrInvalidMessage   = errors.New("invalid message")
	ErrEmptyGroupID     = errors.New("group id is empty")
	ErrEmptyContent     = errors.New("content is empty")
	ErrEmptyMsgID       = errors.New("msg id is empty")
	ErrMissingMedia     = errors.New("media message without media url")
	ErrInvalidConfig    = errors.New("invalid delivery config")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

type classError struct {
	msg   string
	class error
}

func (e *classError) Error() string { return e.msg }

// Is lets errors.Is(ErrQueueFull, ErrFatal) report true.
func (e *classError) Is(target error) bool { return target == e.class }

// ValidationError reports a malformed Message. It is a caller bug, never retried.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// FatalError marks a transport failure that retrying cannot fix.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }
func (e *FatalError) Is(target error) bool {
	return target == ErrFatal
}

// Fatal wraps err so the Controller stops retrying it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// DuplicateSequenceError is returned by transports that detected a replayed sequence.
type DuplicateSequenceError struct {
	GroupID string
	MsgID   string
	Seq     int
}

func (e *DuplicateSequenceError) Error() string {
	return fmt.Sprintf("duplicate sequence %d for msg %s in group %s", e.Seq, e.MsgID, e.GroupID)
}

func (e *DuplicateSequenceError) Is(target error) bool {
	return target == ErrDuplicateSequence || target == ErrRetryable
}

func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }

func IsRetryable(err error) bool { return errors.Is(err, ErrRetryable) }

// IsValidation reports whether err came from Message.Validate.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDuplicateSequence reports whether the transport rejected the sequence number.
func IsDuplicateSequence(err error) bool { return errors.Is(err, ErrDuplicateSequence) }
