package cat

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInput       Kind = "input"
	KindUnavailable Kind = "unavailable"
)

// Sentinels for errors.Is matching on the kind.
var (
	ErrInput       = errors.New("cat: input error")
	ErrUnavailable = errors.New("cat: unavailable")
)

// Stable reasons returned to callers.
const (
	ReasonMissingIdentity = "examinee_id, course_id and assignment_id are required"
	ReasonNoEligibleItems = "no eligible items for assignment"
	ReasonLengthMismatch  = "answered_item_ids and responses must have the same length"
	ReasonEmptySubmission = "answered_item_ids and responses must not be empty"
	ReasonNoResolvedItems = "none of the answered items belong to the assignment"
	ReasonInvalidAlpha    = "smoothing_alpha must be within [0,1]"
	ReasonBankUnavailable = "question bank unavailable"
	ReasonAbilityStore    = "ability store unavailable"
	ReasonResponseLog     = "response log unavailable"
	ReasonLockUnavailable = "ability is busy, retry"
	ReasonAbilityNotFound = "ability not found"
)

// Error is the only error type the Engine returns. Reason is safe to show to
// callers; Err carries the underlying cause for logs.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrInput:
		return e.Kind == KindInput
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	}
	return false
}

func inputError(reason string) *Error {
	return &Error{Kind: KindInput, Reason: reason}
}

func unavailable(reason string, err error) *Error {
	return &Error{Kind: KindUnavailable, Reason: reason, Err: err}
}

// ReasonOf returns the caller-safe reason of err, or "" if err is not an *Error.
func ReasonOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}
