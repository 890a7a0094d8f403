package lifecycle

import "fmt"

// Reason is a stable machine-readable failure code.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonInvalidTransition Reason = "invalid_transition"
	ReasonConflict          Reason = "conflict"
	ReasonDuplicateCode     Reason = "duplicate_code"
	ReasonInvalidArgument   Reason = "invalid_argument"
	ReasonUnauthenticated   Reason = "unauthenticated"
	ReasonForbidden         Reason = "forbidden"
	ReasonSystemFault       Reason = "system_fault"
)

// Failure is the non-success half of an Outcome.
type Failure struct {
	Reason  Reason
	Message string
	Codes   []string // offending codes for duplicate_code on bulk create
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Reason, f.Message)
}

// Outcome is the result of every Service operation: a value or a Failure,
// never both.
type Outcome[T any] struct {
	value   T
	failure *Failure
}

// Success wraps a value.
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{value: v}
}

// Fail builds a failed outcome.
func Fail[T any](reason Reason, message string) Outcome[T] {
	return Outcome[T]{failure: &Failure{Reason: reason, Message: message}}
}

func failWith[T any](f *Failure) Outcome[T] {
	return Outcome[T]{failure: f}
}

// OK reports whether the operation succeeded.
func (o Outcome[T]) OK() bool {
	return o.failure == nil
}

// Value returns the success value, or the zero value on failure.
func (o Outcome[T]) Value() T {
	return o.value
}

// Failure returns the failure, or nil on success.
func (o Outcome[T]) Failure() *Failure {
	return o.failure
}

// Err returns the failure as an error, or nil on success.
func (o Outcome[T]) Err() error {
	if o.failure == nil {
		return nil
	}
	return o.failure
}

// Reason returns the failure reason, or "" on success.
func (o Outcome[T]) Reason() Reason {
	if o.failure == nil {
		return ""
	}
	return o.failure.Reason
}
