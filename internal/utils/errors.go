package utils

import (
	"errors"
	"fmt"
)

// Kind classifies orchestrator failures so callers and tests can branch on
// the category rather than string-matching log lines.
type Kind string

const (
	// KindTransient marks infra errors (metrics/platform call timeouts)
	// that are retried at the call site and never surfaced as incident
	// failures.
	KindTransient Kind = "transient"
	// KindStep marks a recovery step failure, handled via the rollback path.
	KindStep Kind = "step"
	// KindPlanning marks planning errors such as a missing catalog entry.
	KindPlanning Kind = "planning"
	// KindNotification marks best-effort alert delivery failures.
	KindNotification Kind = "notification"
)

// Error wraps an operation, failure kind, human-facing message, and cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E constructs a kinded Error.
func E(kind Kind, op, msg string, err error) error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost kinded error in err's chain,
// or the empty string when none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether err is classified as a transient infra error.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsStep reports whether err is classified as a step failure.
func IsStep(err error) bool { return KindOf(err) == KindStep }

// IsPlanning reports whether err is classified as a planning error.
func IsPlanning(err error) bool { return KindOf(err) == KindPlanning }

// IsNotification reports whether err is classified as a notification failure.
func IsNotification(err error) bool { return KindOf(err) == KindNotification }
