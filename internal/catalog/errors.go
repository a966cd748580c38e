package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a lookup miss.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a uniqueness or reference violation.
	ErrConflict = errors.New("conflict")
)

// SourceUnavailableError reports a network or parse failure reading the catalog source.
type SourceUnavailableError struct {
	Op  string
	URL string
	Err error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// IsSourceUnavailable reports whether err wraps a SourceUnavailableError.
func IsSourceUnavailable(err error) bool {
	var target *SourceUnavailableError
	return errors.As(err, &target)
}

// DeliveryError reports a failed notification to one subscriber.
// Permanent is set when the destination rejected the message outright
// (blocked bot, unknown chat) rather than failing transiently.
type DeliveryError struct {
	Subscriber SubscriberID
	Permanent  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %d: %v", e.Subscriber, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
