package tariff

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTime is returned when a schedule boundary is not a valid HH:MM:SS.
	ErrInvalidTime = errors.New("tariff: invalid time of day")

	// ErrTimestamp is matched by every TimestampParseError.
	ErrTimestamp = errors.New("tariff: invalid reading timestamp")
)

// IntervalError reports a schedule condition that was skipped while
// building the index.
type IntervalError struct {
	Window    string
	Condition int // zero-based position within the window
	Err       error
}

func (e *IntervalError) Error() string {
	return fmt.Sprintf("schedule.%s.conditions[%d]: %v", e.Window, e.Condition, e.Err)
}

func (e *IntervalError) Unwrap() error { return e.Err }

// TimestampParseError is returned by Classify when the reading's timestamp
// does not follow the fixed profile.
type TimestampParseError struct {
	Value string
	Err   error
}

func (e *TimestampParseError) Error() string {
	return fmt.Sprintf("%v %q: %v", ErrTimestamp, e.Value, e.Err)
}

// Unwrap exposes ErrTimestamp and the time.Parse error.
func (e *TimestampParseError) Unwrap() []error {
	return []error{ErrTimestamp, e.Err}
}
