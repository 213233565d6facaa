package tariff

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time as seconds since midnight, 0 to 86399.
type TimeOfDay int

// SecondsPerDay bounds the TimeOfDay domain.
const SecondsPerDay = 24 * 60 * 60

// NewTimeOfDay builds a TimeOfDay from its components. It does not range-check.
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60 + second)
}

// FromTime returns the wall-clock time of day of t in t's own location.
func FromTime(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute(), t.Second())
}

// ParseTimeOfDay parses "H:M:S" where each component has one or two digits,
// so both "7:05:00" and "07:05:00" are accepted.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q is not HH:MM:SS", ErrInvalidTime, s)
	}

	limits := [3]int{23, 59, 59}
	var v [3]int
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 || strings.Trim(p, "0123456789") != "" {
			return 0, fmt.Errorf("%w: %q is not HH:MM:SS", ErrInvalidTime, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > limits[i] {
			return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidTime, s)
		}
		v[i] = n
	}

	return NewTimeOfDay(v[0], v[1], v[2]), nil
}

// String formats t as HH:MM:SS.
func (t TimeOfDay) String() string {
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}
