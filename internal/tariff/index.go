package tariff

import (
	"github.com/nerrad567/energy-tariff-bridge/internal/infrastructure/config"
)

// Interval is the half-open wall-clock range [After, Before).
//
// After > Before wraps midnight and covers [After, 24:00) plus
// [00:00, Before). After == Before is empty.
type Interval struct {
	After  TimeOfDay
	Before TimeOfDay
}

// Contains reports whether t falls inside the interval.
func (iv Interval) Contains(t TimeOfDay) bool {
	if iv.After <= iv.Before {
		return iv.After <= t && t < iv.Before
	}
	return t >= iv.After || t < iv.Before
}

// Window is one named tariff window.
type Window struct {
	Name string

	// ID is the 1-based position of the window in the configuration.
	ID int

	Intervals []Interval
}

// Result is the outcome of a lookup.
type Result struct {
	Name string
	ID   int
}

// Undefined is returned when no window matches.
var Undefined = Result{Name: "undefined", ID: 0}

// Index is the read-only, ordered schedule used for classification.
// It is safe for concurrent use once built.
type Index struct {
	windows []Window
}

// NewIndex builds an Index from the configured schedule.
//
// Conditions whose boundaries do not parse are skipped and returned as
// *IntervalError values; they never make the build fail. A window left
// with no intervals keeps its ID but can never match.
func NewIndex(schedule config.ScheduleConfig) (*Index, []error) {
	var skipped []error
	idx := &Index{windows: make([]Window, 0, len(schedule))}

	for i, sw := range schedule {
		w := Window{Name: sw.Name, ID: i + 1}
		for j, c := range sw.Conditions {
			iv, err := parseInterval(c)
			if err != nil {
				skipped = append(skipped, &IntervalError{Window: sw.Name, Condition: j, Err: err})
				continue
			}
			w.Intervals = append(w.Intervals, iv)
		}
		idx.windows = append(idx.windows, w)
	}

	return idx, skipped
}

func parseInterval(c config.ScheduleCondition) (Interval, error) {
	after, err := ParseTimeOfDay(c.After)
	if err != nil {
		return Interval{}, err
	}
	before, err := ParseTimeOfDay(c.Before)
	if err != nil {
		return Interval{}, err
	}
	return Interval{After: after, Before: before}, nil
}

// Lookup returns the first window, in configuration order, with an
// interval containing t. Within a window intervals are tried in order.
func (idx *Index) Lookup(t TimeOfDay) Result {
	for _, w := range idx.windows {
		for _, iv := range w.Intervals {
			if iv.Contains(t) {
				return Result{Name: w.Name, ID: w.ID}
			}
		}
	}
	return Undefined
}

// Windows returns the window names in configuration order.
func (idx *Index) Windows() []string {
	names := make([]string, 0, len(idx.windows))
	for _, w := range idx.windows {
		names = append(names, w.Name)
	}
	return names
}
