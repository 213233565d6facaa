package tariff

import (
	"time"

	"github.com/nerrad567/energy-tariff-bridge/internal/meter"
)

// Classify maps a reading onto a tariff window using the wall-clock time of
// its timestamp. No timezone conversion is applied; the meter reports local
// time and the schedule is written in local time.
func Classify(r meter.Reading, idx *Index) (Result, error) {
	ts, err := time.Parse(meter.TimeLayout, r.Time)
	if err != nil {
		return Undefined, &TimestampParseError{Value: r.Time, Err: err}
	}
	return idx.Lookup(FromTime(ts)), nil
}
