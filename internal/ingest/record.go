package ingest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/energy-tariff-bridge/internal/meter"
	"github.com/nerrad567/energy-tariff-bridge/internal/tariff"
)

// Tag keys on every Record.
const (
	TagClass           = "class"
	TagSensor          = "sensor"
	TagTimePeriod      = "time_period"
	TagTimePeriodID    = "time_period_id"
	TagTemperatureUnit = "temperature_unit"
)

// Field keys on every Record.
const (
	FieldTotalStartTime = "total_start_time"
	FieldTotal          = "total"
	FieldYesterday      = "yesterday"
	FieldToday          = "today"
	FieldPeriod         = "period"
	FieldPower          = "power"
	FieldApparentPower  = "apparent_power"
	FieldReactivePower  = "reactive_power"
	FieldFactor         = "factor"
	FieldFrequency      = "frequency"
	FieldVoltage        = "voltage"
	FieldCurrent        = "current"
	FieldTemperature    = "temperature"
)

// Identity holds the fixed tags that name the meter.
type Identity struct {
	Measurement string
	Class       string
	Sensor      string

	// Location interprets the meter's zone-less timestamps. Nil means UTC.
	Location *time.Location
}

// Record is a classified reading shaped for the sinks. It is created per
// message and discarded after dispatch.
type Record struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time

	Reading meter.Reading
	Result  tariff.Result
}

// Project builds the Record for a classified reading.
//
// Counters kept as integers by the meter (period, power, voltage and so on)
// are written as int64, truncating toward zero.
func Project(r meter.Reading, res tariff.Result, id Identity) (Record, error) {
	loc := id.Location
	if loc == nil {
		loc = time.UTC
	}
	ts, err := time.ParseInLocation(meter.TimeLayout, r.Time, loc)
	if err != nil {
		return Record{}, fmt.Errorf("ingest: record time %q: %w", r.Time, err)
	}

	e := r.Energy
	return Record{
		Measurement: id.Measurement,
		Tags: map[string]string{
			TagClass:           id.Class,
			TagSensor:          id.Sensor,
			TagTimePeriod:      res.Name,
			TagTimePeriodID:    strconv.Itoa(res.ID),
			TagTemperatureUnit: r.TempUnit,
		},
		Fields: map[string]any{
			FieldTotalStartTime: e.TotalStartTime,
			FieldTotal:          e.Total,
			FieldYesterday:      e.Yesterday,
			FieldToday:          e.Today,
			FieldPeriod:         int64(e.Period),
			FieldPower:          int64(e.Power),
			FieldApparentPower:  int64(e.ApparentPower),
			FieldReactivePower:  int64(e.ReactivePower),
			FieldFactor:         e.Factor,
			FieldFrequency:      int64(e.Frequency),
			FieldVoltage:        int64(e.Voltage),
			FieldCurrent:        e.Current,
			FieldTemperature:    r.Temperature,
		},
		Time:    ts,
		Reading: r,
		Result:  res,
	}, nil
}
