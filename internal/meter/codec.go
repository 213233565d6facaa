package meter

import (
	"encoding/json"
	"errors"
	"fmt"
)

// wireReading mirrors the Tasmota SENSOR document. Pointer fields tell an
// absent or null key apart from a zero value.
type wireReading struct {
	Time     *string     `json:"Time"`
	Energy   *wireEnergy `json:"ENERGY"`
	ESP32    *wireESP32  `json:"ESP32"`
	TempUnit *string     `json:"TempUnit"`
}

type wireEnergy struct {
	TotalStartTime *string  `json:"TotalStartTime"`
	Total          *float64 `json:"Total"`
	Yesterday      *float64 `json:"Yesterday"`
	Today          *float64 `json:"Today"`
	Period         *float64 `json:"Period"`
	Power          *float64 `json:"Power"`
	ApparentPower  *float64 `json:"ApparentPower"`
	ReactivePower  *float64 `json:"ReactivePower"`
	Factor         *float64 `json:"Factor"`
	Frequency      *float64 `json:"Frequency"`
	Voltage        *float64 `json:"Voltage"`
	Current        *float64 `json:"Current"`
}

type wireESP32 struct {
	Temperature *float64 `json:"Temperature"`
}

// Decode parses a SENSOR payload.
//
// Every documented key is required and must carry the expected JSON type;
// unknown keys are ignored. All failures are *DecodeError.
func Decode(payload []byte) (Reading, error) {
	var w wireReading
	if err := json.Unmarshal(payload, &w); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return Reading{}, &DecodeError{
				Field: typeErr.Field,
				Err:   fmt.Errorf("%w: got %s", ErrFieldType, typeErr.Value),
			}
		}
		return Reading{}, &DecodeError{Err: fmt.Errorf("%w: %w", ErrMalformed, err)}
	}

	if field := w.firstMissing(); field != "" {
		return Reading{}, &DecodeError{Field: field, Err: ErrMissingField}
	}

	e := w.Energy
	return Reading{
		Time: *w.Time,
		Energy: Energy{
			TotalStartTime: *e.TotalStartTime,
			Total:          *e.Total,
			Yesterday:      *e.Yesterday,
			Today:          *e.Today,
			Period:         *e.Period,
			Power:          *e.Power,
			ApparentPower:  *e.ApparentPower,
			ReactivePower:  *e.ReactivePower,
			Factor:         *e.Factor,
			Frequency:      *e.Frequency,
			Voltage:        *e.Voltage,
			Current:        *e.Current,
		},
		Temperature: *w.ESP32.Temperature,
		TempUnit:    *w.TempUnit,
	}, nil
}

// firstMissing returns the path of the first absent required key, in
// document order, or "".
func (w *wireReading) firstMissing() string {
	if w.Time == nil {
		return "Time"
	}
	if w.Energy == nil {
		return "ENERGY"
	}

	e := w.Energy
	energy := []struct {
		name    string
		present bool
	}{
		{"TotalStartTime", e.TotalStartTime != nil},
		{"Total", e.Total != nil},
		{"Yesterday", e.Yesterday != nil},
		{"Today", e.Today != nil},
		{"Period", e.Period != nil},
		{"Power", e.Power != nil},
		{"ApparentPower", e.ApparentPower != nil},
		{"ReactivePower", e.ReactivePower != nil},
		{"Factor", e.Factor != nil},
		{"Frequency", e.Frequency != nil},
		{"Voltage", e.Voltage != nil},
		{"Current", e.Current != nil},
	}
	for _, f := range energy {
		if !f.present {
			return "ENERGY." + f.name
		}
	}

	if w.ESP32 == nil {
		return "ESP32"
	}
	if w.ESP32.Temperature == nil {
		return "ESP32.Temperature"
	}
	if w.TempUnit == nil {
		return "TempUnit"
	}
	return ""
}

// Encode renders r in the SENSOR wire format accepted by Decode.
func Encode(r Reading) ([]byte, error) {
	e := r.Energy
	w := wireReading{
		Time: &r.Time,
		Energy: &wireEnergy{
			TotalStartTime: &e.TotalStartTime,
			Total:          &e.Total,
			Yesterday:      &e.Yesterday,
			Today:          &e.Today,
			Period:         &e.Period,
			Power:          &e.Power,
			ApparentPower:  &e.ApparentPower,
			ReactivePower:  &e.ReactivePower,
			Factor:         &e.Factor,
			Frequency:      &e.Frequency,
			Voltage:        &e.Voltage,
			Current:        &e.Current,
		},
		ESP32:    &wireESP32{Temperature: &r.Temperature},
		TempUnit: &r.TempUnit,
	}

	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("meter: encode: %w", err)
	}
	return b, nil
}
