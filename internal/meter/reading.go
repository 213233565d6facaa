package meter

// TimeLayout is the timestamp profile Tasmota uses for Time and
// ENERGY.TotalStartTime (local wall-clock, no zone).
const TimeLayout = "2006-01-02T15:04:05"

// Reading is one decoded SENSOR telemetry sample.
//
// Reading is a value type; pass it by value and treat it as immutable.
type Reading struct {
	// Time is the device timestamp in TimeLayout.
	Time string

	Energy Energy

	// Temperature is the ESP32 die temperature, in TempUnit.
	Temperature float64
	TempUnit    string
}

// Energy holds the PZEM-004T counters and instantaneous values.
type Energy struct {
	TotalStartTime string
	Total          float64 // kWh since TotalStartTime
	Yesterday      float64 // kWh
	Today          float64 // kWh
	Period         float64 // Wh since the previous telemetry period
	Power          float64 // W
	ApparentPower  float64 // VA
	ReactivePower  float64 // VAr
	Factor         float64
	Frequency      float64 // Hz
	Voltage        float64 // V
	Current        float64 // A
}
