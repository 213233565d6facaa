// Package meter decodes the telemetry documents a Tasmota PZEM-004T energy
// monitor publishes on tele/<device>/SENSOR.
//
// Decoding validates the document against a fixed schema instead of
// accepting whatever keys happen to be present:
//
//	{"Time":"2024-01-01T12:00:00",
//	 "ENERGY":{"TotalStartTime":"2023-05-01T10:00:00","Total":12.5,...},
//	 "ESP32":{"Temperature":25.0},
//	 "TempUnit":"C"}
//
// No plausibility checks are applied to the values themselves.
package meter
