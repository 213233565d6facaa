// Package tariff classifies meter readings into time-of-day tariff windows.
//
// A schedule is an ordered list of named windows, each a list of half-open
// [after, before) wall-clock intervals. Lookup walks windows in
// configuration order and returns the first that contains the time, so
// overlapping windows resolve by order, not by value:
//
//	night: 23:00:00-07:00:00   (wraps midnight)
//	peak:  17:00:00-20:00:00
//	day:   07:00:00-23:00:00
//
// Malformed schedule entries are skipped when the Index is built and a
// time outside every window classifies as Undefined; classification itself
// only fails when the reading's timestamp is unreadable.
package tariff
