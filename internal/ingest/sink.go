package ingest

import (
	"context"
	"time"
)

// TimeSeriesSink receives one write per record. Writes are fire-and-forget
// from the worker's point of view; the worker does not retry.
type TimeSeriesSink interface {
	Enabled() bool
	WriteRecord(ctx context.Context, rec Record) error
}

// MetricsSink exposes the latest records on a pull endpoint.
type MetricsSink interface {
	Enabled() bool
	Publish(records []Record) error
}

// Stage names the step at which a message failed.
type Stage string

const (
	StageDecode     Stage = "decode"
	StageClassify   Stage = "classify"
	StageProject    Stage = "project"
	StageTimeSeries Stage = "timeseries"
	StageMetrics    Stage = "metrics"
	StageDispatch   Stage = "dispatch" // both sinks failed
	StagePanic      Stage = "panic"
)

// Observer receives worker events, typically to update metrics.
// Implementations must be safe to call from the worker goroutine.
type Observer interface {
	Processed(rec Record, took time.Duration)
	Failed(stage Stage, err error)
	Cleared(n int)
}

// Logger defines the logging interface for the worker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopObserver struct{}

func (noopObserver) Processed(Record, time.Duration) {}
func (noopObserver) Failed(Stage, error)             {}
func (noopObserver) Cleared(int)                     {}
