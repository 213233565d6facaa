package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/energy-tariff-bridge/internal/meter"
	"github.com/nerrad567/energy-tariff-bridge/internal/tariff"
)

// ErrorPolicy decides what happens to the rest of the queue when a message fails.
type ErrorPolicy string

const (
	// PolicyDrop discards only the failing message.
	PolicyDrop ErrorPolicy = "drop"

	// PolicyClear discards the failing message and everything queued behind it.
	PolicyClear ErrorPolicy = "clear"
)

// DefaultIdleInterval is the pause between polls of an empty queue.
const DefaultIdleInterval = time.Second

// WorkerConfig holds the worker's tunables.
type WorkerConfig struct {
	Identity     Identity
	IdleInterval time.Duration
	OnError      ErrorPolicy
}

// WorkerDeps are the collaborators the worker drives. Queue and Index are
// required; a nil sink is treated as disabled.
type WorkerDeps struct {
	Queue      *Queue
	Index      *tariff.Index
	TimeSeries TimeSeriesSink
	Metrics    MetricsSink
	Observer   Observer
	Logger     Logger
}

// Stats is a snapshot of the worker counters.
type Stats struct {
	Processed uint64
	Failed    uint64
	Cleared   uint64
}

// Worker is the single consumer of the ingestion queue. It runs
// decode, classify, project and dispatch for one message at a time in
// FIFO order.
type Worker struct {
	cfg   WorkerConfig
	deps  WorkerDeps
	log   Logger
	obs   Observer
	stats struct {
		processed atomic.Uint64
		failed    atomic.Uint64
		cleared   atomic.Uint64
	}
}

// NewWorker creates a worker. Zero-valued config fields take defaults.
func NewWorker(cfg WorkerConfig, deps WorkerDeps) (*Worker, error) {
	if deps.Queue == nil || deps.Index == nil {
		return nil, errors.New("ingest: worker requires a queue and a schedule index")
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	switch cfg.OnError {
	case "":
		cfg.OnError = PolicyDrop
	case PolicyDrop, PolicyClear:
	default:
		return nil, fmt.Errorf("ingest: unknown error policy %q", cfg.OnError)
	}

	w := &Worker{cfg: cfg, deps: deps, log: deps.Logger, obs: deps.Observer}
	if w.log == nil {
		w.log = noopLogger{}
	}
	if w.obs == nil {
		w.obs = noopObserver{}
	}
	return w, nil
}

// Run consumes the queue until ctx is cancelled. It always returns nil;
// per-message failures are logged and never end the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started",
		"idle_interval", w.cfg.IdleInterval,
		"on_error", string(w.cfg.OnError),
	)

	idle := time.NewTimer(w.cfg.IdleInterval)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopped", "processed", w.stats.processed.Load(), "failed", w.stats.failed.Load())
			return nil
		}

		msg, ok := w.deps.Queue.TryDequeue()
		if ok {
			w.handle(ctx, msg)
			continue
		}

		idle.Reset(w.cfg.IdleInterval)
		select {
		case <-ctx.Done():
		case <-idle.C:
		}
	}
}

// handle processes one message and applies the error policy on failure.
func (w *Worker) handle(ctx context.Context, msg Message) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			w.fail(msg, StagePanic, fmt.Errorf("ingest: recovered panic: %v", r))
		}
	}()

	rec, stage, err := w.process(ctx, msg)
	if err != nil {
		w.fail(msg, stage, err)
		return
	}

	took := time.Since(start)
	w.stats.processed.Add(1)
	w.obs.Processed(rec, took)
	w.log.Debug("message processed",
		"topic", msg.Topic,
		"time_period", rec.Result.Name,
		"took", took,
	)
}

// process runs the pipeline stages for one message.
func (w *Worker) process(ctx context.Context, msg Message) (Record, Stage, error) {
	reading, err := meter.Decode(msg.Payload)
	if err != nil {
		return Record{}, StageDecode, err
	}

	result, err := tariff.Classify(reading, w.deps.Index)
	if err != nil {
		return Record{}, StageClassify, err
	}

	rec, err := Project(reading, result, w.cfg.Identity)
	if err != nil {
		return Record{}, StageProject, err
	}

	var tsErr, metricsErr error
	if s := w.deps.TimeSeries; s != nil && s.Enabled() {
		if err := s.WriteRecord(ctx, rec); err != nil {
			tsErr = fmt.Errorf("time-series sink: %w", err)
		}
	}
	if s := w.deps.Metrics; s != nil && s.Enabled() {
		if err := s.Publish([]Record{rec}); err != nil {
			metricsErr = fmt.Errorf("metrics sink: %w", err)
		}
	}

	switch {
	case tsErr != nil && metricsErr != nil:
		return rec, StageDispatch, errors.Join(tsErr, metricsErr)
	case tsErr != nil:
		return rec, StageTimeSeries, tsErr
	case metricsErr != nil:
		return rec, StageMetrics, metricsErr
	}
	return rec, "", nil
}

// fail records a failed message and applies the error policy.
func (w *Worker) fail(msg Message, stage Stage, err error) {
	w.stats.failed.Add(1)
	w.obs.Failed(stage, err)
	w.log.Error("message processing failed",
		"topic", msg.Topic,
		"stage", string(stage),
		"error", err,
	)

	if w.cfg.OnError != PolicyClear {
		return
	}

	n := w.deps.Queue.Clear()
	w.stats.cleared.Add(uint64(n))
	w.obs.Cleared(n)
	if n > 0 {
		w.log.Warn("queue cleared after failure", "discarded", n)
	}
}

// Stats returns the current counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Processed: w.stats.processed.Load(),
		Failed:    w.stats.failed.Load(),
		Cleared:   w.stats.cleared.Load(),
	}
}
