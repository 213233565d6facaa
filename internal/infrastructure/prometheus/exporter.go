package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/energy-tariff-bridge/internal/infrastructure/config"
	"github.com/nerrad567/energy-tariff-bridge/internal/ingest"
	"github.com/nerrad567/energy-tariff-bridge/internal/meter"
	"github.com/nerrad567/energy-tariff-bridge/internal/supervisor"
)

const (
	namespace = "tariffbridge"

	// gracefulShutdownTimeout bounds in-flight scrapes during Close.
	gracefulShutdownTimeout = 5 * time.Second
	readHeaderTimeout       = 5 * time.Second

	defaultPath = "/metrics"
	healthPath  = "/healthz"
)

// Label names on every energy gauge.
const (
	LabelMeasurement = "measurement"
	LabelDeviceClass = "deviceclass"
	LabelSensor      = "sensor"
)

var energyLabels = []string{LabelMeasurement, LabelDeviceClass, LabelSensor}

// readingGauge maps one numeric record field to a gauge.
type readingGauge struct {
	field string
	name  string
	help  string
}

var readingGauges = []readingGauge{
	{ingest.FieldTotal, "energy_power_total", "Total consumed electrical network power for all time, kWh"},
	{ingest.FieldYesterday, "energy_power_yesterday_total", "Consumed electrical network power for yesterday, kWh"},
	{ingest.FieldToday, "energy_power_today_total", "Total electrical network consumption power for current day, kWh"},
	{ingest.FieldPeriod, "energy_period", "Consumed electrical network period"},
	{ingest.FieldPower, "energy_power_current", "Current electrical network consumption power, W"},
	{ingest.FieldApparentPower, "energy_power_apparent_current", "Current electrical network apparent power (volt-amperes), VA"},
	{ingest.FieldReactivePower, "energy_power_reactive_current", "Current electrical network reactive power, VAr"},
	{ingest.FieldFactor, "energy_power_factor_current", "Current electrical network power factor (energy loss, cosφ), PF"},
	{ingest.FieldFrequency, "energy_frequency_current", "Current electrical network frequency, Hz"},
	{ingest.FieldVoltage, "energy_voltage_current", "Current electrical network voltage, V"},
	{ingest.FieldCurrent, "energy_amperes_current", "Current electrical network amperage, A"},
	{ingest.FieldTemperature, "energy_device_temperature", "Current device temperature"},
}

// ErrMissingField is returned by Publish when a record lacks a numeric
// field the exporter needs.
var ErrMissingField = errors.New("prometheus: record field missing or not numeric")

// QueueStats is the view of the ingestion queue the exporter samples at
// scrape time.
type QueueStats interface {
	Len() int
	Dropped() uint64
}

// Exporter is the bridge's pull-based metrics sink.
//
// It owns its registry, so several exporters (for example in tests) never
// collide on metric names. Publish overwrites the energy gauges with the
// latest reading; the pipeline self-metrics are updated through the
// ingest.Observer methods and the supervisor hooks.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Exporter struct {
	cfg      config.PrometheusConfig
	registry *prom.Registry
	now      func() time.Time

	readings       map[string]*prom.GaugeVec
	firstStart     *prom.GaugeVec
	lastScrape     *prom.GaugeVec
	subscriptionID *prom.GaugeVec

	processed    prom.Counter
	failed       *prom.CounterVec
	cleared      prom.Counter
	processing   prom.Histogram
	connectionUp *prom.GaugeVec
	reconnects   *prom.CounterVec

	mu       sync.Mutex
	server   *http.Server
	addr     string
	queueReg bool
}

// New creates an Exporter with all collectors registered. The HTTP
// endpoint is not opened until Start.
func New(cfg config.PrometheusConfig) *Exporter {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}

	e := &Exporter{
		cfg:      cfg,
		registry: prom.NewRegistry(),
		now:      time.Now,
		readings: make(map[string]*prom.GaugeVec, len(readingGauges)),
	}

	for _, g := range readingGauges {
		vec := prom.NewGaugeVec(prom.GaugeOpts{Name: g.name, Help: g.help}, energyLabels)
		e.readings[g.field] = vec
		e.registry.MustRegister(vec)
	}

	e.firstStart = prom.NewGaugeVec(prom.GaugeOpts{
		Name: "energy_device_first_start_timestamp",
		Help: "Timestamp of device first start",
	}, energyLabels)
	e.lastScrape = prom.NewGaugeVec(prom.GaugeOpts{
		Name: "energy_last_scrape_timestamp",
		Help: "Timestamp of lastest measurement",
	}, energyLabels)
	e.subscriptionID = prom.NewGaugeVec(prom.GaugeOpts{
		Name: "energy_subscription_id",
		Help: "Current subscription id",
	}, energyLabels)

	e.processed = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "messages_processed_total",
		Help:      "Messages decoded, classified and dispatched.",
	})
	e.failed = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "messages_failed_total",
		Help:      "Messages that failed, by pipeline stage.",
	}, []string{"stage"})
	e.cleared = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "messages_cleared_total",
		Help:      "Queued messages discarded by the clear error policy.",
	})
	e.processing = prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "processing_seconds",
		Help:      "Time from dequeue to dispatch for one message.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})
	e.connectionUp = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_up",
		Help:      "1 when the supervised connection is up.",
	}, []string{"target"})
	e.reconnects = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Reconnect attempts made by a supervisor, by target and result.",
	}, []string{"target", "result"})

	e.registry.MustRegister(
		e.firstStart, e.lastScrape, e.subscriptionID,
		e.processed, e.failed, e.cleared, e.processing,
		e.connectionUp, e.reconnects,
	)
	return e
}

// Enabled reports whether the exporter is switched on in configuration.
func (e *Exporter) Enabled() bool {
	return e.cfg.Enabled
}

// Registry returns the exporter's registry.
func (e *Exporter) Registry() *prom.Registry {
	return e.registry
}

// RegisterQueue exposes queue length and drop count, sampled at scrape time.
// Only the first call has an effect.
func (e *Exporter) RegisterQueue(q QueueStats) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.queueReg {
		return
	}
	e.queueReg = true

	e.registry.MustRegister(
		prom.NewGaugeFunc(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Messages waiting in the ingestion queue.",
		}, func() float64 { return float64(q.Len()) }),
		prom.NewCounterFunc(prom.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dropped_total",
			Help:      "Messages evicted because the ingestion queue was full.",
		}, func() float64 { return float64(q.Dropped()) }),
	)
}

// Handler returns the router serving the metrics path and /healthz.
func (e *Exporter) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get(e.cfg.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		Registry: e.registry,
	}).ServeHTTP)
	r.Get(healthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

// Start binds the listen address and serves in the background. A bind
// failure is returned directly.
func (e *Exporter) Start() error {
	if !e.cfg.Enabled {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.server != nil {
		return nil
	}

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("prometheus: listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           e.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	e.server = srv
	e.addr = ln.Addr().String()

	go func() {
		// Serve returns ErrServerClosed after Close; other errors end the
		// endpoint but leave the pipeline running.
		_ = srv.Serve(ln)
	}()
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (e *Exporter) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// Close stops the HTTP endpoint, waiting briefly for in-flight scrapes.
func (e *Exporter) Close() error {
	e.mu.Lock()
	srv := e.server
	e.server, e.addr = nil, ""
	e.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("prometheus: shutting down: %w", err)
	}
	return nil
}

// Publish sets the energy gauges from the records, in order, so the last
// record for a label set wins. Every record is attempted; the returned
// error joins the failures.
func (e *Exporter) Publish(records []ingest.Record) error {
	var errs []error
	for _, rec := range records {
		if err := e.publish(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Exporter) publish(rec ingest.Record) error {
	labels := prom.Labels{
		LabelMeasurement: rec.Measurement,
		LabelDeviceClass: rec.Tags[ingest.TagClass],
		LabelSensor:      rec.Tags[ingest.TagSensor],
	}

	// Resolve every value before touching a gauge so a bad record leaves
	// the previous reading intact.
	values := make(map[string]float64, len(readingGauges))
	for _, g := range readingGauges {
		v, ok := numeric(rec.Fields[g.field])
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingField, g.field)
		}
		values[g.field] = v
	}

	loc := rec.Time.Location()
	startRaw, _ := rec.Fields[ingest.FieldTotalStartTime].(string)
	start, err := time.ParseInLocation(meter.TimeLayout, startRaw, loc)
	if err != nil {
		return fmt.Errorf("prometheus: %s %q: %w", ingest.FieldTotalStartTime, startRaw, err)
	}

	for field, v := range values {
		e.readings[field].With(labels).Set(v)
	}
	e.firstStart.With(labels).Set(float64(start.Unix()))
	e.lastScrape.With(labels).Set(float64(e.now().Unix()))
	e.subscriptionID.With(labels).Set(float64(rec.Result.ID))
	return nil
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// Processed implements ingest.Observer.
func (e *Exporter) Processed(_ ingest.Record, took time.Duration) {
	e.processed.Inc()
	e.processing.Observe(took.Seconds())
}

// Failed implements ingest.Observer.
func (e *Exporter) Failed(stage ingest.Stage, _ error) {
	e.failed.WithLabelValues(string(stage)).Inc()
}

// Cleared implements ingest.Observer.
func (e *Exporter) Cleared(n int) {
	if n > 0 {
		e.cleared.Add(float64(n))
	}
}

// ConnectionStateChanged is a supervisor.OnStateChange hook.
func (e *Exporter) ConnectionStateChanged(target string, _, to supervisor.State) {
	up := 0.0
	if to == supervisor.Connected {
		up = 1
	}
	e.connectionUp.WithLabelValues(target).Set(up)
}

// ReconnectAttempted is a supervisor.OnReconnect hook.
func (e *Exporter) ReconnectAttempted(target string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	e.reconnects.WithLabelValues(target, result).Inc()
}

// SetConnectionUp records a connection state observed outside a supervisor,
// such as the initial connect at startup.
func (e *Exporter) SetConnectionUp(target string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	e.connectionUp.WithLabelValues(target).Set(v)
}
