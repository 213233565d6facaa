// Energy tariff bridge.
//
// Subscribes to an energy meter's MQTT telemetry, tags every reading with the
// tariff window it falls in, and forwards it to InfluxDB and a Prometheus
// scrape endpoint. Connections to the broker and to InfluxDB are watched by
// supervisors that reconnect them when they die.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/energy-tariff-bridge/internal/infrastructure/config"
	"github.com/nerrad567/energy-tariff-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/energy-tariff-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/energy-tariff-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/energy-tariff-bridge/internal/infrastructure/prometheus"
	"github.com/nerrad567/energy-tariff-bridge/internal/ingest"
	"github.com/nerrad567/energy-tariff-bridge/internal/supervisor"
	"github.com/nerrad567/energy-tariff-bridge/internal/tariff"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Supervisor target names, also used as metric labels.
const (
	targetMQTT     = "mqtt"
	targetInfluxDB = "influxdb"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx)
	cancel()
	if code := exitStatus(logging.Default(), err); code != 0 {
		os.Exit(code)
	}
}

// exitStatus logs a startup failure and maps it to the process exit code.
func exitStatus(log *logging.Logger, err error) int {
	if err == nil {
		return 0
	}
	log.Critical("startup failed", "error", err)
	return 1
}

// run wires the bridge together and blocks until ctx is cancelled.
// Any error returned is a startup failure.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting energy tariff bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"timezone", cfg.Site.Timezone,
	)

	index, skipped := tariff.NewIndex(cfg.Schedule)
	for _, skipErr := range skipped {
		log.Warn("schedule entry skipped", "error", skipErr)
	}
	log.Info("tariff schedule loaded", "windows", index.Windows())

	queue := ingest.NewQueue(cfg.Pipeline.QueueCapacity)

	// Metrics sink
	exporter := prometheus.New(cfg.Prometheus)
	exporter.RegisterQueue(queue)
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("starting metrics endpoint: %w", err)
	}
	defer func() {
		if closeErr := exporter.Close(); closeErr != nil {
			log.Error("error closing metrics endpoint", "error", closeErr)
		}
	}()
	if exporter.Enabled() {
		log.Info("metrics endpoint listening", "addr", exporter.Addr(), "path", cfg.Prometheus.Path)
	} else {
		log.Info("metrics endpoint disabled")
	}

	// Time-series sink. An unreachable InfluxDB is not fatal; its
	// supervisor keeps retrying.
	influx := influxdb.New(cfg.InfluxDB)
	influx.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	if influx.Enabled() {
		if err := influx.Connect(ctx); err != nil {
			log.Warn("InfluxDB unavailable, will retry", "url", cfg.InfluxDB.URL, "error", err)
		} else {
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
		}
		exporter.SetConnectionUp(targetInfluxDB, influx.IsConnected())
	} else {
		log.Info("InfluxDB disabled")
	}
	defer func() {
		log.Info("closing InfluxDB connection")
		if closeErr := influx.Close(); closeErr != nil {
			log.Error("error closing InfluxDB", "error", closeErr)
		}
	}()

	// Broker. Unlike InfluxDB, the bridge cannot start without it.
	mqttClient, err := connectMQTT(ctx, cfg.MQTT, log)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	exporter.SetConnectionUp(targetMQTT, true)
	mqttClient.SetLogger(log.With("component", "mqtt"))
	// paho's own auto-reconnect bypasses the supervisor, so these keep
	// the connection gauge honest between ticks.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT session up", "client_id", mqttClient.ClientID())
		exporter.SetConnectionUp(targetMQTT, true)
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
		exporter.SetConnectionUp(targetMQTT, false)
	})

	// #nosec G115 -- Validate bounds qos to 0-2
	if err := mqttClient.Subscribe(cfg.Sensor.Topic, byte(cfg.MQTT.QoS), enqueueHandler(queue, log)); err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.Sensor.Topic, err)
	}
	log.Info("subscribed to meter telemetry",
		"topic", cfg.Sensor.Topic,
		"client_id", mqttClient.ClientID(),
	)

	worker, err := ingest.NewWorker(ingest.WorkerConfig{
		Identity: ingest.Identity{
			Measurement: cfg.Sensor.Measurement,
			Class:       cfg.Sensor.Class,
			Sensor:      cfg.Sensor.Name,
			Location:    cfg.Location(),
		},
		IdleInterval: cfg.Pipeline.IdleInterval,
		OnError:      ingest.ErrorPolicy(cfg.Pipeline.OnError),
	}, ingest.WorkerDeps{
		Queue:      queue,
		Index:      index,
		TimeSeries: influx,
		Metrics:    exporter,
		Observer:   exporter,
		Logger:     log.With("component", "worker"),
	})
	if err != nil {
		return fmt.Errorf("creating worker: %w", err)
	}

	supCfg := supervisor.Config{
		Interval:     cfg.Supervisor.Interval,
		InitialDelay: cfg.Supervisor.InitialDelay,
	}
	targets := map[string]supervisor.Target{
		targetMQTT: healthTarget{mqttClient},
	}
	if influx.Enabled() {
		targets[targetInfluxDB] = healthTarget{influx}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	for name, target := range targets {
		sup, supErr := supervisor.New(name, target, supCfg)
		if supErr != nil {
			return fmt.Errorf("creating %s supervisor: %w", name, supErr)
		}
		sup.SetLogger(log.With("component", "supervisor"))
		sup.OnStateChange(exporter.ConnectionStateChanged)
		sup.OnReconnect(exporter.ReconnectAttempted)
		g.Go(func() error {
			return sup.Run(gctx)
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("bridge stopped with error", "error", err)
	}

	stats := worker.Stats()
	log.Info("energy tariff bridge stopped",
		"processed", stats.Processed,
		"failed", stats.Failed,
		"cleared", stats.Cleared,
	)
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TARIFFBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TARIFFBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT dials the broker with exponential backoff, giving up after
// cfg.StartupTimeout.
func connectMQTT(ctx context.Context, cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(cfg.Reconnect.InitialDelay) * time.Second
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = backoff.DefaultInitialInterval
	}
	if cfg.Reconnect.MaxDelay > 0 {
		policy.MaxInterval = time.Duration(cfg.Reconnect.MaxDelay) * time.Second
	}
	policy.MaxElapsedTime = cfg.StartupTimeout

	var client *mqtt.Client
	operation := func() error {
		c, err := mqtt.Connect(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		client = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Warn("MQTT connect failed, retrying",
			"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
			"retry_in", next,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, err
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", client.ClientID(),
	)
	return client, nil
}

// enqueueHandler returns the subscription callback. It only copies the
// message into the queue; all processing happens on the worker.
func enqueueHandler(queue *ingest.Queue, log *logging.Logger) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		if queue.Enqueue(ingest.NewMessage(topic, payload)) {
			log.Warn("ingestion queue full, oldest message dropped",
				"capacity", queue.Capacity(),
				"dropped_total", queue.Dropped(),
			)
		}
		return nil
	}
}

// healthChecker is the part of the MQTT and InfluxDB clients a supervisor
// needs.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
	Reconnect(ctx context.Context) error
}

// healthTarget adapts a client to supervisor.Target.
type healthTarget struct {
	c healthChecker
}

func (t healthTarget) Alive(ctx context.Context) bool {
	return t.c.HealthCheck(ctx) == nil
}

func (t healthTarget) Reconnect(ctx context.Context) error {
	return t.c.Reconnect(ctx)
}
