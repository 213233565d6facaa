package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/energy-tariff-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/energy-tariff-bridge/internal/ingest"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("TARIFFBRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_EmptySchedule verifies a config without tariff windows is rejected.
func TestRun_EmptySchedule(t *testing.T) {
	t.Setenv("TARIFFBRIDGE_CONFIG", writeConfig(t, `
site:
  timezone: UTC
prometheus:
  enabled: false
logging:
  level: error
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without a schedule")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want a config error", err)
	}
}

// TestRun_BrokerUnreachable verifies startup gives up once the startup
// timeout is spent.
func TestRun_BrokerUnreachable(t *testing.T) {
	t.Setenv("TARIFFBRIDGE_CONFIG", writeConfig(t, `
site:
  timezone: UTC
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
  reconnect:
    initial_delay: 1
    max_delay: 1
  startup_timeout: 1s
prometheus:
  enabled: false
logging:
  level: error
schedule:
  day:
    conditions:
      - after: "07:00:00"
        before: "23:00:00"
  night:
    conditions:
      - after: "23:00:00"
        before: "23:59:59"
      - after: "00:00:00"
        before: "07:00:00"
`))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail when the broker is unreachable")
	}
	if !strings.Contains(err.Error(), "connecting to MQTT") {
		t.Errorf("run() error = %v, want an MQTT connect error", err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Second {
		t.Errorf("run() took %v, startup timeout not honoured", elapsed)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("TARIFFBRIDGE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("TARIFFBRIDGE_CONFIG", "/etc/tariffbridge.yaml")
	if got := getConfigPath(); got != "/etc/tariffbridge.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestEnqueueHandler(t *testing.T) {
	queue := ingest.NewQueue(2)
	handler := enqueueHandler(queue, logging.Discard())

	payload := []byte(`{"Time":"2024-01-01T00:00:00"}`)
	for i := 0; i < 3; i++ {
		if err := handler("tele/meter/SENSOR", payload); err != nil {
			t.Fatalf("handler() error = %v", err)
		}
	}
	payload[0] = 'X'

	if queue.Len() != 2 {
		t.Errorf("queue length = %d, want 2", queue.Len())
	}
	if queue.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", queue.Dropped())
	}
	msg, ok := queue.TryDequeue()
	if !ok {
		t.Fatal("TryDequeue() found nothing")
	}
	if msg.Payload[0] != '{' {
		t.Error("queued payload aliases the caller's buffer")
	}
}

type fakeChecker struct {
	healthErr    error
	reconnectErr error
	reconnects   int
}

func (f *fakeChecker) HealthCheck(context.Context) error { return f.healthErr }

func (f *fakeChecker) Reconnect(context.Context) error {
	f.reconnects++
	return f.reconnectErr
}

func TestHealthTarget(t *testing.T) {
	c := &fakeChecker{}
	target := healthTarget{c}
	ctx := context.Background()

	if !target.Alive(ctx) {
		t.Error("Alive() = false for healthy client")
	}

	c.healthErr = errors.New("not connected")
	if target.Alive(ctx) {
		t.Error("Alive() = true for failing health check")
	}

	c.reconnectErr = errors.New("refused")
	if err := target.Reconnect(ctx); !errors.Is(err, c.reconnectErr) {
		t.Errorf("Reconnect() error = %v", err)
	}
	if c.reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", c.reconnects)
	}
}

func TestExitStatus(t *testing.T) {
	var buf bytes.Buffer
	log := &logging.Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	if code := exitStatus(log, nil); code != 0 {
		t.Errorf("exitStatus(nil) = %d, want 0", code)
	}
	if buf.Len() != 0 {
		t.Errorf("clean shutdown logged %q", buf.String())
	}

	code := exitStatus(log, errors.New("loading config: reading config file: missing"))
	if code != 1 {
		t.Errorf("exitStatus(err) = %d, want 1", code)
	}
	out := buf.String()
	for _, want := range []string{`"msg":"startup failed"`, "loading config: reading config file: missing"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}
