package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/energy-tariff-bridge/internal/infrastructure/config"
)

// testConfig returns a configuration pointing at a port nothing listens on.
// Broker-backed tests live in integration_test.go.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1,
			ClientID: "tariffbridge-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

var testTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("ERROR", msg) }

func (l *recordingLogger) has(prefix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

// fakeMessage satisfies pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestDefaultClientID(t *testing.T) {
	a, b := DefaultClientID(), DefaultClientID()

	if !strings.HasPrefix(a, clientIDPrefix) {
		t.Errorf("DefaultClientID() = %q, want prefix %q", a, clientIDPrefix)
	}
	if len(a) != len(clientIDPrefix)+8 {
		t.Errorf("len(DefaultClientID()) = %d, want %d", len(a), len(clientIDPrefix)+8)
	}
	if a == b {
		t.Errorf("DefaultClientID() returned %q twice", a)
	}
}

func TestNewClient_ClientID(t *testing.T) {
	cfg := testConfig()
	if got := newClient(cfg).ClientID(); got != "tariffbridge-test" {
		t.Errorf("ClientID() = %q, want configured id", got)
	}

	cfg.Broker.ClientID = ""
	if got := newClient(cfg).ClientID(); !strings.HasPrefix(got, clientIDPrefix) {
		t.Errorf("ClientID() = %q, want generated id", got)
	}
}

func TestStatusTopic(t *testing.T) {
	if got := StatusTopic("tariffbridge-abc"); got != "tariffbridge/tariffbridge-abc/status" {
		t.Errorf("StatusTopic() = %q", got)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		reason     string
		wantReason bool
	}{
		{"online", statusOnline, "", false},
		{"graceful", statusOffline, reasonGraceful, true},
		{"lwt", statusOffline, reasonUnexpected, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := buildStatusPayload("id-1", tt.status, tt.reason, testTime)

			var got map[string]string
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("payload is not JSON: %v", err)
			}
			if got["status"] != tt.status || got["client_id"] != "id-1" {
				t.Errorf("payload = %v", got)
			}
			if got["timestamp"] != "2024-01-01T12:00:00Z" {
				t.Errorf("timestamp = %q", got["timestamp"])
			}
			if _, ok := got["reason"]; ok != tt.wantReason {
				t.Errorf("reason present = %v, want %v", ok, tt.wantReason)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "meter", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "tariffbridge-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "meter" || opts.Password != "secret" {
		t.Errorf("credentials not applied")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want false")
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured without broker.tls")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS min version not applied")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "tariffbridge-test")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will = enabled:%v retained:%v qos:%d", opts.WillEnabled, opts.WillRetained, opts.WillQos)
	}
	if opts.WillTopic != StatusTopic("tariffbridge-test") {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !strings.Contains(string(opts.WillPayload), reasonUnexpected) {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	_, err := Connect(context.Background(), testConfig())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, testConfig())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestReconnect_Fails(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	err := c.Reconnect(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Reconnect() error = %v, want ErrConnectionFailed", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after failed reconnect")
	}
	if logger.has("INFO: MQTT session re-established") {
		t.Error("success logged for a failed reconnect")
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := newClient(testConfig())
	noop := func(string, []byte) error { return nil }

	if c.IsConnected() {
		t.Error("IsConnected() = true before dialling")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}

	if err := c.Subscribe("tele/x/SENSOR", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Error("failed subscribe must not be tracked")
	}
	if err := c.Publish("tele/x/SENSOR", []byte("{}"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := newClient(testConfig())
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{"empty topic", "", 1, noop, ErrInvalidTopic},
		{"qos 3", "a/b", 3, noop, ErrInvalidQoS},
		{"nil handler", "a/b", 1, nil, ErrSubscribeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Subscribe(tt.topic, tt.qos, tt.handler); !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublish_Validation(t *testing.T) {
	c := newClient(testConfig())

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"qos 3", "a/b", nil, 3, ErrInvalidQoS},
		{"too large", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWrapHandler(t *testing.T) {
	c := newClient(testConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var gotTopic string
	var gotPayload []byte
	c.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, payload
		return nil
	})(nil, fakeMessage{topic: "tele/x/SENSOR", payload: []byte("{}")})

	if gotTopic != "tele/x/SENSOR" || string(gotPayload) != "{}" {
		t.Errorf("handler got %q %q", gotTopic, gotPayload)
	}

	c.wrapHandler(func(string, []byte) error {
		return errors.New("queue closed")
	})(nil, fakeMessage{topic: "t"})
	if !logger.has("WARN: MQTT handler returned error") {
		t.Error("handler error not logged")
	}

	c.wrapHandler(func(string, []byte) error {
		panic("boom")
	})(nil, fakeMessage{topic: "t"})
	if !logger.has("ERROR: MQTT handler panic recovered") {
		t.Error("handler panic not logged")
	}
}

func TestCallbacks(t *testing.T) {
	c := newClient(testConfig())

	var disconnected error
	c.SetOnDisconnect(func(err error) { disconnected = err })
	c.handleDisconnect(c.paho(), errors.New("eof"))

	if disconnected == nil || disconnected.Error() != "eof" {
		t.Errorf("onDisconnect got %v", disconnected)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}

func TestReconnect_CancelledLeavesNoLiveClient(t *testing.T) {
	c := newClient(testConfig())
	before := c.paho()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Reconnect(ctx); !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Reconnect() error = %v, want ErrConnectionFailed", err)
	}

	pc := c.paho()
	if pc == before {
		t.Error("Reconnect() kept the old paho client")
	}
	if pc.IsConnected() || pc.IsConnectionOpen() {
		t.Error("aborted reconnect left a live paho client")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after aborted reconnect")
	}
}

func TestStaleClientEventsIgnored(t *testing.T) {
	c := newClient(testConfig())
	stale := c.newPahoClient()

	var connects int
	var lost error
	c.SetOnConnect(func() { connects++ })
	c.SetOnDisconnect(func(err error) { lost = err })

	c.handleConnect(stale)
	if connects != 0 {
		t.Error("onConnect fired for a replaced client")
	}
	c.connMu.RLock()
	connected := c.connected
	c.connMu.RUnlock()
	if connected {
		t.Error("replaced client marked the session connected")
	}

	c.setConnected(true)
	c.handleDisconnect(stale, errors.New("eof"))
	if lost != nil {
		t.Errorf("onDisconnect fired for a replaced client: %v", lost)
	}
	c.connMu.RLock()
	connected = c.connected
	c.connMu.RUnlock()
	if !connected {
		t.Error("replaced client's loss cleared the current session state")
	}

	c.handleConnect(c.paho())
	if connects != 1 {
		t.Errorf("onConnect fired %d times for the current client, want 1", connects)
	}
}
