package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/katanapod/COC-FS20/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "fs20gateway-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.record("error", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("info", msg) }

func (l *recordingLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}

// =============================================================================
// Options
// =============================================================================

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		name string
		tls  bool
		want string
	}{
		{"plain", false, "tcp://127.0.0.1:1883"},
		{"tls", true, "ssl://127.0.0.1:1883"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Broker.TLS = tt.tls
			if got := brokerURL(cfg); got != tt.want {
				t.Errorf("brokerURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "gw"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "fs20gateway-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "gw" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q, want gw/secret", opts.Username, opts.Password)
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured for plain connection")
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLSConfig = %+v, want MinVersion TLS1.2", opts.TLSConfig)
	}
}

func TestBuildClientOptionsAnonymous(t *testing.T) {
	opts := buildClientOptions(testConfig())
	if opts.Username != "" {
		t.Errorf("Username = %q, want empty", opts.Username)
	}
}

func TestConfigureLWT(t *testing.T) {
	t.Run("explicit will", func(t *testing.T) {
		opts := buildClientOptions(testConfig())
		configureLWT(opts, "gw", Will{Topic: "graylogic/health/fs20", Payload: []byte(`{"status":"offline"}`)})

		if !opts.WillEnabled {
			t.Fatal("WillEnabled = false")
		}
		if opts.WillTopic != "graylogic/health/fs20" {
			t.Errorf("WillTopic = %q", opts.WillTopic)
		}
		if string(opts.WillPayload) != `{"status":"offline"}` {
			t.Errorf("WillPayload = %s", opts.WillPayload)
		}
		if opts.WillQos != 1 || !opts.WillRetained {
			t.Errorf("will qos/retained = %d/%v, want 1/true", opts.WillQos, opts.WillRetained)
		}
	})

	t.Run("default will", func(t *testing.T) {
		opts := buildClientOptions(testConfig())
		configureLWT(opts, "gw", Will{})

		if opts.WillTopic != "graylogic/system/status/gw" {
			t.Errorf("WillTopic = %q", opts.WillTopic)
		}
		var p statusPayload
		if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
			t.Fatalf("will payload: %v", err)
		}
		if p.Status != "offline" || p.Reason != "unexpected_disconnect" || p.ClientID != "gw" {
			t.Errorf("will payload = %+v", p)
		}
	})
}

func TestBuildStatusPayload(t *testing.T) {
	var p statusPayload
	if err := json.Unmarshal(buildStatusPayload("gw", "online", ""), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Status != "online" || p.ClientID != "gw" {
		t.Errorf("payload = %+v", p)
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		t.Errorf("timestamp %q not RFC3339", p.Timestamp)
	}
	if strings.Contains(string(buildStatusPayload("gw", "online", "")), "reason") {
		t.Error("empty reason should be omitted")
	}
}

// =============================================================================
// Topics
// =============================================================================

func TestClientStatusTopic(t *testing.T) {
	if got := (Topics{}).ClientStatus("fs20gateway"); got != "graylogic/system/status/fs20gateway" {
		t.Errorf("ClientStatus() = %q", got)
	}
}

func TestValidatePublishTopic(t *testing.T) {
	tests := []struct {
		topic   string
		wantErr bool
	}{
		{"graylogic/state/fs20/lamp1", false},
		{"", true},
		{"graylogic/command/fs20/+", true},
		{"graylogic/#", true},
	}

	for _, tt := range tests {
		err := validatePublishTopic(tt.topic)
		if (err != nil) != tt.wantErr {
			t.Errorf("validatePublishTopic(%q) error = %v, wantErr %v", tt.topic, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("validatePublishTopic(%q) = %v, want ErrInvalidTopic", tt.topic, err)
		}
	}
}

// =============================================================================
// Unconnected client behaviour
// =============================================================================

func TestPublishValidation(t *testing.T) {
	c := newClient(testConfig(), Will{})

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"wildcard", "graylogic/+/x", []byte("x"), 1, ErrInvalidTopic},
		{"bad qos", "graylogic/state/fs20/a", []byte("x"), 3, ErrInvalidQoS},
		{"too large", "graylogic/state/fs20/a", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "graylogic/state/fs20/a", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := newClient(testConfig(), Will{})
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{"empty topic", "", 1, noop, ErrInvalidTopic},
		{"bad qos", "graylogic/command/fs20/+", 3, noop, ErrInvalidQoS},
		{"nil handler", "graylogic/command/fs20/+", 1, nil, ErrSubscribeFailed},
		{"not connected", "graylogic/command/fs20/+", 1, noop, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
		})
	}

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestHealthCheck(t *testing.T) {
	c := newClient(testConfig(), Will{})

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v, want context.Canceled", err)
	}
}

func TestCloseUnconnected(t *testing.T) {
	c := newClient(testConfig(), Will{})
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	c := newClient(testConfig(), Will{})
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad") }, "t", nil)

	if !logger.has("error: MQTT handler panic recovered") {
		t.Error("panic not logged")
	}
	if !logger.has("warn: MQTT handler returned error") {
		t.Error("handler error not logged")
	}
}

func TestDisconnectCallback(t *testing.T) {
	c := newClient(testConfig(), Will{})
	c.connected = true

	var got error
	c.SetOnDisconnect(func(err error) { got = err })
	c.handleDisconnect(errors.New("link down"))

	if got == nil || got.Error() != "link down" {
		t.Errorf("callback error = %v", got)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}

// =============================================================================
// Broker round trip (requires FS20GW_TEST_MQTT=host:port)
// =============================================================================

func TestBrokerRoundtrip(t *testing.T) {
	addr := os.Getenv("FS20GW_TEST_MQTT")
	if addr == "" {
		t.Skip("FS20GW_TEST_MQTT not set")
	}

	cfg := testConfig()
	var port int
	host, portStr, _ := strings.Cut(addr, ":")
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		t.Fatalf("bad FS20GW_TEST_MQTT %q", addr)
	}
	cfg.Broker.Host = host
	cfg.Broker.Port = port
	cfg.Broker.ClientID = fmt.Sprintf("fs20gateway-test-%d", time.Now().UnixNano())

	c, err := Connect(cfg, Will{})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	received := make(chan string, 1)
	topic := "graylogic/test/" + cfg.Broker.ClientID
	if err := c.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := c.Publish(topic, []byte("ping"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "ping" {
			t.Errorf("payload = %q, want ping", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}
