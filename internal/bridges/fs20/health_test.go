package fs20

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// stubGateway implements GatewayStatus.
type stubGateway struct {
	connected bool
	stats     Stats
}

func (s stubGateway) IsConnected() bool { return s.connected }
func (s stubGateway) Stats() Stats      { return s.stats }

func lastHealth(t *testing.T, m *MockMQTTClient) HealthMessage {
	t.Helper()
	published := m.PublishedTo(HealthTopic())
	if len(published) == 0 {
		t.Fatal("no health message published")
	}
	var msg HealthMessage
	if err := json.Unmarshal(published[len(published)-1].Payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	return msg
}

func TestHealthReporterStatus(t *testing.T) {
	tests := []struct {
		name       string
		mqttUp     bool
		gatewayUp  bool
		wantStatus HealthStatus
		wantReason string
	}{
		{"all up", true, true, HealthHealthy, ""},
		{"mqtt down", false, true, HealthDegraded, "MQTT disconnected"},
		{"cul down", true, false, HealthDegraded, "CUL disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mqtt := NewMockMQTTClient()
			mqtt.SetConnected(tt.mqttUp)
			h := NewHealthReporter(HealthReporterConfig{
				BridgeID:  "fs20",
				Publisher: mqtt,
				Gateway:   stubGateway{connected: tt.gatewayUp},
			})

			if err := h.PublishNow(); err != nil {
				t.Fatalf("PublishNow: %v", err)
			}
			msg := lastHealth(t, mqtt)
			if msg.Status != tt.wantStatus || msg.Reason != tt.wantReason {
				t.Errorf("health = %s %q, want %s %q", msg.Status, msg.Reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporterStartStop(t *testing.T) {
	mqtt := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "fs20",
		Interval:  10 * time.Millisecond,
		Publisher: mqtt,
		Gateway:   stubGateway{connected: true},
	})

	h.Start(context.Background())
	waitFor(t, "periodic health", func() bool { return len(mqtt.PublishedTo(HealthTopic())) >= 3 })

	h.Stop()
	h.Stop()

	if msg := lastHealth(t, mqtt); msg.Status != HealthStopping {
		t.Errorf("final status = %s, want stopping", msg.Status)
	}
}

func TestHealthReporterLWT(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{BridgeID: "fs20-test"})

	if h.GetLWTTopic() != "graylogic/health/fs20" {
		t.Errorf("LWT topic = %q", h.GetLWTTopic())
	}
	payload, err := h.GetLWTPayload()
	if err != nil {
		t.Fatalf("GetLWTPayload: %v", err)
	}
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthOffline || msg.Bridge != "fs20-test" {
		t.Errorf("LWT = %+v", msg)
	}

	// No publisher configured is not an error.
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow without publisher: %v", err)
	}
}
