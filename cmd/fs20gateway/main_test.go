package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/katanapod/COC-FS20/internal/bridges/fs20"
	"github.com/katanapod/COC-FS20/internal/device"
	"github.com/katanapod/COC-FS20/internal/infrastructure/config"
	"github.com/katanapod/COC-FS20/internal/infrastructure/database"
	"github.com/katanapod/COC-FS20/internal/infrastructure/influxdb"
	"github.com/katanapod/COC-FS20/internal/infrastructure/logging"
	"github.com/katanapod/COC-FS20/migrations"
)

func openTestRepo(t *testing.T) *device.SQLiteRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return device.NewSQLiteRepository(db.DB)
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("FS20GW_CONFIG", "")
	if got := getConfigPath(""); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("FS20GW_CONFIG", "/etc/fs20/config.yaml")
	if got := getConfigPath(""); got != "/etc/fs20/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env path", got)
	}
	if got := getConfigPath("local.yaml"); got != "local.yaml" {
		t.Errorf("getConfigPath(flag) = %q, want local.yaml", got)
	}
}

func TestPrintToken(t *testing.T) {
	t.Setenv("FS20GW_JWT_SECRET", "")
	path := writeTestConfig(t, `
database:
  path: "/tmp/unused.db"
api:
  enabled: true
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
    access_token_ttl: 60
`)

	var out bytes.Buffer
	if err := printToken(&out, path, "operator"); err != nil {
		t.Fatalf("printToken: %v", err)
	}
	token := strings.TrimSpace(out.String())
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("token %q is not a JWT", token)
	}
}

func TestPrintToken_NoSecret(t *testing.T) {
	t.Setenv("FS20GW_JWT_SECRET", "")
	path := writeTestConfig(t, `
database:
  path: "/tmp/unused.db"
api:
  enabled: false
`)

	var out bytes.Buffer
	if err := printToken(&out, path, "operator"); err == nil {
		t.Error("printToken() without a secret = nil, want error")
	}
}

func TestLoadDevices(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	for _, d := range []device.Device{
		{Name: "lamp", Address: "111111"},
		{Name: "heater", Address: "333333"},
	} {
		if err := repo.UpsertDevice(ctx, &d); err != nil {
			t.Fatalf("UpsertDevice: %v", err)
		}
	}
	if err := repo.UpdateLastCommand(ctx, "lamp", "on"); err != nil {
		t.Fatalf("UpdateLastCommand: %v", err)
	}
	if err := repo.UpdateLastCommand(ctx, "heater", "off"); err != nil {
		t.Fatalf("UpdateLastCommand: %v", err)
	}

	devices, last, err := loadDevices(ctx, repo, map[string]string{
		"lamp":   "111111",
		"heater": "444444",
		"fan":    "222222",
	})
	if err != nil {
		t.Fatalf("loadDevices: %v", err)
	}

	want := map[string]string{"lamp": "111111", "heater": "444444", "fan": "222222"}
	for name, addr := range want {
		if devices[name] != addr {
			t.Errorf("devices[%q] = %q, want %q", name, devices[name], addr)
		}
	}
	if last["lamp"] != "on" {
		t.Errorf("last[lamp] = %q, want on", last["lamp"])
	}
	if _, ok := last["heater"]; ok {
		t.Error("last command kept for a device whose address changed")
	}

	stored, err := repo.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(stored) != 3 {
		t.Errorf("stored %d devices, want 3", len(stored))
	}
}

func TestEventStore(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	if err := repo.UpsertDevice(ctx, &device.Device{Name: "lamp", Address: "12AB01"}); err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}

	registry := fs20.NewRegistry()
	registry.Register("lamp", "12AB01")
	store := &eventStore{repo: repo, registry: registry}

	now := time.Now().UTC()
	events := []fs20.Event{
		{Prefix: fs20.PrefixClassCommand, PrefixByte: "F", Device: "lamp", Address: "12AB01", Command: "toggle", Raw: "F12AB0112", ReceivedAt: now},
		{Prefix: fs20.PrefixClassSensor, PrefixByte: "H", Device: "9999", Address: "9999", Command: "0101", Raw: "H9999010133", ReceivedAt: now.Add(time.Second)},
	}
	for _, ev := range events {
		if err := store.StoreEvent(ctx, ev); err != nil {
			t.Fatalf("StoreEvent: %v", err)
		}
	}

	got, err := repo.ListEvents(ctx, device.EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Device != "" || got[0].Prefix != "H" {
		t.Errorf("sensor event = %+v, want no device name", got[0])
	}
	if got[1].Device != "lamp" || got[1].Command != "toggle" {
		t.Errorf("command event = %+v", got[1])
	}

	lamp, err := repo.GetDevice(ctx, "lamp")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if lamp.LastCommand != "toggle" {
		t.Errorf("LastCommand = %q, want toggle", lamp.LastCommand)
	}

	if err := store.StoreCommand(ctx, "ghost", "on"); err != nil {
		t.Errorf("StoreCommand(unknown) = %v, want nil", err)
	}
}

func TestSinkConversions(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	ev := fs20.Event{Prefix: fs20.PrefixClassSensor, PrefixByte: "H", Address: "1234", Command: "0A", Raw: "H12340A77", ReceivedAt: at}

	frame := toFrame(ev, "")
	if !frame.Sensor || frame.Prefix != "H" || !frame.At.Equal(at) {
		t.Errorf("toFrame() = %+v", frame)
	}

	bus := toBusEvent(ev, "thermo")
	if bus.Device != "thermo" || bus.Raw != "H12340A77" || !bus.ReceivedAt.Equal(at) {
		t.Errorf("toBusEvent() = %+v", bus)
	}

	stats := toGatewayStats(fs20.Stats{FramesRx: 4, FramesTx: 2, ErrorsTotal: 1, Connected: true, Devices: 3})
	want := influxdb.GatewayStats{FramesRx: 4, FramesTx: 2, Errors: 1, Connected: true, Devices: 3}
	if stats != want {
		t.Errorf("toGatewayStats() = %+v, want %+v", stats, want)
	}
}

type fixedStats struct{ stats fs20.Stats }

func (f fixedStats) Stats() fs20.Stats { return f.stats }

type recordingStatsWriter struct {
	mu     sync.Mutex
	writes []influxdb.GatewayStats
}

func (w *recordingStatsWriter) WriteGatewayStats(s influxdb.GatewayStats) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, s)
}

func (w *recordingStatsWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func TestStatsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &recordingStatsWriter{}
	done := make(chan struct{})
	go func() {
		statsLoop(ctx, fixedStats{fs20.Stats{FramesRx: 7}}, w, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for w.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if w.count() == 0 {
		t.Fatal("no stats written")
	}
	if w.writes[0].FramesRx != 7 {
		t.Errorf("FramesRx = %d, want 7", w.writes[0].FramesRx)
	}
}

func TestPruneLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := openTestRepo(t)

	old := &device.Event{ReceivedAt: time.Now().Add(-48 * time.Hour), Prefix: "F", Address: "12AB01", Command: "on", Raw: "F12AB0111"}
	fresh := &device.Event{ReceivedAt: time.Now(), Prefix: "F", Address: "12AB01", Command: "off", Raw: "F12AB0100"}
	for _, ev := range []*device.Event{old, fresh} {
		if err := repo.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	log := logging.New(config.LoggingConfig{Level: "error", Output: "stdout"}, "test")
	done := make(chan struct{})
	go func() {
		pruneLoop(ctx, repo, 24*time.Hour, time.Hour, log)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		events, err := repo.ListEvents(context.Background(), device.EventFilter{})
		if err != nil {
			t.Fatalf("ListEvents: %v", err)
		}
		if len(events) == 1 {
			if events[0].Command != "off" {
				t.Errorf("kept %+v, want the fresh event", events[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("still %d events after pruning", len(events))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
}
