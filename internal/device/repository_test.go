package device

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/katanapod/COC-FS20/internal/infrastructure/config"
	"github.com/katanapod/COC-FS20/internal/infrastructure/database"
	"github.com/katanapod/COC-FS20/migrations"
)

// setupTestRepo opens a migrated database in a temp directory.
func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "fs20.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return NewSQLiteRepository(db.DB)
}

// fixedClock makes the repository clock controllable.
func fixedClock(repo *SQLiteRepository, start time.Time) *time.Time {
	now := start
	repo.now = func() time.Time { return now }
	return &now
}

func TestUpsertDevice(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	d := &Device{Name: "lamp1", Address: "123401"}
	if err := repo.UpsertDevice(ctx, d); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	if d.LastCommand != UnknownLastCommand {
		t.Errorf("LastCommand = %q, want %q", d.LastCommand, UnknownLastCommand)
	}

	got, err := repo.GetDevice(ctx, "lamp1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.Address != "123401" || got.LastCommand != UnknownLastCommand {
		t.Errorf("GetDevice() = %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not stored")
	}
}

func TestUpsertDeviceKeepsLastCommand(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.UpsertDevice(ctx, &Device{Name: "lamp1", Address: "123401"}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	if err := repo.UpdateLastCommand(ctx, "lamp1", "on"); err != nil {
		t.Fatalf("UpdateLastCommand() error = %v", err)
	}
	if err := repo.UpsertDevice(ctx, &Device{Name: "lamp1", Address: "123402"}); err != nil {
		t.Fatalf("second UpsertDevice() error = %v", err)
	}

	got, err := repo.GetDevice(ctx, "lamp1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.Address != "123402" {
		t.Errorf("Address = %q, want 123402", got.Address)
	}
	if got.LastCommand != "on" {
		t.Errorf("LastCommand = %q, want on", got.LastCommand)
	}

	devices, err := repo.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("ListDevices() len = %d, want 1", len(devices))
	}
}

func TestUpsertDeviceValidation(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		device  *Device
		wantErr error
	}{
		{"nil device", nil, ErrInvalidName},
		{"empty name", &Device{Address: "123401"}, ErrInvalidName},
		{"short address", &Device{Name: "x", Address: "12340"}, ErrInvalidAddress},
		{"long address", &Device{Name: "x", Address: "1234011"}, ErrInvalidAddress},
		{"non-hex address", &Device{Name: "x", Address: "12340G"}, ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.UpsertDevice(ctx, tt.device)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("UpsertDevice() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestListDevicesOrdered(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	for _, d := range []Device{
		{Name: "zeta", Address: "AAAA01"},
		{Name: "alpha", Address: "AAAA02"},
		{Name: "mid", Address: "AAAA03"},
	} {
		if err := repo.UpsertDevice(ctx, &d); err != nil {
			t.Fatalf("UpsertDevice(%s) error = %v", d.Name, err)
		}
	}

	devices, err := repo.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(devices) != len(want) {
		t.Fatalf("len = %d, want %d", len(devices), len(want))
	}
	for i, name := range want {
		if devices[i].Name != name {
			t.Errorf("devices[%d] = %q, want %q", i, devices[i].Name, name)
		}
	}
}

func TestListDevicesEmpty(t *testing.T) {
	repo := setupTestRepo(t)

	devices, err := repo.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if devices == nil || len(devices) != 0 {
		t.Errorf("ListDevices() = %v, want empty non-nil slice", devices)
	}
}

func TestDeviceNotFound(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if _, err := repo.GetDevice(ctx, "ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.DeleteDevice(ctx, "ghost"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("DeleteDevice() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.UpdateLastCommand(ctx, "ghost", "on"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("UpdateLastCommand() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDeleteDevice(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.UpsertDevice(ctx, &Device{Name: "lamp1", Address: "123401"}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}
	if err := repo.DeleteDevice(ctx, "lamp1"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}
	if _, err := repo.GetDevice(ctx, "lamp1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() after delete error = %v", err)
	}
}

func TestRecordEvent(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	ev := &Event{Prefix: "F", Device: "lamp1", Address: "123401", Command: "on", Raw: "F12340110"}
	if err := repo.RecordEvent(ctx, ev); err != nil {
		t.Fatalf("RecordEvent() error = %v", err)
	}
	if ev.ID == "" {
		t.Error("ID not assigned")
	}
	if ev.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not assigned")
	}

	events, err := repo.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("len = %d, want 1", len(events))
	}
	got := events[0]
	if got.ID != ev.ID || got.Command != "on" || got.Raw != "F12340110" || got.Device != "lamp1" {
		t.Errorf("event = %+v", got)
	}
	if !got.ReceivedAt.Equal(ev.ReceivedAt) {
		t.Errorf("ReceivedAt = %v, want %v", got.ReceivedAt, ev.ReceivedAt)
	}
}

func TestRecordEventValidation(t *testing.T) {
	repo := setupTestRepo(t)

	for _, ev := range []*Event{nil, {Prefix: "F"}, {Address: "123401"}} {
		if err := repo.RecordEvent(context.Background(), ev); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("RecordEvent(%+v) error = %v, want ErrInvalidEvent", ev, err)
		}
	}
}

func TestListEventsFilter(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	seed := []Event{
		{Prefix: "F", Device: "lamp1", Address: "123401", Command: "on", ReceivedAt: base},
		{Prefix: "F", Device: "lamp2", Address: "123402", Command: "off", ReceivedAt: base.Add(time.Minute)},
		{Prefix: "F", Device: "lamp1", Address: "123401", Command: "off", ReceivedAt: base.Add(2 * time.Minute)},
		{Prefix: "T", Address: "6801", Command: "0A", ReceivedAt: base.Add(3 * time.Minute)},
	}
	for i := range seed {
		if err := repo.RecordEvent(ctx, &seed[i]); err != nil {
			t.Fatalf("RecordEvent() error = %v", err)
		}
	}

	tests := []struct {
		name     string
		filter   EventFilter
		wantCmds []string
	}{
		{"all newest first", EventFilter{}, []string{"0A", "off", "off", "on"}},
		{"by device", EventFilter{Device: "lamp1"}, []string{"off", "on"}},
		{"since", EventFilter{Since: base.Add(90 * time.Second)}, []string{"0A", "off"}},
		{"limit", EventFilter{Limit: 1}, []string{"0A"}},
		{"device and since", EventFilter{Device: "lamp1", Since: base.Add(time.Second)}, []string{"off"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := repo.ListEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListEvents() error = %v", err)
			}
			if len(events) != len(tt.wantCmds) {
				t.Fatalf("len = %d, want %d", len(events), len(tt.wantCmds))
			}
			for i, cmd := range tt.wantCmds {
				if events[i].Command != cmd {
					t.Errorf("events[%d].Command = %q, want %q", i, events[i].Command, cmd)
				}
			}
		})
	}
}

func TestPruneEvents(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	fixedClock(repo, now)

	for _, age := range []time.Duration{40 * 24 * time.Hour, 31 * 24 * time.Hour, time.Hour} {
		ev := &Event{Prefix: "F", Address: "123401", Command: "on", ReceivedAt: now.Add(-age)}
		if err := repo.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("RecordEvent() error = %v", err)
		}
	}

	n, err := repo.PruneEvents(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneEvents() error = %v", err)
	}
	if n != 2 {
		t.Errorf("PruneEvents() = %d, want 2", n)
	}

	events, err := repo.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Errorf("remaining = %d, want 1", len(events))
	}

	if _, err := repo.PruneEvents(ctx, 0); err == nil {
		t.Error("PruneEvents(0) error = nil, want error")
	}
}

func TestUpdateLastCommandTouchesUpdatedAt(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	clock := fixedClock(repo, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))

	if err := repo.UpsertDevice(ctx, &Device{Name: "lamp1", Address: "123401"}); err != nil {
		t.Fatalf("UpsertDevice() error = %v", err)
	}

	*clock = clock.Add(time.Hour)
	if err := repo.UpdateLastCommand(ctx, "lamp1", "dim50"); err != nil {
		t.Fatalf("UpdateLastCommand() error = %v", err)
	}

	got, err := repo.GetDevice(ctx, "lamp1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.LastCommand != "dim50" {
		t.Errorf("LastCommand = %q", got.LastCommand)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("UpdatedAt %v not after CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}
}
