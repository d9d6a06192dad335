package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed width so that lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Repository defines device and event persistence.
type Repository interface {
	// UpsertDevice inserts a device or updates the address of an existing
	// one. The stored last command survives an update.
	UpsertDevice(ctx context.Context, d *Device) error

	// ListDevices returns all devices ordered by name.
	ListDevices(ctx context.Context) ([]Device, error)

	// GetDevice returns ErrDeviceNotFound for an unknown name.
	GetDevice(ctx context.Context, name string) (*Device, error)

	DeleteDevice(ctx context.Context, name string) error

	// UpdateLastCommand returns ErrDeviceNotFound for an unknown name.
	UpdateLastCommand(ctx context.Context, name, command string) error

	// RecordEvent assigns an ID and timestamp when missing.
	RecordEvent(ctx context.Context, ev *Event) error

	// ListEvents returns matching events newest first.
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)

	// PruneEvents deletes events older than now-olderThan and returns the count.
	PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The schema must already be migrated.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// UpsertDevice inserts or updates a device.
func (r *SQLiteRepository) UpsertDevice(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}

	now := r.now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.LastCommand == "" {
		d.LastCommand = UnknownLastCommand
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fs20_devices (name, address, last_command, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			address = excluded.address,
			updated_at = excluded.updated_at`,
		d.Name,
		d.Address,
		d.LastCommand,
		formatTime(d.CreatedAt),
		formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting device %q: %w", d.Name, err)
	}
	return nil
}

// ListDevices returns all devices ordered by name.
func (r *SQLiteRepository) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, address, last_command, created_at, updated_at
		FROM fs20_devices
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := make([]Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// GetDevice retrieves a device by name.
func (r *SQLiteRepository) GetDevice(ctx context.Context, name string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT name, address, last_command, created_at, updated_at
		FROM fs20_devices
		WHERE name = ?`, name)

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return d, nil
}

// DeleteDevice removes a device. Its event history is kept.
func (r *SQLiteRepository) DeleteDevice(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM fs20_devices WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting device %q: %w", name, err)
	}
	return requireRow(result)
}

// UpdateLastCommand stores the most recent command symbol for a device.
func (r *SQLiteRepository) UpdateLastCommand(ctx context.Context, name, command string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE fs20_devices SET last_command = ?, updated_at = ? WHERE name = ?",
		command,
		formatTime(r.now().UTC()),
		name,
	)
	if err != nil {
		return fmt.Errorf("updating last command for %q: %w", name, err)
	}
	return requireRow(result)
}

// RecordEvent inserts a decoded frame into the history.
func (r *SQLiteRepository) RecordEvent(ctx context.Context, ev *Event) error {
	if ev == nil || ev.Address == "" || ev.Prefix == "" {
		return fmt.Errorf("%w: prefix and address are required", ErrInvalidEvent)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = r.now()
	}
	ev.ReceivedAt = ev.ReceivedAt.UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO fs20_events (id, received_at, prefix, device, address, command, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		formatTime(ev.ReceivedAt),
		ev.Prefix,
		ev.Device,
		ev.Address,
		ev.Command,
		ev.Raw,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// ListEvents returns events matching filter, newest first.
func (r *SQLiteRepository) ListEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	if limit > MaxEventLimit {
		limit = MaxEventLimit
	}

	var (
		where []string
		args  []any
	)
	if filter.Device != "" {
		where = append(where, "device = ?")
		args = append(args, filter.Device)
	}
	if !filter.Since.IsZero() {
		where = append(where, "received_at >= ?")
		args = append(args, formatTime(filter.Since.UTC()))
	}

	query := "SELECT id, received_at, prefix, device, address, command, raw FROM fs20_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY received_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		var receivedAt string
		if err := rows.Scan(&ev.ID, &receivedAt, &ev.Prefix, &ev.Device, &ev.Address, &ev.Command, &ev.Raw); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if ev.ReceivedAt, err = parseTime(receivedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

// PruneEvents deletes events older than the retention window.
func (r *SQLiteRepository) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := formatTime(r.now().UTC().Add(-olderThan))
	result, err := r.db.ExecContext(ctx, "DELETE FROM fs20_events WHERE received_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*Device, error) {
	var d Device
	var createdAt, updatedAt string
	if err := row.Scan(&d.Name, &d.Address, &d.LastCommand, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning device: %w", err)
	}

	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err == nil {
		return t, nil
	}
	if fallback, fallbackErr := time.Parse(time.RFC3339, value); fallbackErr == nil {
		return fallback, nil
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
}
