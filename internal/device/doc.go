// Package device persists FS20 devices and the frames received from them.
//
// The in-memory registry used on the hot path lives in the fs20 bridge
// package. This package is the durable side: it survives restarts, feeds
// the registry at startup and keeps a bounded history of decoded frames
// for the REST API.
//
// # Architecture
//
//	┌──────────────────────┐   RecordEvent    ┌──────────────────────┐
//	│  fs20 Bridge worker  │─────────────────▶│   SQLiteRepository   │
//	└──────────────────────┘ UpdateLastCommand│                      │
//	┌──────────────────────┐                  │  fs20_devices        │
//	│      REST API        │─────────────────▶│  fs20_events         │
//	│  GET /devices        │  List / Get      └──────────────────────┘
//	│  GET /events         │  ListEvents
//	└──────────────────────┘
//
// Timestamps are stored as fixed-width UTC strings so that string
// comparison in SQL orders them chronologically.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	err := repo.UpsertDevice(ctx, &device.Device{Name: "lamp1", Address: "123401"})
//	events, err := repo.ListEvents(ctx, device.EventFilter{Device: "lamp1", Limit: 20})
//
// # Thread Safety
//
// SQLiteRepository holds no state of its own; concurrency is delegated to
// database/sql.
package device
