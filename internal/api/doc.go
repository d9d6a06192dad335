// Package api provides the HTTP REST API and WebSocket stream for the FS20
// gateway.
//
// Routes live under /api/v1. Everything except /health requires a bearer
// JWT (HS256) when a secret is configured. Commands submitted over HTTP go
// through the same bridge path as MQTT commands, so both produce the same
// acks and state messages.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// The WebSocket endpoint relays every decoded frame as an "fs20.event"
// message and announces a completed CUL handshake as "fs20.connected".
package api
