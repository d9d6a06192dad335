package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/katanapod/COC-FS20/internal/bridges/fs20"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware())
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleCreateDevice)

				r.Route("/{name}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Delete("/", s.handleDeleteDevice)
					r.Post("/commands", s.handleDeviceCommand)
				})
			})

			r.Get("/events", s.handleListEvents)
			r.Get("/commands", s.handleListCommands)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

type healthResponse struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	Gateway      string    `json:"gateway"`
	Devices      int       `json:"devices"`
	FramesRx     uint64    `json:"frames_rx"`
	FramesTx     uint64    `json:"frames_tx"`
	Errors       uint64    `json:"errors"`
	LastActivity time.Time `json:"last_activity,omitzero"`
}

func newHealthResponse(stats fs20.Stats, version string) healthResponse {
	status := "ok"
	if !stats.Connected {
		status = "degraded"
	}
	return healthResponse{
		Status:       status,
		Version:      version,
		Gateway:      stats.State.String(),
		Devices:      stats.Devices,
		FramesRx:     stats.FramesRx,
		FramesTx:     stats.FramesTx,
		Errors:       stats.ErrorsTotal,
		LastActivity: stats.LastActivity,
	}
}

// handleHealth returns 200 while the process is up; "degraded" means the
// CUL link is not established.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newHealthResponse(s.gateway.Stats(), s.version))
}

type commandEntry struct {
	Symbol string `json:"symbol"`
	Code   string `json:"code"`
}

func (s *Server) handleListCommands(w http.ResponseWriter, _ *http.Request) {
	symbols := fs20.Commands()
	entries := make([]commandEntry, 0, len(symbols))
	for _, sym := range symbols {
		code, err := fs20.CodeOf(sym)
		if err != nil {
			continue
		}
		entries = append(entries, commandEntry{Symbol: sym, Code: code})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": entries,
		"count":    len(entries),
	})
}
