package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/katanapod/COC-FS20/internal/device"
)

// handleListEvents serves stored frames, newest first.
//
// Query parameters: device, limit (1..500), since (RFC 3339).
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event history is not enabled")
		return
	}

	q := r.URL.Query()
	filter := device.EventFilter{Device: q.Get("device")}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > device.MaxEventLimit {
			writeBadRequest(w, "limit must be between 1 and "+strconv.Itoa(device.MaxEventLimit))
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}

	events, err := s.devices.ListEvents(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
