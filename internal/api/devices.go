package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/katanapod/COC-FS20/internal/bridges/fs20"
	"github.com/katanapod/COC-FS20/internal/device"
)

// CommandSourceAPI marks commands submitted over HTTP.
const CommandSourceAPI = "api"

type createDeviceRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// deviceResponse adds the persisted timestamps when a store is configured.
type deviceResponse struct {
	fs20.DeviceInfo
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

type commandRequest struct {
	Command string `json:"command"`
	Level   *int   `json:"level,omitempty"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.gateway.Registry().List()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, ok := s.gateway.Registry().Get(name)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	resp := deviceResponse{DeviceInfo: info}
	if s.devices != nil {
		stored, err := s.devices.GetDevice(r.Context(), name)
		switch {
		case err == nil:
			resp.CreatedAt = stored.CreatedAt
			resp.UpdatedAt = stored.UpdatedAt
		case !errors.Is(err, device.ErrDeviceNotFound):
			s.logger.Error("failed to load stored device", "error", err, "device", name)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteDevice removes the device from the store and the registry.
// Its event history is kept.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := s.gateway.Registry().Get(name); !ok {
		writeNotFound(w, "device not found")
		return
	}

	if s.devices != nil {
		err := s.devices.DeleteDevice(r.Context(), name)
		if err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
			s.logger.Error("failed to delete device", "error", err, "device", name)
			writeInternalError(w, "failed to delete device")
			return
		}
	}

	s.gateway.Registry().Unregister(name)

	s.logger.Info("device removed via API",
		"device", name,
		"subject", subjectFrom(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateDevice persists the device (when a store is configured) and
// registers it with the gateway. Re-posting an existing name rebinds it.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := &device.Device{Name: req.Name, Address: req.Address}
	if err := device.ValidateDevice(dev); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if s.devices != nil {
		if err := s.devices.UpsertDevice(r.Context(), dev); err != nil {
			s.logger.Error("failed to persist device", "error", err, "device", dev.Name)
			writeInternalError(w, "failed to persist device")
			return
		}
	}

	s.gateway.RegisterDevices(map[string]string{dev.Name: dev.Address})
	info, ok := s.gateway.Registry().Get(dev.Name)
	if !ok {
		writeInternalError(w, "device registration failed")
		return
	}

	s.logger.Info("device registered via API",
		"device", dev.Name,
		"address", dev.Address,
		"subject", subjectFrom(r.Context()))
	writeJSON(w, http.StatusCreated, info)
}

// handleDeviceCommand runs a command through the bridge. Success is 202
// since the CUL gives no delivery confirmation.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	cmd := fs20.CommandMessage{
		ID:       uuid.New().String(),
		DeviceID: name,
		Command:  req.Command,
		Source:   CommandSourceAPI,
	}
	if req.Level != nil {
		cmd.Parameters = map[string]any{"level": *req.Level}
	}

	ack, err := s.commands.Execute(r.Context(), cmd)
	if err != nil {
		var cmdErr *fs20.CommandError
		if !errors.As(err, &cmdErr) {
			s.logger.Error("command execution failed", "error", err, "device", name)
		}
		writeJSON(w, commandStatus(err), ack)
		return
	}

	writeJSON(w, http.StatusAccepted, ack)
}
