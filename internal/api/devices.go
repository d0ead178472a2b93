package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ncp-monitor/internal/inventory"
	"github.com/nerrad567/ncp-monitor/internal/monitor"
)

// DeviceResponse is the body of GET /api/v1/devices/{id}.
type DeviceResponse struct {
	Status    monitor.Status    `json:"status"`
	Inventory *inventory.Device `json:"inventory,omitempty"`
}

// handleListDevices returns the live status of every monitored device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	statuses := s.monitors.Statuses()
	writeJSON(w, http.StatusOK, map[string]any{"devices": statuses, "count": len(statuses)})
}

// handleGetDevice returns one device's live status and, when recorded, its
// inventory row.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := s.monitors.Status(id)
	if err != nil {
		if errors.Is(err, monitor.ErrUnknownDevice) {
			writeNotFound(w, "device not monitored")
			return
		}
		writeInternalError(w, "failed to read device status")
		return
	}

	resp := DeviceResponse{Status: st}
	if s.inventory != nil {
		d, err := s.inventory.Device(r.Context(), id)
		switch {
		case err == nil:
			resp.Inventory = &d
		case !errors.Is(err, inventory.ErrNotFound):
			s.logger.Warn("reading inventory device failed", "device_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListObjects returns a device's recorded objects.
//
// Query parameters:
//   - monitors_only: "true" limits the list to objects with a mapping category
func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	if s.inventory == nil {
		writeError(w, http.StatusNotFound, ErrCodeUnavailable, "inventory is disabled")
		return
	}
	id := chi.URLParam(r, "id")

	monitorsOnly := false
	if v := r.URL.Query().Get("monitors_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "monitors_only must be a boolean")
			return
		}
		monitorsOnly = b
	}

	objects, err := s.inventory.Objects(r.Context(), id, monitorsOnly)
	if err != nil {
		writeInternalError(w, "failed to list objects")
		return
	}
	if objects == nil {
		objects = []inventory.Object{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "objects": objects, "count": len(objects)})
}

// handleRediscoverDevice closes a device's session so it is resolved,
// walked and subscribed again.
func (s *Server) handleRediscoverDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.rediscover.Rediscover(id); err != nil {
		if errors.Is(err, monitor.ErrUnknownDevice) {
			writeNotFound(w, "device not monitored")
			return
		}
		writeInternalError(w, "failed to request rediscovery")
		return
	}
	s.logger.Info("rediscovery requested over http", "device_id", id)
	writeJSON(w, http.StatusAccepted, map[string]string{"device_id": id, "status": "rediscovering"})
}

// handleRediscoverAll rediscovers every device and lists the registry again.
func (s *Server) handleRediscoverAll(w http.ResponseWriter, _ *http.Request) {
	if err := s.rediscover.Rediscover(""); err != nil {
		writeInternalError(w, "failed to request rediscovery")
		return
	}
	s.logger.Info("rediscovery of all devices requested over http")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rediscovering"})
}

// handleListInventory lists every recorded device.
func (s *Server) handleListInventory(w http.ResponseWriter, r *http.Request) {
	if s.inventory == nil {
		writeError(w, http.StatusNotFound, ErrCodeUnavailable, "inventory is disabled")
		return
	}
	devices, err := s.inventory.Devices(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list inventory")
		return
	}
	if devices == nil {
		devices = []inventory.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}
