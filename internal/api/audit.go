package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/ncp-monitor/internal/audit"
)

// handleListAudit returns journal entries, most recent first.
//
// Query parameters:
//   - action: session_started, session_ended or rediscover
//   - device_id: one device
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, ErrCodeUnavailable, "audit journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		DeviceID: q.Get("device_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit journal failed", "error", err)
		writeInternalError(w, "failed to list audit journal")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
