package web

import (
	"context"
	"net/http"
	"time"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/audit"
)

// handleHealth pings the store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.service.Ping(ctx); err != nil {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuditLog returns a page of the caller's tenant audit trail.
//
// Query parameters: action, severity, resource, from, to (YYYY-MM-DD),
// limit, offset.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		s.respondError(w, r, apperr.NotFound("audit log", "sink"))
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		TenantID: currentUser(r).TenantID,
		Action:   audit.Action(q.Get("action")),
		Severity: audit.Severity(q.Get("severity")),
		Resource: q.Get("resource"),
	}

	var err error
	if filter.Limit, err = parseIntParam(r, "limit", audit.DefaultLimit); err != nil {
		s.respondError(w, r, err)
		return
	}
	if filter.Offset, err = parseIntParam(r, "offset", 0); err != nil {
		s.respondError(w, r, err)
		return
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.DateOnly, from)
		if err != nil {
			s.respondError(w, r, apperr.Invalid("from must be YYYY-MM-DD"))
			return
		}
		filter.StartTime = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.DateOnly, to)
		if err != nil {
			s.respondError(w, r, apperr.Invalid("to must be YYYY-MM-DD"))
			return
		}
		filter.EndTime = t.Add(24*time.Hour - time.Second)
	}

	result, err := s.auditLog.Query(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleRunStatus returns the current state of the run limiter.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Limiter().Status())
}
