package web

import (
	"net/http"

	"github.com/JonMunkholm/domainkeeper/internal/core"
	"github.com/JonMunkholm/domainkeeper/internal/rules"
)

// ============================================================================
// Domains
// ============================================================================

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.service.ListDomains(r.Context(), currentUser(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, orEmpty(domains))
}

func (s *Server) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	var in core.CreateDomainInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	d, err := s.service.CreateDomain(r.Context(), currentUser(r), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, d)
}

func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	d, err := s.service.GetDomain(r.Context(), currentUser(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

func (s *Server) handleUpdateDomain(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var in core.UpdateDomainInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	d, err := s.service.UpdateDomain(r.Context(), currentUser(r), id, in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

func (s *Server) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.DeleteDomain(r.Context(), currentUser(r), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// Rules
// ============================================================================

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	list, err := s.service.ListRules(r.Context(), currentUser(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, orEmpty(list))
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var in core.CreateRuleInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	rule, err := s.service.CreateRule(r.Context(), currentUser(r), id, in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	ruleID, err := uuidParam(r, "ruleId")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var in core.UpdateRuleInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	rule, err := s.service.UpdateRule(r.Context(), currentUser(r), id, ruleID, in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rule)
}

// compileRequest is the body of POST /rules/compile.
type compileRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleCompileRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req compileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	desc, err := s.service.CompileRule(r.Context(), currentUser(r), id, req.Command)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, desc)
}

// previewRuleRequest is the body of POST /rules/preview.
type previewRuleRequest struct {
	Definition rules.Definition `json:"definition"`
}

func (s *Server) handlePreviewRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req previewRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.service.PreviewRule(r.Context(), currentUser(r), id, req.Definition)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// orEmpty makes nil slices encode as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
