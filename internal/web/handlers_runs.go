package web

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/core"
	"github.com/JonMunkholm/domainkeeper/internal/web/views"
)

// ============================================================================
// Versions and rows
// ============================================================================

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	versions, err := s.service.ListVersions(r.Context(), currentUser(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, orEmpty(versions))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	runs, err := s.service.ListRuns(r.Context(), currentUser(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, orEmpty(runs))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rows, err := s.service.Preview(r.Context(), currentUser(r), id, page)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, orEmpty(rows))
}

func (s *Server) handleLatestPreview(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rows, err := s.service.LatestPreview(r.Context(), currentUser(r), id, page)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, orEmpty(rows))
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	entries, err := s.diff(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, orEmpty(entries))
}

// handleDiffPage renders the same diff as an HTML report.
func (s *Server) handleDiffPage(w http.ResponseWriter, r *http.Request) {
	entries, err := s.diff(r)
	if err != nil {
		s.respondErrorHTML(w, r, err)
		return
	}
	id, _ := uuidParam(r, "id")
	versionID, _ := uuidParam(r, "versionId")
	d, err := s.service.GetDomain(r.Context(), currentUser(r), id)
	if err != nil {
		s.respondErrorHTML(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := views.DiffPage{
		DomainName: d.Name,
		VersionID:  versionID.String(),
		Entries:    entries,
	}
	if err := views.DiffReport(page).Render(r.Context(), w); err != nil {
		s.respondErrorHTML(w, r, err)
	}
}

func (s *Server) diff(r *http.Request) ([]core.DiffEntry, error) {
	id, err := uuidParam(r, "id")
	if err != nil {
		return nil, err
	}
	versionID, err := uuidParam(r, "versionId")
	if err != nil {
		return nil, err
	}
	page, err := parsePage(r)
	if err != nil {
		return nil, err
	}
	return s.service.Diff(r.Context(), currentUser(r), id, versionID, page)
}

// ============================================================================
// Runs
// ============================================================================

// ingestRequest is the JSON body of POST /ingest.
type ingestRequest struct {
	Path string `json:"path"`
}

// handleIngest ingests a file from blob storage ({"path": ...}) or, for
// multipart requests, the uploaded "file" part.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var res core.IngestResult
	if isMultipart(r) {
		name, data, err := s.readUpload(w, r)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		res, err = s.service.IngestData(r.Context(), currentUser(r), id, name, data)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
	} else {
		var req ingestRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}
		res, err = s.service.Ingest(r.Context(), currentUser(r), id, req.Path)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	res, err := s.service.Clean(r.Context(), currentUser(r), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// readUpload reads the "file" part of a multipart request, bounded by the
// configured maximum file size.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	maxSize := s.cfg.Ingest.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, apperr.Invalid("file exceeds maximum size of %d bytes", maxSize)
		}
		return "", nil, apperr.Invalid("invalid multipart body: %v", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, apperr.Invalid("missing file part")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, apperr.Invalid("read upload: %v", err)
	}
	return header.Filename, data, nil
}
