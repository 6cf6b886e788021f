// This file contains shared request parsing helpers used across handlers.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/auth"
	"github.com/JonMunkholm/domainkeeper/internal/store"
)

// MaxBodySize caps JSON request bodies (1MB).
const MaxBodySize = 1 << 20

// uuidParam parses the named chi URL parameter as a UUID.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Invalid("%s %q is not a valid id", name, raw)
	}
	return id, nil
}

// parseIntParam parses a non-negative integer query parameter. A missing
// parameter yields defaultVal.
func parseIntParam(r *http.Request, name string, defaultVal int) (int, error) {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return 0, apperr.Invalid("%s must be a non-negative integer", name)
	}
	return i, nil
}

// parsePage reads limit and offset. The service applies the default and
// maximum page size.
func parsePage(r *http.Request) (store.Page, error) {
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		return store.Page{}, err
	}
	offset, err := parseIntParam(r, "offset", 0)
	if err != nil {
		return store.Page{}, err
	}
	return store.Page{Limit: limit, Offset: offset}, nil
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are rejected
// so typos in rule definitions surface as 400s.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Invalid("request body exceeds %d bytes", tooLarge.Limit)
		}
		return apperr.Invalid("invalid JSON body: %v", err)
	}
	return nil
}

// currentUser returns the authenticated user set by BearerAuth.
func currentUser(r *http.Request) auth.User {
	u, _ := auth.UserFromContext(r.Context())
	return u
}
