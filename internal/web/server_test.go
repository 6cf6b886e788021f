package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/domainkeeper/internal/apperr"
	"github.com/JonMunkholm/domainkeeper/internal/audit"
	"github.com/JonMunkholm/domainkeeper/internal/auth"
	"github.com/JonMunkholm/domainkeeper/internal/codec"
	"github.com/JonMunkholm/domainkeeper/internal/config"
	"github.com/JonMunkholm/domainkeeper/internal/core"
	"github.com/JonMunkholm/domainkeeper/internal/store/memstore"
)

var (
	admin    = auth.User{ID: "u-admin", TenantID: "t1", Role: auth.RoleAdmin}
	editor   = auth.User{ID: "u-editor", TenantID: "t1", Role: auth.RoleEditor}
	viewer   = auth.User{ID: "u-viewer", TenantID: "t1", Role: auth.RoleViewer}
	outsider = auth.User{ID: "u-other", TenantID: "t2", Role: auth.RoleEditor}
)

// ============================================================================
// Fixtures
// ============================================================================

type testServer struct {
	srv    *Server
	authn  *auth.Authenticator
	audits *audit.MemorySink
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
		Ingest: config.IngestConfig{
			MaxFileSize:   1 << 20,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			MaxRowsPerRun: 1000,
			Timeout:       10 * time.Second,
		},
		Security: config.SecurityConfig{EnableCSP: true},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	svc := core.NewService(core.Deps{Store: memstore.New()}, cfg.Ingest, cfg.Compiler)
	ts := &testServer{
		authn:  auth.New("test-secret", "domainkeeper"),
		audits: audit.NewMemorySink(),
	}
	ts.srv = NewServer(svc, ts.authn, ts.audits, cfg)
	t.Cleanup(func() { _ = ts.srv.Shutdown(context.Background()) })
	return ts
}

func (ts *testServer) do(t *testing.T, u auth.User, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	ts.authorize(t, req, u)
	return ts.serve(req)
}

func (ts *testServer) authorize(t *testing.T, req *http.Request, u auth.User) {
	t.Helper()
	if u.ID == "" {
		return
	}
	token, err := ts.authn.Mint(u, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
}

func (ts *testServer) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(t *testing.T, u auth.User, domainID, fileName, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/domains/"+domainID+"/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	ts.authorize(t, req, u)
	return ts.serve(req)
}

func (ts *testServer) createDomain(t *testing.T, name string, businessKey ...string) string {
	t.Helper()
	rec := ts.do(t, editor, http.MethodPost, "/api/domains", map[string]any{
		"name":         name,
		"business_key": businessKey,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[map[string]any](t, rec)["id"].(string)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	return decode[ErrorResponse](t, rec)
}

// ============================================================================
// Authentication
// ============================================================================

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testConfig())
	rec := ts.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestBearerAuth(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(t, auth.User{}, http.MethodGet, "/api/domains", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTH_MISSING_TOKEN")

	req := httptest.NewRequest(http.MethodGet, "/api/domains", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = ts.serve(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTH_INVALID_TOKEN")

	rec = ts.do(t, viewer, http.MethodGet, "/api/domains", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

// ============================================================================
// Domain workflow
// ============================================================================

func TestDomainWorkflow(t *testing.T) {
	ts := newTestServer(t, testConfig())
	id := ts.createDomain(t, "customers", "id")
	base := "/api/domains/" + id

	rec := ts.upload(t, editor, id, "customers.csv", "id,name\n1,alice\n2,<b>bob</b>\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ingest := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, ingest["rows"])

	rec = ts.do(t, editor, http.MethodPost, base+"/rules", `{"name":"upper","definition":{"transforms":[{"name":"uppercase","columns":["name"]}]}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, editor, http.MethodPost, base+"/clean", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	clean := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, clean["changed"])
	versionID := clean["version"].(map[string]any)["id"].(string)

	rec = ts.do(t, viewer, http.MethodGet, base+"/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	versions := decode[[]map[string]any](t, rec)
	require.Len(t, versions, 2)
	assert.Equal(t, versionID, versions[0]["id"], "newest first")

	rec = ts.do(t, viewer, http.MethodGet, base+"/preview?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = ts.do(t, viewer, http.MethodGet, base+"/version/latest/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[[]map[string]any](t, rec)
	require.Len(t, latest, 2)
	assert.Equal(t, versionID, latest[0][core.SourceVersionField])

	rec = ts.do(t, viewer, http.MethodGet, base+"/version/"+versionID+"/diff", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	diff := decode[[]core.DiffEntry](t, rec)
	require.Len(t, diff, 2)
	for _, e := range diff {
		assert.Equal(t, []string{"name"}, e.ChangedFields)
	}

	rec = ts.do(t, viewer, http.MethodGet, base+"/version/"+versionID+"/diff.html", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	html := rec.Body.String()
	assert.Contains(t, html, "ALICE")
	assert.Contains(t, html, "&lt;B&gt;BOB&lt;/B&gt;")
	assert.NotContains(t, html, "<b>bob</b>")

	rec = ts.do(t, viewer, http.MethodGet, base+"/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]map[string]any](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0]["status"])
}

func TestDomainCRUD(t *testing.T) {
	ts := newTestServer(t, testConfig())
	id := ts.createDomain(t, "orders", "order_id")

	rec := ts.do(t, editor, http.MethodPut, "/api/domains/"+id, `{"description":"all orders"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "all orders", decode[map[string]any](t, rec)["description"])

	rec = ts.do(t, viewer, http.MethodGet, "/api/domains/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "orders", decode[map[string]any](t, rec)["name"])

	rec = ts.do(t, editor, http.MethodDelete, "/api/domains/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, viewer, http.MethodGet, "/api/domains/"+id, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DOM001", errorBody(t, rec).Code)
}

func TestRulePreviewEndpoint(t *testing.T) {
	ts := newTestServer(t, testConfig())
	id := ts.createDomain(t, "people", "id")
	rec := ts.upload(t, editor, id, "people.csv", "id,name\n1,ann\n2,\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, viewer, http.MethodPost, "/api/domains/"+id+"/rules/preview",
		`{"definition":{"checks":[{"name":"require_columns","columns":["name"],"action":"drop"}]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[map[string]any](t, rec)
	assert.Len(t, res["rows"], 1)

	rec = ts.do(t, viewer, http.MethodGet, "/api/domains/"+id+"/preview", nil)
	assert.Len(t, decode[[]map[string]any](t, rec), 2, "preview writes nothing")
}

// ============================================================================
// Error responses
// ============================================================================

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t, testConfig())
	id := ts.createDomain(t, "accounts", "id")

	tests := []struct {
		name     string
		user     auth.User
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
		wantBody string
	}{
		{
			name:     "invalid id",
			user:     viewer,
			method:   http.MethodGet,
			path:     "/api/domains/not-a-uuid",
			wantCode: http.StatusBadRequest,
			wantErr:  "REQ001",
		},
		{
			name:     "other tenant",
			user:     outsider,
			method:   http.MethodGet,
			path:     "/api/domains/" + id,
			wantCode: http.StatusForbidden,
			wantErr:  "AUTH001",
			wantBody: "Forbidden",
		},
		{
			name:     "viewer cannot write",
			user:     viewer,
			method:   http.MethodPost,
			path:     "/api/domains/" + id + "/clean",
			wantCode: http.StatusForbidden,
			wantErr:  "AUTH001",
			wantBody: "Forbidden",
		},
		{
			name:     "invalid rule",
			user:     editor,
			method:   http.MethodPost,
			path:     "/api/domains/" + id + "/rules",
			body:     `{"name":"bad","definition":{"checks":[{"name":"regex","column":"x","pattern":"("}]}}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "RULE001",
		},
		{
			name:     "unknown body field",
			user:     editor,
			method:   http.MethodPost,
			path:     "/api/domains",
			body:     `{"name":"x","colour":"red"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "REQ001",
		},
		{
			name:     "duplicate name",
			user:     editor,
			method:   http.MethodPost,
			path:     "/api/domains",
			body:     `{"name":"accounts"}`,
			wantCode: http.StatusConflict,
			wantErr:  "DOM002",
		},
		{
			name:     "bad limit",
			user:     viewer,
			method:   http.MethodGet,
			path:     "/api/domains/" + id + "/preview?limit=-1",
			wantCode: http.StatusBadRequest,
			wantErr:  "REQ001",
		},
		{
			name:     "unknown version",
			user:     viewer,
			method:   http.MethodGet,
			path:     "/api/domains/" + id + "/version/00000000-0000-0000-0000-000000000001/diff",
			wantCode: http.StatusBadRequest,
			wantErr:  "DOM001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.user, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			body := errorBody(t, rec)
			assert.Equal(t, tt.wantErr, body.Code)
			assert.NotEmpty(t, body.Message)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, body.Error)
			}
		})
	}
}

func TestIngestDecodeError(t *testing.T) {
	ts := newTestServer(t, testConfig())
	id := ts.createDomain(t, "files", "id")

	tests := []struct {
		name     string
		fileName string
		content  string
	}{
		{"corrupt spreadsheet", "sheet.xlsx", "definitely not a zip archive"},
		{"unsupported extension", "notes.pdf", "id\n1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.upload(t, editor, id, tt.fileName, tt.content)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "FILE001", errorBody(t, rec).Code)
		})
	}

	rec := ts.do(t, editor, http.MethodPost, "/api/domains/"+id+"/ingest", `{"path":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestHeaderOnlyFile(t *testing.T) {
	ts := newTestServer(t, testConfig())
	id := ts.createDomain(t, "headers", "id")

	rec := ts.upload(t, editor, id, "notes.txt", "hello")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[core.IngestResult](t, rec)
	assert.Equal(t, 0, res.Rows)
	assert.Equal(t, 0, res.Version.RowCount)
	assert.Equal(t, []string{"hello"}, res.Version.Columns)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"decode", &codec.DecodeError{Reason: "bad"}, http.StatusBadRequest},
		{"not found", apperr.NotFound("domain", "x"), http.StatusBadRequest},
		{"invalid", apperr.Invalid("bad"), http.StatusBadRequest},
		{"forbidden", fmt.Errorf("wrap: %w", apperr.ErrForbidden), http.StatusForbidden},
		{"conflict", apperr.Conflictf("dup"), http.StatusConflict},
		{"timeout", apperr.ErrTimeout, http.StatusRequestTimeout},
		{"cancelled", apperr.ErrCancelled, StatusClientClosedRequest},
		{"too many runs", core.ErrTooManyRuns, http.StatusTooManyRequests},
		{"rate limited", errRateLimited, http.StatusTooManyRequests},
		{"dependency", apperr.Dependency("blob", errors.New("down")), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestServerErrorHidesDetails(t *testing.T) {
	ts := newTestServer(t, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ts.srv.respondError(rec, req, errors.New("pq: password authentication failed for user admin"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := errorBody(t, rec)
	assert.Equal(t, "ERR000", body.Code)
	assert.NotContains(t, body.Error, "password")
}

// ============================================================================
// Admin and limits
// ============================================================================

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t, testConfig())
	require.NoError(t, ts.audits.Insert(context.Background(), []audit.Entry{
		{Action: audit.ActionClean, TenantID: "t1", Resource: "domain", CreatedAt: time.Now()},
		{Action: audit.ActionClean, TenantID: "t2", Resource: "domain", CreatedAt: time.Now()},
	}))

	rec := ts.do(t, editor, http.MethodGet, "/api/admin/audit-log", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, admin, http.MethodGet, "/api/admin/audit-log?action=clean", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[audit.Result](t, rec)
	assert.EqualValues(t, 1, result.TotalCount, "scoped to the caller's tenant")

	rec = ts.do(t, admin, http.MethodGet, "/api/admin/audit-log?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, admin, http.MethodGet, "/api/admin/runs/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[core.RunLimiterStatus](t, rec)
	assert.Equal(t, 2, status.MaxConcurrent)
}

func TestRunRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, RunLimit: 1}
	ts := newTestServer(t, cfg)
	id := ts.createDomain(t, "limited", "id")

	rec := ts.do(t, editor, http.MethodPost, "/api/domains/"+id+"/clean", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, editor, http.MethodPost, "/api/domains/"+id+"/clean", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", errorBody(t, rec).Code)

	// Reads are only subject to the general limit.
	rec = ts.do(t, viewer, http.MethodGet, "/api/domains/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterWindow(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	defer rl.close()
	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("1.2.3.4"))
	assert.False(t, rl.allow("1.2.3.4"))
	assert.True(t, rl.allow("5.6.7.8"), "buckets are per client")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.allow("1.2.3.4"))
}

func TestClientHost(t *testing.T) {
	assert.Equal(t, "10.0.0.1", clientHost("10.0.0.1:5123"))
	assert.Equal(t, "10.0.0.1", clientHost("10.0.0.1"))
	assert.True(t, strings.HasPrefix(clientHost("[::1]:80"), "::1"))
}
