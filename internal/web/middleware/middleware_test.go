package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/domainkeeper/internal/auth"
)

func echoRemoteAddr(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(r.RemoteAddr))
}

func TestTrustedRealIP(t *testing.T) {
	handler := TrustedRealIP([]string{"10.0.0.0/8", "192.168.1.5", "not-a-cidr"})(http.HandlerFunc(echoRemoteAddr))

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "untrusted source keeps socket address",
			remoteAddr: "203.0.113.7:4000",
			headers:    map[string]string{"X-Real-IP": "1.1.1.1"},
			want:       "203.0.113.7:4000",
		},
		{
			name:       "trusted CIDR uses X-Real-IP",
			remoteAddr: "10.1.2.3:4000",
			headers:    map[string]string{"X-Real-IP": "1.1.1.1"},
			want:       "1.1.1.1",
		},
		{
			name:       "trusted single IP uses first X-Forwarded-For hop",
			remoteAddr: "192.168.1.5:4000",
			headers:    map[string]string{"X-Forwarded-For": "2.2.2.2, 10.0.0.1"},
			want:       "2.2.2.2",
		},
		{
			name:       "garbage header is ignored",
			remoteAddr: "10.1.2.3:4000",
			headers:    map[string]string{"X-Real-IP": "<script>"},
			want:       "10.1.2.3:4000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestBearerAuthAndRoles(t *testing.T) {
	authn := auth.New("secret", "test")
	var seen auth.User
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := BearerAuth(authn)(RequireRole(auth.RoleAdmin)(inner))

	mint := func(role auth.Role) string {
		token, err := authn.Mint(auth.User{ID: "u1", TenantID: "t1", Role: role}, time.Hour)
		require.NoError(t, err)
		return token
	}
	call := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := call("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"missing bearer token","code":"AUTH_MISSING_TOKEN"}`, rec.Body.String())

	forged, err := auth.New("other-secret", "test").Mint(auth.User{ID: "u1", TenantID: "t1", Role: auth.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	rec = call("Bearer " + forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "AUTH_INVALID_TOKEN")

	rec = call("Bearer " + mint(auth.RoleViewer))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call("Bearer " + mint(auth.RoleAdmin))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", seen.TenantID)
}

func TestLoggerCapturesStatus(t *testing.T) {
	handler := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("short and stout"))
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}
