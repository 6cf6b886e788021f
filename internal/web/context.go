package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/domainkeeper/internal/audit"
)

// WithRequestMetadata adds IP and User-Agent to context for audit logging.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ip := r.RemoteAddr // Already processed by TrustedRealIP
	ua := r.Header.Get("User-Agent")
	ctx = audit.ContextWithIPAddress(ctx, ip)
	ctx = audit.ContextWithUserAgent(ctx, ua)
	return ctx
}

// requestMetadata is middleware form of WithRequestMetadata.
func requestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithRequestMetadata(r.Context(), r)))
	})
}
