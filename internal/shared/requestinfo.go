package shared

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// RequestInfo is the request metadata attached to activity entries.
type RequestInfo struct {
	IP        string
	UserAgent string
	Method    string
	URL       string
}

// RequestInfoFrom extracts client metadata, preferring proxy headers.
func RequestInfoFrom(r *http.Request) *RequestInfo {
	if r == nil {
		return nil
	}
	return &RequestInfo{
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		URL:       r.URL.RequestURI(),
	}
}

// ClientIP resolves the caller address from X-Forwarded-For, X-Real-IP or
// the connection. The IPv6 loopback is reported as 127.0.0.1.
func ClientIP(r *http.Request) string {
	ip := ""
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip == "" {
		ip = strings.TrimSpace(r.Header.Get("X-Real-IP"))
	}
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}
	if ip == "::1" {
		return "127.0.0.1"
	}
	return ip
}

type requestInfoKey struct{}

// ContextWithRequestInfo stores request metadata for activity recording.
func ContextWithRequestInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFromContext returns the metadata stored by ContextWithRequestInfo.
func RequestInfoFromContext(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*RequestInfo)
	return info
}

// WithRequestInfo is middleware attaching RequestInfoFrom(r) to the request context.
func WithRequestInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(ContextWithRequestInfo(r.Context(), RequestInfoFrom(r))))
	})
}
