package shared

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	req.RemoteAddr = "[::1]:5555"
	assert.Equal(t, "127.0.0.1", ClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(req))
}

func TestRequestInfoFrom(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/invoices?x=1", nil)
	req.Header.Set("User-Agent", "curl/8")
	info := RequestInfoFrom(req)
	assert.Equal(t, "POST", info.Method)
	assert.Equal(t, "/api/invoices?x=1", info.URL)
	assert.Equal(t, "curl/8", info.UserAgent)
	assert.Nil(t, RequestInfoFrom(nil))
}
