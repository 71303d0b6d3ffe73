package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newEngine(m *SecurityMiddleware, handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.Any("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"client": c.GetString("clientID")})
	})
	return r
}

func TestAuthenticate(t *testing.T) {
	m := NewSecurityMiddleware(zap.NewNop(), map[string]string{"dashboard": "secret-key"}, "X-API-Key", nil)
	r := newEngine(m, m.Authenticate())

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"invalid key", "wrong", http.StatusUnauthorized},
		{"valid key", "secret-key", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRateLimitPerClient(t *testing.T) {
	m := NewSecurityMiddleware(zap.NewNop(), map[string]string{"a": "key-a", "b": "key-b"}, "X-API-Key", nil)
	r := newEngine(m, m.Authenticate(), m.RateLimit(0.001, 2))

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
		req.Header.Set("X-API-Key", key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("key-a"))
	assert.Equal(t, http.StatusOK, send("key-a"))
	assert.Equal(t, http.StatusTooManyRequests, send("key-a"))
	assert.Equal(t, http.StatusOK, send("key-b"))
}

func TestCORS(t *testing.T) {
	m := NewSecurityMiddleware(zap.NewNop(), nil, "X-API-Key", []string{"https://admin.example"})
	r := newEngine(m, m.CORS())

	req := httptest.NewRequest(http.MethodOptions, "/api/ping", nil)
	req.Header.Set("Origin", "https://admin.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://admin.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestValidatePayload(t *testing.T) {
	m := NewSecurityMiddleware(zap.NewNop(), nil, "X-API-Key", nil)
	r := newEngine(m, m.ValidatePayload())

	req := httptest.NewRequest(http.MethodPost, "/api/ping", strings.NewReader("name=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/ping", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
