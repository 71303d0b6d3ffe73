package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"broadcast-engine/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type SecurityMiddleware struct {
	logger         *zap.Logger
	apiKeys        map[string]string // clientID -> apiKey
	apiKeyHeader   string
	allowedOrigins []string
}

func NewSecurityMiddleware(logger *zap.Logger, apiKeys map[string]string, apiKeyHeader string, allowedOrigins []string) *SecurityMiddleware {
	return &SecurityMiddleware{
		logger:         logger,
		apiKeys:        apiKeys,
		apiKeyHeader:   apiKeyHeader,
		allowedOrigins: allowedOrigins,
	}
}

func (m *SecurityMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(m.apiKeyHeader)
		if apiKey == "" {
			m.logger.Warn("Missing API key", zap.String("ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
			c.Abort()
			return
		}

		clientID := m.validateAPIKey(apiKey)
		if clientID == "" {
			prefixLen := min(len(apiKey), 8)
			m.logger.Warn("Invalid API key", zap.String("ip", c.ClientIP()), zap.String("api_key_prefix", apiKey[:prefixLen]))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}

		// Set client ID for later use
		c.Set("clientID", clientID)
		m.logger.Debug("Successfully authenticated client", zap.String("client_id", clientID))
		c.Next()
	}
}

func (m *SecurityMiddleware) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := m.allowOrigin(c.GetHeader("Origin")); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+m.apiKeyHeader)
		c.Header("Access-Control-Max-Age", "3600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (m *SecurityMiddleware) allowOrigin(origin string) string {
	if len(m.allowedOrigins) == 0 {
		return "*"
	}
	for _, allowed := range m.allowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

// RateLimit applies a token bucket per authenticated client.
func (m *SecurityMiddleware) RateLimit(perSecond float64, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			c.Next()
			return
		}

		mu.Lock()
		limiter, exists := limiters[clientID]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
			limiters[clientID] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			metrics.RateLimitExceeded.WithLabelValues(clientID, "request_rate").Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// ValidatePayload requires a JSON body on requests that carry one.
func (m *SecurityMiddleware) ValidatePayload() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut:
		default:
			c.Next()
			return
		}
		if c.Request.ContentLength == 0 {
			c.Next()
			return
		}

		if !strings.HasPrefix(c.GetHeader("Content-Type"), "application/json") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Content-Type must be application/json"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (m *SecurityMiddleware) validateAPIKey(apiKey string) string {
	// Find client ID by API key
	for clientID, key := range m.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			return clientID
		}
	}
	return ""
}
