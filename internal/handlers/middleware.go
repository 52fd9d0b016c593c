package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader is the request header carrying the API key. The key is also
// accepted as the api_key query parameter for clients that cannot set
// headers (browsers opening WebSockets).
const (
	APIKeyHeader     = "X-API-Key"
	apiKeyQueryParam = "api_key"
)

// apiKeyMiddleware enforces the configured API key. When no key is
// configured, authentication is disabled entirely.
func (h *Handler) apiKeyMiddleware(c *gin.Context) {
	if h.apiKey == "" {
		c.Next()
		return
	}

	key := c.GetHeader(APIKeyHeader)
	if key == "" {
		key = c.Query(apiKeyQueryParam)
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "missing or invalid API key",
		})
		return
	}

	c.Next()
}
