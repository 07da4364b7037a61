package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"webnova-backend/common"

	"github.com/gin-gonic/gin"
)

var ErrMissingAPICredentials = errors.New("missing or invalid API credentials")

// APIKeyAuthMiddleware guards internal/operational routes with the configured
// API key pair. Expected header: "Authorization: ApiKey key:secret".
func APIKeyAuthMiddleware(cfg *common.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		var apiKey, apiSecret string
		if len(authHeader) > 7 && authHeader[:7] == "ApiKey " {
			credentials := authHeader[7:]
			parts := make([]string, 2)
			n, _ := fmt.Sscanf(credentials, "%[^:]:%s", &parts[0], &parts[1])
			if n == 2 {
				apiKey = parts[0]
				apiSecret = parts[1]
			}
		}

		if apiKey == "" || apiSecret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key and secret are required"})
			return
		}

		if cfg.ApiKey == "" || cfg.ApiKeySecret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Internal API access is not configured"})
			return
		}

		keyOK := subtle.ConstantTimeCompare([]byte(apiKey), []byte(cfg.ApiKey)) == 1
		secretOK := subtle.ConstantTimeCompare([]byte(apiSecret), []byte(cfg.ApiKeySecret)) == 1
		if !keyOK || !secretOK {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key or secret"})
			return
		}

		c.Next()
	}
}
