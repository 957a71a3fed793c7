package middlewares

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-lipsync-orchestrator/config"
	"github.com/tnqbao/gau-lipsync-orchestrator/utils"
)

// TimestampTolerance bounds the clock skew accepted on signed requests.
const TimestampTolerance = 300 * time.Second

// InternalAuthMiddleware guards the stage triggers. Callers either send the shared key in
// Private-Key, or sign the request:
//
//	Authorization: HMAC <service>:<hex hmac-sha256 of METHOD\nPATH\nTIMESTAMP\nSHA256(body)>
//	X-Timestamp: <unix seconds>
func InternalAuthMiddleware(cfg *config.EnvConfig) gin.HandlerFunc {
	secret := cfg.InternalAuth.PrivateKey
	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		if key := c.GetHeader("Private-Key"); key != "" {
			if !utils.SecureCompare(key, secret) {
				abortUnauthorized(c, "Invalid private key")
				return
			}
			c.Set("auth_method", "private_key")
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "HMAC ") {
			abortUnauthorized(c, "Authorization header is required")
			return
		}
		caller, signature, ok := strings.Cut(strings.TrimPrefix(authHeader, "HMAC "), ":")
		if !ok || caller == "" || signature == "" {
			abortUnauthorized(c, "Invalid HMAC authorization format. Expected: HMAC <service>:<signature>")
			return
		}

		timestamp, err := strconv.ParseInt(c.GetHeader("X-Timestamp"), 10, 64)
		if err != nil {
			abortUnauthorized(c, "X-Timestamp header is required")
			return
		}
		if !utils.TimestampWithin(timestamp, time.Now(), TimestampTolerance) {
			abortUnauthorized(c, "Request timestamp expired")
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, err = io.ReadAll(c.Request.Body)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		if !utils.VerifySignature(secret, signature, c.Request.Method, c.Request.URL.Path, timestamp, body) {
			abortUnauthorized(c, "Invalid signature")
			return
		}

		c.Set("caller", caller)
		c.Set("auth_method", "hmac")
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
