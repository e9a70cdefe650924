/*
Copyright 2025 WattVault Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"

	"github.com/wattvault/wattvault"
	"github.com/wattvault/wattvault/config"
)

// KeyHeader carries the caller's API key.
const KeyHeader = "X-Wattvault-Key"

// RateLimitMiddleware creates a middleware for rate limiting using Tollbooth.
func RateLimitMiddleware(conf *config.Configuration) gin.HandlerFunc {
	if conf.RateLimit.RequestsPerSecond == nil || conf.RateLimit.Burst == nil {
		// Rate limiting is disabled
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rps := *conf.RateLimit.RequestsPerSecond
	burst := *conf.RateLimit.Burst
	ttl := time.Duration(*conf.RateLimit.CleanupIntervalSec) * time.Second

	lmt := tollbooth.NewLimiter(rps, &limiter.ExpirableOptions{
		DefaultExpirationTTL: ttl,
	})
	lmt.SetBurst(burst)
	return func(c *gin.Context) {
		httpError := tollbooth.LimitByRequest(lmt, c.Writer, c.Request)
		if httpError != nil {
			c.AbortWithStatusJSON(httpError.StatusCode, gin.H{"error": httpError.Message})
			return
		}
		c.Next()
	}
}

// KeyAuthMiddleware authenticates the X-Wattvault-Key header against the
// configured role keys and attaches the resolved role to the request context.
// The admin secret key doubles as the master key.
func KeyAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/" {
			c.Next()
			return
		}

		conf, err := config.Fetch()
		if err != nil || conf.Server.SecretKey == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Secret key is not configured"})
			return
		}

		clientKey := c.GetHeader(KeyHeader)
		if clientKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
			return
		}

		role, ok := resolveRole(conf, clientKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}

		ctx := wattvault.WithAuth(c.Request.Context(), wattvault.AuthContext{
			ActorID: "api:" + role,
			Role:    role,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func resolveRole(conf *config.Configuration, clientKey string) (string, bool) {
	if secureCompare(conf.Server.SecretKey, clientKey) {
		return wattvault.RoleAdmin, true
	}
	if conf.Server.OperatorKey != "" && secureCompare(conf.Server.OperatorKey, clientKey) {
		return wattvault.RoleOperator, true
	}
	if conf.Server.ServiceKey != "" && secureCompare(conf.Server.ServiceKey, clientKey) {
		return wattvault.RoleService, true
	}
	return "", false
}

func secureCompare(expected, actual string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}
