package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware accepts a static bearer token or an HMAC-signed JWT. A JWT
// subject, when present, is stored under "subject" for host-scoped routes.
func AuthMiddleware(staticTokens []string, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.Fields(auth)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		tokenStr := parts[1]

		if jwtSecret != "" {
			token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenMalformed
				}
				return []byte(jwtSecret), nil
			}, jwt.WithLeeway(5*time.Second))
			if err == nil {
				if sub, serr := token.Claims.GetSubject(); serr == nil && sub != "" {
					c.Set("subject", sub)
				}
				c.Next()
				return
			}
		}

		for _, t := range staticTokens {
			if t != "" && tokenStr == t {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	}
}

// requireHost rejects a JWT caller acting on another host's resources.
// Static tokens carry no subject and are treated as operators.
func requireHost(c *gin.Context) bool {
	return allowHost(c, c.Param("id"))
}

// allowHost is requireHost for routes that name the host outside the path.
func allowHost(c *gin.Context, hostID string) bool {
	sub, ok := c.Get("subject")
	if !ok || sub == hostID {
		return true
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token subject does not match host"})
	return false
}
