package app

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/authz"
	"github.com/fleetkeeper/fleetkeeper/pkg/config"
	"github.com/fleetkeeper/fleetkeeper/pkg/utils/jwt"
)

const scopeKey = "token_scope"

// BearerAuth validates the Authorization header's JWT and enforces the
// required scope. Scope objects/actions are decided by the embedded
// casbin policy: read may view, write may mutate, admin may manage.
func BearerAuth(cfg *config.Config, need jwt.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing Authorization header"})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid Authorization header"})
			return
		}

		claims, err := jwt.ParseToken(parts[1], cfg.JWT.Secret)
		if err != nil {
			klog.V(1).InfoS("token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "token invalid or expired"})
			return
		}
		if !jwt.Allows(claims.Scope, need) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "insufficient scope"})
			return
		}

		c.Set(scopeKey, string(claims.Scope))
		c.Next()
	}
}

// RequirePermission gates one route on a casbin (obj, act) pair in
// addition to the scope floor BearerAuth established.
func RequirePermission(obj, act string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := c.GetString(scopeKey)
		if !authz.Allowed(scope, obj, act) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "permission denied"})
			return
		}
		c.Next()
	}
}
