package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"attendanceportal/internal/model"
	"attendanceportal/internal/session"
)

const sessionKey = "session"

// Authenticate enforces bearer access tokens and stores the caller's
// session.Context on the gin context. Websocket clients may pass the token
// in the "token" query parameter instead.
func Authenticate(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c.GetHeader("Authorization"))
		if tokenStr == "" {
			tokenStr = c.Query("token")
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := issuer.Parse(tokenStr, TokenAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(sessionKey, session.Context{UserID: claims.Subject, Name: claims.Name, Role: claims.Role})
		c.Next()
	}
}

// RequireRole rejects callers whose session role differs from role.
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := Session(c)
		if !ok || sess.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "requires role " + string(role)})
			return
		}
		c.Next()
	}
}

// Session returns the caller installed by Authenticate.
func Session(c *gin.Context) (session.Context, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return session.Context{}, false
	}
	sess, ok := v.(session.Context)
	return sess, ok
}

func bearerToken(authz string) string {
	if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("bearer "):])
}
