// Package middleware provides authentication and authorization middleware for the Gin web framework.
package middleware

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Session keys for storing user information
const (
	// UserIDKey is the key used to store user ID in session
	UserIDKey = "user_id"
	// IsAdminKey is the key used to store the admin flag in session
	IsAdminKey = "is_admin"
)

// RequireAuth returns a middleware that requires an authenticated session.
// Identity issuance happens outside this service; the middleware only trusts
// the signed session cookie.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := sessionUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
				"code":  "UNAUTHORIZED",
			})
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// RequireAdmin returns a middleware that requires an authenticated admin session
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := sessionUserID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
				"code":  "UNAUTHORIZED",
			})
			c.Abort()
			return
		}

		session := sessions.Default(c)
		isAdmin, _ := session.Get(IsAdminKey).(bool)
		if !isAdmin {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Admin access required",
				"code":  "FORBIDDEN",
			})
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// GetUserID extracts the authenticated user ID set by RequireAuth
func GetUserID(c *gin.Context) (int, bool) {
	value, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := value.(int)
	return userID, ok
}

// sessionUserID reads the user ID out of the session, tolerating the float64
// representation some session serializers use for numbers.
func sessionUserID(c *gin.Context) (int, bool) {
	session := sessions.Default(c)
	value := session.Get(UserIDKey)
	if value == nil {
		return 0, false
	}
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
