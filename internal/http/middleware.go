package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mediatube/internal/service"
)

const ctxUserIDKey = "userID"

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requireAuth verifies the access token from the cookie or the
// Authorization header and attaches the caller's user id to the context.
func requireAuth(tokens service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("accessToken")
		if token == "" {
			header := c.GetHeader("Authorization")
			if strings.HasPrefix(header, "Bearer ") {
				token = strings.TrimPrefix(header, "Bearer ")
			}
		}
		if token == "" {
			respondError(c, http.StatusUnauthorized, "Unauthorized request")
			return
		}

		userID, err := tokens.VerifyAccessToken(token)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "Invalid access token")
			return
		}

		c.Set(ctxUserIDKey, userID)
		c.Next()
	}
}

func currentUserID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserIDKey)
}
