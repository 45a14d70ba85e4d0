package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edforge/edforge-backend/internal/requestdata"
)

// UserIDHeader carries the caller identity, set by the edge gateway.
const UserIDHeader = "X-User-ID"

// RequireIdentity rejects requests without a valid gateway-asserted user id
// and stores it in the request context for handlers.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(UserIDHeader)
		if raw == "" {
			// SSE reconnects from EventSource cannot set headers.
			raw = c.Query("user_id")
		}
		userID, err := uuid.Parse(raw)
		if err != nil || userID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid user id"})
			return
		}
		ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
