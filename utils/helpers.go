package utils

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GetUserID retrieves the user ID from the Gin context, assuming it is stored as "userID" in context.
func GetUserID(c *gin.Context) string {
	if userID, exists := c.Get("userID"); exists {
		if idStr, ok := userID.(string); ok {
			return idStr
		}
	}
	return ""
}

// GetUserName retrieves the display name set by the auth middleware.
func GetUserName(c *gin.Context) string {
	if name, exists := c.Get("userName"); exists {
		if nameStr, ok := name.(string); ok {
			return nameStr
		}
	}
	return ""
}

func GenerateUUID() string {
	return uuid.New().String()
}
