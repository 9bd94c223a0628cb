package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"resqlink/models"
	"resqlink/repositories"
	"resqlink/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AuthMiddleware struct {
	jwtService *utils.JWTService
	userRepo   *repositories.UserRepository
}

func NewAuthMiddleware(jwtService *utils.JWTService, userRepo *repositories.UserRepository) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		userRepo:   userRepo,
	}
}

// RequireAuth validates the JWT and sets user context
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := am.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "UNAUTHORIZED",
				Message: "Authentication token required",
				Code:    "AUTH_TOKEN_REQUIRED",
			})
			c.Abort()
			return
		}

		claims, err := am.jwtService.ValidateToken(token)
		if err != nil {
			logrus.Warnf("Invalid token: %v", err)
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "UNAUTHORIZED",
				Message: "Invalid authentication token",
				Code:    "AUTH_TOKEN_INVALID",
			})
			c.Abort()
			return
		}

		if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "UNAUTHORIZED",
				Message: "Authentication token expired",
				Code:    "AUTH_TOKEN_EXPIRED",
			})
			c.Abort()
			return
		}

		if claims.TokenType != "access" {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "UNAUTHORIZED",
				Message: "Invalid token type",
				Code:    "AUTH_TOKEN_INVALID_TYPE",
			})
			c.Abort()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		user, err := am.userRepo.GetByID(ctx, claims.UserID)
		if err != nil {
			if utils.IsNotFound(err) {
				c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "UNAUTHORIZED",
					Message: "User account not found",
					Code:    "AUTH_USER_NOT_FOUND",
				})
			} else {
				logrus.Errorf("Error fetching user %s: %v", claims.UserID, err)
				c.JSON(http.StatusInternalServerError, models.ErrorResponse{
					Error:   "INTERNAL_ERROR",
					Message: "Failed to validate authentication",
					Code:    "AUTH_VALIDATION_ERROR",
				})
			}
			c.Abort()
			return
		}

		if !user.IsActive {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "UNAUTHORIZED",
				Message: "User account is deactivated",
				Code:    "AUTH_USER_INACTIVE",
			})
			c.Abort()
			return
		}

		c.Set("user", user)
		c.Set("userID", user.ID.Hex())
		c.Set("userName", user.FullName())
		c.Set("userRole", claims.Role)

		c.Next()
	}
}

// RequireRole validates the user holds one of the given roles
func (am *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole, exists := c.Get("userRole")
		if !exists {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "UNAUTHORIZED",
				Message: "User role not found in context",
				Code:    "AUTH_ROLE_MISSING",
			})
			c.Abort()
			return
		}

		roleStr, _ := userRole.(string)
		for _, role := range roles {
			if roleStr == role {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, models.ErrorResponse{
			Error:   "FORBIDDEN",
			Message: "Insufficient permissions",
			Code:    "AUTH_INSUFFICIENT_PERMISSIONS",
		})
		c.Abort()
	}
}

// WebSocketAuth validates a token for websocket upgrade requests, where
// the client passes it as a query parameter.
func (am *AuthMiddleware) WebSocketAuth(token string) (*models.User, error) {
	if token == "" {
		return nil, utils.NewNotAuthenticatedError("Authentication token required")
	}

	claims, err := am.jwtService.ValidateToken(token)
	if err != nil {
		return nil, utils.NewNotAuthenticatedError("Invalid authentication token")
	}
	if claims.TokenType != "access" {
		return nil, utils.NewNotAuthenticatedError("Invalid token type")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user, err := am.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if utils.IsNotFound(err) {
			return nil, utils.NewNotAuthenticatedError("User account not found")
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, utils.NewNotAuthenticatedError("User account is deactivated")
	}

	return user, nil
}

func (am *AuthMiddleware) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	if token := c.Query("token"); token != "" {
		return token
	}

	return ""
}

// GetCurrentUser returns the authenticated user from context
func GetCurrentUser(c *gin.Context) (*models.User, bool) {
	user, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	userModel, ok := user.(*models.User)
	return userModel, ok
}

// GetCurrentUserID returns the authenticated user ID from context
func GetCurrentUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("userID")
	if !exists {
		return "", false
	}
	userIDStr, ok := userID.(string)
	return userIDStr, ok
}
