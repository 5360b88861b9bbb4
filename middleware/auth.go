package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"gameverse-api/models"
	"gameverse-api/services"
	"gameverse-api/utils"
)

// Context keys for user information
const (
	ContextKeyUserID = "user_id"
	ContextKeyEmail  = "email"
	ContextKeyRole   = "role"
)

type TokenParser interface {
	Parse(token string) (*services.Claims, error)
}

// AuthMiddleware requires a valid bearer token and puts its claims on the context
func AuthMiddleware(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.SendError(c, http.StatusUnauthorized, utils.CodeUnauthorized, "Authorization header is required")
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) || len(authHeader) == len(bearerPrefix) {
			utils.SendError(c, http.StatusUnauthorized, utils.CodeUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := tokens.Parse(authHeader[len(bearerPrefix):])
		if err != nil {
			message := "Invalid access token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				message = "Access token has expired"
			}
			utils.SendError(c, http.StatusUnauthorized, utils.CodeUnauthorized, message)
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyEmail, claims.Email)
		c.Set(ContextKeyRole, string(claims.Role))
		c.Next()
	}
}

// RequireRole must run after AuthMiddleware
func RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetRole(c)
		if !ok {
			utils.SendError(c, http.StatusUnauthorized, utils.CodeUnauthorized, "User not authenticated")
			return
		}
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		utils.SendError(c, http.StatusForbidden, utils.CodeForbidden, "Insufficient permissions")
	}
}

func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

func GetRole(c *gin.Context) (models.UserRole, bool) {
	role, exists := c.Get(ContextKeyRole)
	if !exists {
		return "", false
	}
	r, ok := role.(string)
	return models.UserRole(r), ok
}

func IsAdmin(c *gin.Context) bool {
	role, _ := GetRole(c)
	return role == models.RoleAdmin
}
