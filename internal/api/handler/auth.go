package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"

	"reviewbot/backend/internal/config"
)

const staffKey = "staff_id"

// GenerateToken issues a staff API token. The staff id becomes the actor id
// on every command issued with it.
func GenerateToken(secret []byte, staffID string, ttl time.Duration) (string, error) {
	if staffID == "" {
		return "", errors.New("staff id is required")
	}
	claims := jwt.MapClaims{
		"staff_id": staffID,
		"exp":      time.Now().Add(ttl).Unix(),
		"iss":      config.APIIssuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken validates a staff token and returns its staff id.
func ParseToken(secret []byte, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(config.APIIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	staffID, _ := claims["staff_id"].(string)
	if staffID == "" {
		return "", errors.New("token has no staff id")
	}
	return staffID, nil
}

// bearer extracts the token from the Authorization header. WebSocket clients
// that cannot set headers may pass it as the token query parameter.
func bearer(c *gin.Context, allowQuery bool) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	if allowQuery {
		return c.Query("token")
	}
	return ""
}

// RequireStaff authenticates the request and stores the staff id in the context.
func (h *Handler) RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.authenticate(c, false)
	}
}

func (h *Handler) authenticate(c *gin.Context, allowQuery bool) bool {
	tokenString := bearer(c, allowQuery)
	if tokenString == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
		return false
	}
	staffID, err := ParseToken(h.secret, tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return false
	}
	c.Set(staffKey, staffID)
	return true
}

func staffID(c *gin.Context) string {
	return c.GetString(staffKey)
}
