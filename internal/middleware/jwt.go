package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-speaking/internal/response"
	"github.com/stemsi/exstem-speaking/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// TokenValidator verifies a raw token.
type TokenValidator interface {
	ValidateToken(tokenStr string) (*service.Claims, error)
}

// RequireCandidateJWT validates a student JWT from the Authorization header.
func RequireCandidateJWT(auth TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, auth, bearerToken(c))
	}
}

// RequireCandidateWSAuth validates a student JWT from the query param ?token=...
// Used for WebSocket upgrade requests, which cannot carry headers from a browser.
func RequireCandidateWSAuth(auth TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, auth, c.Query("token"))
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

func authenticate(c *gin.Context, auth TokenValidator, tokenStr string) {
	if tokenStr == "" {
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	claims, err := auth.ValidateToken(tokenStr)
	if err != nil {
		code := response.ErrTokenInvalid
		if errors.Is(err, service.ErrTokenExpired) {
			code = response.ErrTokenExpired
		}
		response.AbortFail(c, http.StatusUnauthorized, code)
		return
	}

	if claims.TokenType != service.TokenTypeStudent {
		response.AbortFail(c, http.StatusForbidden, response.ErrCandidateAccessOnly)
		return
	}

	c.Set(ContextKeyClaims, claims)
	c.Next()
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}
