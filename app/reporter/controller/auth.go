package controller

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zkp2p/slack-liquidity-bot/pkg/utils"
)

func bearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

// ValidateToken checks the bearer token against ADMIN_TOKEN (clear text or bcrypt).
func (c *Controller) ValidateToken(r *http.Request) bool {
	return utils.MatchSecret(c.AdminToken, bearer(r))
}

// ValidateJWT accepts an HS256 bearer token signed with SESSION_SECRET carrying role=admin.
func (c *Controller) ValidateJWT(r *http.Request) bool {
	raw := bearer(r)
	if raw == "" || len(c.JWTSecret) == 0 {
		return false
	}
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) { return c.JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return false
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	role, _ := claims["role"].(string)
	return role == "admin"
}

// RequireAdmin middleware
func (c *Controller) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.ValidateToken(r) || c.ValidateJWT(r) {
			next.ServeHTTP(w, r)
			return
		}
		if bearer(r) == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeError(w, http.StatusForbidden, "forbidden")
	})
}
