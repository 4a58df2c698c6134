package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pagelift/billing/internal/contextkeys"
	"github.com/pagelift/billing/internal/handler"
)

// Claims are the token fields this service cares about. Tokens are minted by
// the main application with the same shared secret; this service only
// verifies them.
type Claims struct {
	UserID   string
	Email    string
	TenantID int64
}

// VerifyToken validates a JWT and extracts the claims.
func VerifyToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid or expired token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	out := &Claims{
		UserID: getClaimString(claims, "sub"),
		Email:  getClaimString(claims, "email"),
	}
	// JSON numbers decode as float64.
	if v, ok := claims["tenant_id"].(float64); ok {
		out.TenantID = int64(v)
	}
	if out.TenantID == 0 {
		return nil, fmt.Errorf("token carries no tenant")
	}
	return out, nil
}

// Auth creates a JWT authentication middleware.
func Auth(jwtSecret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "no token provided"})
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization header"})
				return
			}

			claims, err := VerifyToken(parts[1], jwtSecret)
			if err != nil {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
				return
			}

			ctx := context.WithValue(r.Context(), contextkeys.TenantID, claims.TenantID)
			ctx = context.WithValue(ctx, contextkeys.UserID, claims.UserID)
			ctx = context.WithValue(ctx, contextkeys.UserEmail, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
