package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/mir00r/headmaster/pkg/logger"
)

// JWTAuthConfig contains admin API bearer-token configuration
type JWTAuthConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Issuer    string `json:"issuer" yaml:"issuer"`
}

// JWTAuthMiddleware validates HMAC-signed bearer tokens on admin requests
type JWTAuthMiddleware struct {
	config JWTAuthConfig
	logger *logger.Logger
}

type claimsContextKey struct{}

// NewJWTAuthMiddleware creates a new JWT authentication middleware
func NewJWTAuthMiddleware(config JWTAuthConfig, log *logger.Logger) (*JWTAuthMiddleware, error) {
	if config.Enabled && config.SecretKey == "" {
		return nil, fmt.Errorf("jwt auth enabled without a secret key")
	}

	return &JWTAuthMiddleware{
		config: config,
		logger: log.MiddlewareLogger("jwt_auth"),
	}, nil
}

// JWTAuth returns the JWT authentication middleware
func (jm *JWTAuthMiddleware) JWTAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !jm.config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				jm.logger.WithFields(map[string]interface{}{
					"path":   r.URL.Path,
					"method": r.Method,
					"ip":     r.RemoteAddr,
				}).Warn("JWT token missing")
				writeJWTError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			claims, err := jm.validateToken(token)
			if err != nil {
				jm.logger.WithFields(map[string]interface{}{
					"error":  err.Error(),
					"path":   r.URL.Path,
					"method": r.Method,
					"ip":     r.RemoteAddr,
				}).Warn("JWT validation failed")
				writeJWTError(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			jm.logger.WithFields(map[string]interface{}{
				"subject": claims.Subject,
				"path":    r.URL.Path,
				"method":  r.Method,
			}).Debug("JWT authentication successful")

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the validated token claims attached to ctx
func ClaimsFromContext(ctx context.Context) (*jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*jwt.RegisteredClaims)
	return claims, ok
}

// IssueToken signs an HS256 token for subject, valid for ttl
func (jm *JWTAuthMiddleware) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    jm.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jm.config.SecretKey))
}

// validateToken validates and parses the JWT token
func (jm *JWTAuthMiddleware) validateToken(tokenString string) (*jwt.RegisteredClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jm.config.SecretKey), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if jm.config.Issuer != "" && !claims.VerifyIssuer(jm.config.Issuer, true) {
		return nil, fmt.Errorf("invalid issuer")
	}

	return claims, nil
}

// extractToken extracts the bearer token from the Authorization header
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

func writeJWTError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="headmaster"`)
	w.WriteHeader(statusCode)

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   "authentication_failed",
		"message": message,
	})
}
