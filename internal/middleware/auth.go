package middleware

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"

	"github.com/hyperion-ledger/hyperion/internal/services"
)

var (
	authRedis *redis.Client
	authDB    *sql.DB
)

// InitAuthMiddleware wires the middleware's storage handles. Redis is
// optional; without it every request re-verifies the argon2 hash.
func InitAuthMiddleware(redisClient *redis.Client, db *sql.DB) {
	authRedis = redisClient
	authDB = db
}

// IntegrationAuth authenticates Bearer credentials: either the integration's
// opaque token (hyp_<id>_<secret>) or a connection JWT issued at
// POST /integration/connection.
func IntegrationAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			services.SendErrorResponse(w, "Authorization header required", http.StatusUnauthorized, nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			services.SendErrorResponse(w, "Invalid authorization header format", http.StatusUnauthorized, nil)
			return
		}

		token := parts[1]

		var (
			integrationID string
			connectionID  string
			err           error
		)
		if strings.HasPrefix(token, services.IntegrationTokenPrefix) {
			integrationID, err = validateIntegrationToken(r.Context(), token)
		} else {
			integrationID, connectionID, err = validateConnectionToken(token)
		}
		if err != nil {
			services.SendErrorResponse(w, "Invalid token", http.StatusUnauthorized, nil)
			return
		}

		ctx := context.WithValue(r.Context(), "integrationID", integrationID)
		if connectionID != "" {
			ctx = context.WithValue(ctx, "connectionID", connectionID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateIntegrationToken(ctx context.Context, token string) (string, error) {
	integrationID, secret, ok := services.SplitIntegrationToken(token)
	if !ok {
		return "", fmt.Errorf("malformed integration token")
	}

	// Cache on a digest of the full token so the argon2 verification only
	// runs on cache misses.
	cacheKey := integrationTokenCacheKey(token)
	if authRedis != nil {
		if cached, err := authRedis.Get(ctx, cacheKey).Result(); err == nil && cached == integrationID {
			return integrationID, nil
		}
	}

	var tokenHash string
	err := authDB.QueryRow(`SELECT token_hash FROM integrations WHERE id = $1`, integrationID).Scan(&tokenHash)
	if err != nil {
		return "", fmt.Errorf("unknown integration")
	}

	if !services.VerifyToken(secret, tokenHash) {
		return "", fmt.Errorf("token mismatch")
	}

	if authRedis != nil {
		if err := authRedis.Set(ctx, cacheKey, integrationID, 5*time.Minute).Err(); err != nil {
			log.Printf("[AUTH] Failed to cache token verification: %v", err)
		}
	}

	return integrationID, nil
}

func validateConnectionToken(tokenString string) (integrationID, connectionID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	})

	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("invalid connection token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("invalid connection token claims")
	}

	integrationID, _ = claims["integration_id"].(string)
	connectionID, _ = claims["connection_id"].(string)
	if integrationID == "" || connectionID == "" {
		return "", "", fmt.Errorf("incomplete connection token claims")
	}

	return integrationID, connectionID, nil
}

func integrationTokenCacheKey(token string) string {
	digest := sha256.Sum256([]byte(token))
	return fmt.Sprintf("integration_token:%s", hex.EncodeToString(digest[:]))
}
