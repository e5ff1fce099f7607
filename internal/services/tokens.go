package services

import (
	cryptorand "crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// IntegrationTokenPrefix marks opaque integration tokens on the wire:
// hyp_<integration id>_<secret>.
const IntegrationTokenPrefix = "hyp_"

func argonDefaults() {
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)
}

// HashToken hashes an integration token secret with argon2id. The stored form
// is base64(salt)$base64(hash).
func HashToken(secret string) (string, error) {
	argonDefaults()

	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(secret), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

// VerifyToken checks an integration token secret against its stored hash.
func VerifyToken(secret, storedHash string) bool {
	argonDefaults()

	parts := strings.Split(storedHash, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	hash := argon2.IDKey([]byte(secret), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(len(expected)))

	if len(hash) != len(expected) {
		return false
	}
	var diff byte
	for i := range hash {
		diff |= hash[i] ^ expected[i]
	}
	return diff == 0
}

// GenerateIntegrationToken mints a fresh opaque token for an integration and
// returns the token alongside the hash to persist. The token is shown once.
func GenerateIntegrationToken(integrationID string) (token, tokenHash string, err error) {
	raw := make([]byte, 24)
	if _, err := cryptorand.Read(raw); err != nil {
		return "", "", err
	}
	secret := hex.EncodeToString(raw)

	tokenHash, err = HashToken(secret)
	if err != nil {
		return "", "", err
	}

	return fmt.Sprintf("%s%s_%s", IntegrationTokenPrefix, integrationID, secret), tokenHash, nil
}

// SplitIntegrationToken breaks hyp_<id>_<secret> into its parts.
func SplitIntegrationToken(token string) (integrationID, secret string, ok bool) {
	if !strings.HasPrefix(token, IntegrationTokenPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(token, IntegrationTokenPrefix)
	// Integration ids are UUIDs and never contain underscores.
	idx := strings.LastIndex(rest, "_")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// GenerateConnectionJWT issues a short-lived token bound to a connection so
// the long-lived integration secret stays off the wire.
func GenerateConnectionJWT(integrationID, connectionID string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"integration_id": integrationID,
		"connection_id":  connectionID,
		"exp":            time.Now().Add(ttl).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}
