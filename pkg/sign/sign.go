// Package sign provides provenance signing for compiled OakScript
// containers: a content hash over the bytecode plus a JWT asserting
// who (which script, which compiler run) produced it.
package sign

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/oakscript/oak/pkg/configuration"
	"github.com/oakscript/oak/pkg/logger"
)

const defaultSigningKey = "fallback_signing_key_change_in_production"

func getSigningKey() string {
	if env := os.Getenv("OAKSCRIPT_SIGNING_KEY"); env != "" {
		return env
	}
	key := configuration.GetString("sign", "signing_key", defaultSigningKey)
	if key == defaultSigningKey {
		logger.Warn(logger.AreaSign, "using fallback signing key - set OAKSCRIPT_SIGNING_KEY for production")
	}
	return key
}

func getTokenTTL() time.Duration {
	return configuration.GetDuration("sign", "token_ttl", 24*time.Hour)
}

// ContentHash returns a hex-encoded blake2b-256 digest of data, used
// to detect whether a container's bytecode has been tampered with
// independently of the signature check.
func ContentHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// ContainerClaims asserts which script and compiler run produced a
// container, and the content hash of its bytecode at signing time.
type ContainerClaims struct {
	ScriptName  string `json:"script"`
	ContentHash string `json:"hash"`
	RunID       string `json:"run_id"`
	jwt.RegisteredClaims
}

// Sign produces a provenance token for a compiled container's bytecode.
func Sign(scriptName string, bytecode []byte) (string, error) {
	now := time.Now()
	runID := uuid.New().String()
	hash := ContentHash(bytecode)

	claims := ContainerClaims{
		ScriptName:  scriptName,
		ContentHash: hash,
		RunID:       runID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(getTokenTTL())),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    configuration.GetString("sign", "issuer", "oakscript"),
			Subject:   scriptName,
			ID:        runID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(getSigningKey()))
	if err != nil {
		return "", fmt.Errorf("sign container: %w", err)
	}
	logger.Info(logger.AreaSign, "signed container for script %q, run %s", scriptName, runID)
	return signed, nil
}

// Verify checks a provenance token's signature, expiry, and that its
// embedded content hash matches the bytecode presented alongside it.
func Verify(tokenString string, bytecode []byte) (*ContainerClaims, error) {
	secretKey := getSigningKey()

	token, err := jwt.ParseWithClaims(
		tokenString,
		&ContainerClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing algorithm: %v", token.Header["alg"])
			}
			return []byte(secretKey), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("token parsing failed: %v", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(*ContainerClaims)
	if !ok {
		return nil, fmt.Errorf("could not extract token claims")
	}
	if claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, fmt.Errorf("token has expired")
	}
	if claims.ContentHash != ContentHash(bytecode) {
		logger.Warn(logger.AreaSign, "content hash mismatch for script %q, run %s", claims.ScriptName, claims.RunID)
		return nil, fmt.Errorf("content hash mismatch: container bytecode does not match the signed hash")
	}
	return claims, nil
}
