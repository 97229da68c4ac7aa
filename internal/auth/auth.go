// Package auth provides JWT-based authentication for kiroku.
//
// The model is deliberately small: a single shared API key (Argon2id-hashed
// at startup) is exchanged at /auth/token for a short-lived HS256 bearer
// token carrying the caller's actor name. The actor flows into every audit
// record the caller produces.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "kiroku"

// Claims extends jwt.RegisteredClaims with the actor identity.
type Claims struct {
	jwt.RegisteredClaims
	Actor string `json:"actor"`
}

// Manager issues and validates bearer tokens, and verifies the configured
// API key.
type Manager struct {
	secret     []byte
	keyHash    string
	expiration time.Duration
}

// NewManager creates a Manager. apiKey is hashed immediately so the
// plaintext never lives beyond construction.
func NewManager(apiKey, jwtSecret string, expiration time.Duration) (*Manager, error) {
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("auth: JWT secret must be at least 32 bytes")
	}
	keyHash, err := HashAPIKey(apiKey)
	if err != nil {
		return nil, err
	}
	return &Manager{
		secret:     []byte(jwtSecret),
		keyHash:    keyHash,
		expiration: expiration,
	}, nil
}

// VerifyKey checks a presented API key against the configured one in
// constant time. On mismatch it still burns a full hash so timing does not
// distinguish wrong keys from right ones.
func (m *Manager) VerifyKey(apiKey string) bool {
	ok, err := VerifyAPIKey(apiKey, m.keyHash)
	if err != nil {
		DummyVerify()
		return false
	}
	return ok
}

// IssueToken creates a signed token for actor.
func (m *Manager) IssueToken(actor string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Actor: actor,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a bearer token, returning the claims.
func (m *Manager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithAudience(issuer),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if claims.Actor == "" {
		return nil, fmt.Errorf("auth: token missing actor claim")
	}
	return claims, nil
}
