// Package auth issues and checks the bearer tokens producers present when
// recording results directly into the ledger. Tokens authorize writes only;
// they are not a signature over ledger content.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ScopeRecord allows a producer to write records.
const ScopeRecord = "ledger:record"

const ctxProducerClaims = "ledger_producer_claims"

// ErrNoSecret is returned by NewTokenIssuer for an empty signing secret.
var ErrNoSecret = errors.New("producer token secret is empty")

// ProducerClaims are the JWT claims of a producer token.
type ProducerClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// HasScope reports whether the claims carry scope.
func (c *ProducerClaims) HasScope(scope string) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

// TokenIssuer issues and verifies HS256 producer tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer. ttl defaults to 24 hours.
func NewTokenIssuer(secret, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed token for producer with the given scopes.
func (t *TokenIssuer) Issue(producer string, scopes []string) (string, error) {
	now := time.Now().UTC()
	claims := ProducerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   producer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Scopes: scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a producer token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*ProducerClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&ProducerClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	claims, ok := token.Claims.(*ProducerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// RequireScope returns a Gin middleware that enforces a valid producer
// token carrying scope. A nil issuer rejects every request, so routes stay
// closed when no secret is configured.
func RequireScope(tokens *TokenIssuer, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "producer authentication is not configured",
			})
			return
		}
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}
		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}
		if !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "token lacks scope " + scope,
			})
			return
		}
		c.Set(ctxProducerClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the claims injected by RequireScope.
func ClaimsFromCtx(c *gin.Context) *ProducerClaims {
	v, _ := c.Get(ctxProducerClaims)
	claims, _ := v.(*ProducerClaims)
	return claims
}
