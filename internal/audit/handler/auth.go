package handler

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Roles understood by the audit API.
const (
	// RoleWriter may append records.
	RoleWriter = "audit:write"
	// RoleAuditor may read, search, verify, and export.
	RoleAuditor = "audit:read"
)

const claimsCtxKey = "audit_token_claims"

// TokenClaims are the JWT claims for an audit API token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// HasRole reports whether the token grants the given role.
func (c *TokenClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenIssuer issues and verifies HMAC-signed audit API tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer signing with the given secret.
func NewTokenIssuer(secret, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed token carrying the given roles.
func (t *TokenIssuer) Issue(subject string, roles []string) (string, error) {
	now := time.Now().UTC()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Roles: roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign audit token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&TokenClaims{},
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
		return nil, fmt.Errorf("verify audit token: %w", err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid audit token claims")
	}
	return claims, nil
}

// RequireRole returns a middleware that rejects requests whose bearer
// token is missing, invalid, or lacks the given role.
func RequireRole(tokens *TokenIssuer, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if !claims.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Set(claimsCtxKey, claims)
		c.Next()
	}
}

// AuthHandler exchanges the static admin secret for role tokens.
type AuthHandler struct {
	tokens      *TokenIssuer
	adminSecret string
	logger      *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(tokens *TokenIssuer, adminSecret string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, adminSecret: adminSecret, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.IssueToken)
}

type tokenRequest struct {
	AdminSecret string   `json:"admin_secret" binding:"required"`
	Subject     string   `json:"subject"`
	Roles       []string `json:"roles" binding:"required"`
}

// IssueToken handles POST /auth/token — exchanges the admin secret for a
// signed role token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.adminSecret == "" ||
		subtle.ConstantTimeCompare([]byte(req.AdminSecret), []byte(h.adminSecret)) != 1 {
		h.logger.Warn("token issuance rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret"})
		return
	}

	for _, role := range req.Roles {
		if role != RoleWriter && role != RoleAuditor {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown role %q", role)})
			return
		}
	}

	subject := req.Subject
	if subject == "" {
		subject = "api-client"
	}
	token, err := h.tokens.Issue(subject, req.Roles)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
