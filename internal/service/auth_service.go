package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes teacher sessions from machine callers.
type TokenType string

const (
	TokenTypeTeacher TokenType = "teacher"
	TokenTypeService TokenType = "service"
)

// Permission codes carried in teacher tokens.
const (
	PermEvaluationRun  = "evaluation:run"
	PermEvaluationEdit = "evaluation:edit"
	PermDocumentManage = "document:manage"
	PermAll            = "*"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType `json:"token_type"`
	UserID      uuid.UUID `json:"user_id"`
	Permissions []string  `json:"permissions,omitempty"`
}

// HasPermission reports whether the claims grant code.
func (c *Claims) HasPermission(code string) bool {
	for _, p := range c.Permissions {
		if p == code || p == PermAll {
			return true
		}
	}
	return false
}

// AuthService verifies HS256 tokens issued by the school platform.
type AuthService struct {
	secret []byte
}

// NewAuthService creates a new AuthService.
func NewAuthService(secret string) *AuthService {
	return &AuthService{secret: []byte(secret)}
}

// IssueToken signs a token. Used by operator tooling and tests; end-user
// tokens come from the platform's login flow.
func (s *AuthService) IssueToken(userID uuid.UUID, tokenType TokenType, permissions []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType:   tokenType,
		UserID:      userID,
		Permissions: permissions,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
