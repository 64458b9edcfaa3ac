// Package auth issues and validates the bearer tokens that guard
// administrative endpoints.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token defaults.
const (
	// DefaultTokenTTL is how long admin tokens are valid when no TTL is configured.
	DefaultTokenTTL = 1 * time.Hour

	// DefaultIssuer is the issuer claim of minted tokens.
	DefaultIssuer = "airwatch"

	// DefaultAudience is the audience claim of minted tokens.
	DefaultAudience = "airwatch-admin"

	// RoleAdmin grants access to destructive operations such as reset.
	RoleAdmin = "admin"
)

// Predefined JWT errors.
var (
	ErrInvalidToken = errors.New("invalid admin token")
	ErrTokenExpired = errors.New("admin token has expired")
	ErrForbidden    = errors.New("token lacks the admin role")
)

// Claims represents the claims in admin tokens.
type Claims struct {
	jwt.RegisteredClaims

	// Role is the granted role. Only RoleAdmin is accepted.
	Role string `json:"role"`
}

// JWTConfig holds configuration for the JWT service.
type JWTConfig struct {
	// SigningKey is the secret key used to sign JWTs.
	SigningKey string

	// Issuer is the issuer claim. Default: DefaultIssuer
	Issuer string

	// Audience is the audience claim. Default: DefaultAudience
	Audience string

	// TTL is the lifetime of minted tokens. Default: DefaultTokenTTL
	TTL time.Duration
}

// JWTService handles admin token creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
}

// NewJWTService creates a new JWT service.
func NewJWTService(cfg JWTConfig) *JWTService {
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}

	return &JWTService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		ttl:        cfg.TTL,
	}
}

// GenerateAdminToken mints an admin token for subject.
func (s *JWTService) GenerateAdminToken(subject string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		Role: RoleAdmin,
	}

	return s.sign(claims, expiresAt)
}

func (s *JWTService) sign(claims Claims, expiresAt time.Time) (string, time.Time, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing admin token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// ValidateAdminToken validates a token and returns its claims. Tokens
// without the admin role fail with ErrForbidden.
func (s *JWTService) ValidateAdminToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleAdmin {
		return nil, ErrForbidden
	}

	return claims, nil
}

// generateTokenID generates a unique token ID.
func generateTokenID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
