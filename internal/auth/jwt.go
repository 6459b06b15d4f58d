// Package auth verifies the bearer tokens the property backend issues.
//
// The backend owns login and sessions. This service only checks the
// signature and expiry of the access token it is handed, reads the caller's
// identity and role from it, and forwards the token unchanged on calls back
// to the backend.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Predefined JWT errors.
var (
	ErrInvalidAccessToken = errors.New("invalid access token")
	ErrAccessTokenExpired = errors.New("access token has expired")
	ErrMissingSigningKey  = errors.New("jwt signing key is required")
)

// Role is the caller's role as assigned by the backend.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleStaff  Role = "STAFF"
	RoleTenant Role = "TENANT"
)

// CanManage reports whether the role may commit schedules.
func (r Role) CanManage() bool {
	return r == RoleAdmin || r == RoleStaff
}

// Claims represents the claims of a backend access token.
type Claims struct {
	jwt.RegisteredClaims

	// UserID is the authenticated user's ID. Falls back to the subject.
	UserID string `json:"userId,omitempty"`

	// Role is one of ADMIN, STAFF, TENANT.
	Role Role `json:"role,omitempty"`
}

// Identity returns the caller's user ID.
func (c *Claims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// VerifierConfig holds configuration for the token verifier.
type VerifierConfig struct {
	// SigningKey is the HS256 secret shared with the backend.
	SigningKey string

	// Issuer, when set, must match the iss claim.
	Issuer string

	// Audience, when set, must be present in the aud claim.
	Audience string

	// Leeway tolerates clock skew on exp/nbf. Default: 30s.
	Leeway time.Duration

	// Insecure skips signature verification. Only for local development
	// against a backend whose key is not at hand.
	Insecure bool
}

// Verifier validates access tokens.
type Verifier struct {
	signingKey []byte
	issuer     string
	audience   string
	leeway     time.Duration
	insecure   bool
}

// NewVerifier creates a new token verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.SigningKey == "" && !cfg.Insecure {
		return nil, ErrMissingSigningKey
	}
	leeway := cfg.Leeway
	if leeway == 0 {
		leeway = 30 * time.Second
	}
	return &Verifier{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		leeway:     leeway,
		insecure:   cfg.Insecure,
	}, nil
}

// Verify validates an access token and returns its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	var (
		token *jwt.Token
		err   error
	)
	if v.insecure {
		token, _, err = jwt.NewParser(opts...).ParseUnverified(tokenString, claims)
		if err == nil {
			err = jwt.NewValidator(opts...).Validate(claims)
		}
	} else {
		token, err = jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.signingKey, nil
		}, opts...)
	}

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidAccessToken, err.Error())
	}
	if token == nil || claims.Identity() == "" {
		return nil, ErrInvalidAccessToken
	}

	claims.Role = Role(strings.ToUpper(string(claims.Role)))
	return claims, nil
}

// Sign issues an HS256 token for userID with the verifier's issuer and
// audience. The worker uses it to mint its own service token.
func (v *Verifier) Sign(userID string, role Role, ttl time.Duration) (string, error) {
	if len(v.signingKey) == 0 {
		return "", ErrMissingSigningKey
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		UserID: userID,
		Role:   role,
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return token, nil
}
