package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSecret is returned when tokens are requested without a configured
// secret.
var ErrNoSecret = errors.New("jwt secret not configured")

// ForbiddenError indicates missing role.
type ForbiddenError struct {
	Role string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s required", e.Role)
}

// Principal is the authenticated operator.
type Principal struct {
	ActorID string
	Roles   []string
	Source  string
}

// HasRole reports whether p carries role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Require returns ForbiddenError unless p carries role. An empty role
// always passes.
func (p Principal) Require(role string) error {
	if role == "" || p.HasRole(role) {
		return nil
	}
	return ForbiddenError{Role: role}
}

type claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// Mint signs an HS256 token for subject. A zero ttl mints a token without
// expiry.
func Mint(secret, issuer, subject string, roles []string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrNoSecret
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Roles: roles,
	}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// Verify parses an HS256 token and returns its principal.
func Verify(secret, token string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, ErrNoSecret
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if c.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{ActorID: c.Subject, Roles: c.Roles, Source: "jwt"}, nil
}
