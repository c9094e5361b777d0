package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rollbook/internal/model"
)

// Principal is the authenticated caller as asserted by the identity provider.
type Principal struct {
	ID       string
	Username string
	Name     string
	Email    string
	Role     model.Role
}

// Is reports whether the principal holds any of the given roles.
func (p Principal) Is(roles ...model.Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// User converts the principal into a directory entry.
func (p Principal) User() model.User {
	return model.User{
		ID:       p.ID,
		Username: p.Username,
		FullName: p.Name,
		Email:    p.Email,
		Role:     p.Role,
	}
}

// Claims represents JWT payload.
type Claims struct {
	Role     string `json:"role"`
	Username string `json:"preferred_username,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs an access token for p. Production tokens come from the
// identity provider; this is used by tests and local tooling.
func Issue(p Principal, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Role:     string(p.Role),
		Username: p.Username,
		Name:     p.Name,
		Email:    p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns the principal it asserts.
func Parse(tokenStr, key, issuer string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Principal{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Principal{}, errors.New("issuer mismatch")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("missing subject")
	}
	role, ok := model.ParseRole(claims.Role)
	if !ok {
		return Principal{}, errors.New("unknown role")
	}
	username := claims.Username
	if username == "" {
		username = claims.Subject
	}
	return Principal{
		ID:       claims.Subject,
		Username: username,
		Name:     claims.Name,
		Email:    claims.Email,
		Role:     role,
	}, nil
}
