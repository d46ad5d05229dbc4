package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleCustomer = "customer"
	RoleVendor   = "vendor"
	RoleAdmin    = "admin"
)

// Claims mirrors the payload the marketplace API signs into access tokens.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// User is the identity decoded from a live access token.
type User struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (u *User) HasRole(roles ...string) bool {
	if u == nil {
		return false
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

var parser = jwt.NewParser(jwt.WithoutClaimsValidation())

// Decode reads the token payload without verifying the signature; the storefront
// never holds the API's signing key. It returns nil for a malformed token, a token
// without an expiry, or one whose expiry is at or before now.
func Decode(token string, now time.Time) *User {
	if token == "" {
		return nil
	}
	var claims Claims
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(now) {
		return nil
	}
	return &User{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}
}

// NewAccessToken signs a token in the API's format. The storefront only uses it
// against local fakes of the API.
func NewAccessToken(userID, email, role, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
