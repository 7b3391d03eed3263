package auth

import (
	"context"
	"fmt"
	"time"

	"crewlink/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token body: subject is the user id, role is advisory and
// re-checked against the directory on every connect.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier authenticates bearer tokens presented at connection time.
type Verifier struct {
	secret    []byte
	directory domain.UserDirectory
}

func NewVerifier(secret string, directory domain.UserDirectory) *Verifier {
	return &Verifier{secret: []byte(secret), directory: directory}
}

// Authenticate parses and verifies the token, then resolves the user through
// the directory. It must run before any other per-connection operation.
func (v *Verifier) Authenticate(ctx context.Context, token string) (userID, role string, err error) {
	if token == "" {
		return "", "", fmt.Errorf("%w: empty token", domain.ErrInvalidCredential)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", "", fmt.Errorf("%w: %v", domain.ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return "", "", fmt.Errorf("%w: missing subject", domain.ErrInvalidCredential)
	}

	user, err := v.directory.Resolve(ctx, claims.Subject)
	if err != nil {
		return "", "", fmt.Errorf("%w: resolve %s: %v", domain.ErrInvalidCredential, claims.Subject, err)
	}
	if !user.IsActive {
		return "", "", fmt.Errorf("%w: %s", domain.ErrUserInactive, claims.Subject)
	}

	return user.ID, user.Role, nil
}

// IssueToken signs a token for the user. Used by tests and provisioning
// tooling; the platform's auth service issues production tokens.
func (v *Verifier) IssueToken(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
